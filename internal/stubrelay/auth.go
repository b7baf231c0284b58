// Package stubrelay implements a local SMTP relay endpoint that behaves like
// the relay under test: AUTH with provisioned fallback credentials, delivery
// to a pluggable provider, and reply codes the harness can classify.
package stubrelay

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrAuthFailed is returned when credentials do not match and no fallback applies.
var ErrAuthFailed = errors.New("authentication failed")

// AuthResult describes how a successful AUTH exchange was satisfied.
type AuthResult int

const (
	// AuthMatched means the client presented the configured credentials.
	AuthMatched AuthResult = iota + 1

	// AuthFallback means the client presented empty credentials and the
	// provisioned service credentials were substituted.
	AuthFallback
)

// String returns the label used in logs and metrics.
func (r AuthResult) String() string {
	switch r {
	case AuthMatched:
		return "ok"
	case AuthFallback:
		return "fallback"
	default:
		return "failed"
	}
}

// Authenticator verifies SMTP AUTH credentials against the service
// credentials. Empty client credentials are accepted only when fallback is allowed.
type Authenticator struct {
	username      string
	password      string
	allowFallback bool
}

// NewAuthenticator creates an Authenticator for the given service credentials.
func NewAuthenticator(username, password string, allowFallback bool) *Authenticator {
	return &Authenticator{
		username:      username,
		password:      password,
		allowFallback: allowFallback,
	}
}

// Enabled reports whether service credentials are configured.
// Without them AUTH is not advertised and MAIL is accepted unauthenticated.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// VerifyPlain decodes and checks an AUTH PLAIN response of the form
// base64(authzid \0 authcid \0 password). The authzid is ignored.
func (a *Authenticator) VerifyPlain(encoded string) (AuthResult, error) {
	decoded, err := decodeResponse(encoded)
	if err != nil {
		return 0, fmt.Errorf("invalid base64 encoding")
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid AUTH PLAIN format")
	}

	return a.verify(parts[1], parts[2])
}

// VerifyLogin checks base64-encoded AUTH LOGIN username and password responses.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) (AuthResult, error) {
	user, err := decodeResponse(encodedUser)
	if err != nil {
		return 0, fmt.Errorf("invalid base64 username")
	}

	pass, err := decodeResponse(encodedPass)
	if err != nil {
		return 0, fmt.Errorf("invalid base64 password")
	}

	return a.verify(string(user), string(pass))
}

func (a *Authenticator) verify(user, pass string) (AuthResult, error) {
	if user == "" && pass == "" {
		if a.allowFallback && a.Enabled() {
			return AuthFallback, nil
		}
		return 0, ErrAuthFailed
	}

	if user != a.username || pass != a.password {
		return 0, ErrAuthFailed
	}
	return AuthMatched, nil
}

// decodeResponse decodes a SASL response line. "=" and the empty line both
// denote an empty response.
func decodeResponse(s string) ([]byte, error) {
	if s == "" || s == "=" {
		return []byte{}, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
