package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
)

// Supported values for Config.AuthMechanism.
const (
	MechanismAuto  = "auto"
	MechanismPlain = sasl.Plain
	MechanismLogin = sasl.Login
)

var errUnexpectedChallenge = errors.New("unexpected server challenge")

// loginClient is a challenge-driven LOGIN client. It sends no initial
// response and answers the username and password prompts in order, sending
// empty lines for empty credentials.
type loginClient struct {
	username string
	password string
	step     int
}

func newLoginClient(username, password string) sasl.Client {
	return &loginClient{username: username, password: password}
}

func (c *loginClient) Start() (string, []byte, error) {
	return sasl.Login, nil, nil
}

// Next returns a non-nil response even when empty, so the exchange keeps going.
func (c *loginClient) Next(challenge []byte) ([]byte, error) {
	c.step++
	switch c.step {
	case 1:
		return append([]byte{}, c.username...), nil
	case 2:
		return append([]byte{}, c.password...), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnexpectedChallenge, challenge)
	}
}

// selectMechanism picks the SASL mechanism for the placeholder AUTH step.
// advertised is the parameter list of the EHLO AUTH keyword.
// "auto" prefers PLAIN and falls back to LOGIN.
func selectMechanism(want, advertised string) (string, error) {
	offered := map[string]bool{}
	for _, m := range strings.Fields(advertised) {
		offered[strings.ToUpper(m)] = true
	}
	if len(offered) == 0 {
		return "", ErrNoAuth
	}

	switch strings.ToUpper(want) {
	case "", strings.ToUpper(MechanismAuto):
		switch {
		case offered[sasl.Plain]:
			return sasl.Plain, nil
		case offered[sasl.Login]:
			return sasl.Login, nil
		}
		return "", fmt.Errorf("%w (offered: %s)", ErrNoAuth, advertised)
	case sasl.Plain:
		return sasl.Plain, nil
	case sasl.Login:
		return sasl.Login, nil
	default:
		return "", fmt.Errorf("unsupported AUTH mechanism %q", want)
	}
}

// saslClient returns the client for mechanism with the given credentials.
func saslClient(mechanism, username, password string) sasl.Client {
	if mechanism == sasl.Login {
		return newLoginClient(username, password)
	}
	return sasl.NewPlainClient("", username, password)
}
