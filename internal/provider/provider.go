// Package provider defines the delivery sinks behind the stub relay.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/shineum/smtp-conformance/internal/email"
)

// Provider is the interface that delivery sinks must implement.
// The stub relay never forwards mail; providers print, record or refuse it.
type Provider interface {
	// Send delivers an accepted message. A *RejectError becomes the SMTP
	// reply to the final dot; any other error is reported as a transient failure.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// RejectError is a permanent or transient refusal carrying the SMTP reply to send.
type RejectError struct {
	Code    int
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// AsReject extracts a *RejectError from err's chain.
func AsReject(err error) (*RejectError, bool) {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
