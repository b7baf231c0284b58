package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/emersion/go-smtp"
)

// Kind classifies why a case failed.
type Kind string

const (
	// ConnectionError means the relay could not be reached or the
	// connection broke or timed out mid-session.
	ConnectionError Kind = "ConnectionError"

	// ProtocolError means the relay answered a command with a rejection.
	ProtocolError Kind = "ProtocolError"

	// UnexpectedError is any other fault during the session.
	UnexpectedError Kind = "UnexpectedError"
)

// Step names the phase of the session in which an error occurred.
type Step string

const (
	StepConnect  Step = "connect"
	StepEHLO     Step = "ehlo"
	StepStartTLS Step = "starttls"
	StepAuth     Step = "auth"
	StepMail     Step = "mail"
	StepRcpt     Step = "rcpt"
	StepData     Step = "data"
	StepQuit     Step = "quit"
)

// ErrNoAuth is returned when the relay advertises no usable AUTH mechanism.
var ErrNoAuth = errors.New("server does not advertise a supported AUTH mechanism")

// Error is a classified session failure.
type Error struct {
	Kind Kind
	Step Step
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, describe(e.Err))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify wraps err with its kind and the step it happened in.
// A nil err yields nil.
func classify(step Step, err error) error {
	if err == nil {
		return nil
	}

	var herr *Error
	if errors.As(err, &herr) {
		return herr
	}

	kind := kindOf(err)
	// A relay that lacks STARTTLS or fails the handshake has refused the
	// upgrade, which go-smtp reports as a plain or crypto/tls error.
	if step == StepStartTLS && kind == UnexpectedError && !errors.Is(err, context.Canceled) {
		kind = ProtocolError
	}
	return &Error{Kind: kind, Step: step, Err: err}
}

func kindOf(err error) Kind {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return ProtocolError
	}
	if errors.Is(err, ErrNoAuth) || errors.Is(err, errUnexpectedChallenge) {
		return ProtocolError
	}

	if errors.Is(err, context.Canceled) {
		return UnexpectedError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ConnectionError
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed) {
		return ConnectionError
	}

	return UnexpectedError
}

// describe renders err for the report. SMTP rejections print as
// "<code> [<enhanced code>] <message>".
func describe(err error) string {
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) {
		return err.Error()
	}

	s := fmt.Sprintf("%d", smtpErr.Code)
	if ec := smtpErr.EnhancedCode; ec[0] > 0 {
		s += fmt.Sprintf(" %d.%d.%d", ec[0], ec[1], ec[2])
	}
	if smtpErr.Message != "" {
		s += " " + smtpErr.Message
	}
	return s
}

// KindOf reports the kind of a harness error, or UnexpectedError for
// errors that were not produced by a session.
func KindOf(err error) Kind {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Kind
	}
	return UnexpectedError
}
