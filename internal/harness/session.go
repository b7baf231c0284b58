package harness

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/emersion/go-smtp"
)

// deliver runs one complete SMTP session for a single message: connect,
// optional STARTTLS, EHLO, AUTH with the configured credentials, MAIL, RCPT,
// DATA and QUIT. The returned error, if any, is an *Error.
func deliver(ctx context.Context, cfg Config, log *slog.Logger, sender, recipient string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classify(StepConnect, err)
	}

	// Cancelling ctx unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := newClient(conn, cfg)
	if err != nil {
		return err
	}
	c.CommandTimeout = cfg.Timeout
	c.SubmissionTimeout = cfg.Timeout
	defer c.Close()

	if err := c.Hello(cfg.LocalName); err != nil {
		if cfg.StartTLS && isHandshakeError(err) {
			return classify(StepStartTLS, err)
		}
		return classify(StepEHLO, err)
	}
	if cfg.StartTLS {
		log.Debug("STARTTLS negotiated")
	}

	_, advertised := c.Extension("AUTH")
	mechanism, err := selectMechanism(cfg.AuthMechanism, advertised)
	if err != nil {
		return classify(StepAuth, err)
	}
	if err := c.Auth(saslClient(mechanism, cfg.Username, cfg.Password)); err != nil {
		return classify(StepAuth, err)
	}
	log.Debug("authenticated", "mechanism", mechanism)

	if err := c.Mail(sender, nil); err != nil {
		return classify(StepMail, err)
	}
	if err := c.Rcpt(recipient, nil); err != nil {
		return classify(StepRcpt, err)
	}

	w, err := c.Data()
	if err != nil {
		return classify(StepData, err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return classify(StepData, err)
	}
	if err := w.Close(); err != nil {
		return classify(StepData, err)
	}

	if err := c.Quit(); err != nil {
		return classify(StepQuit, err)
	}
	return nil
}

// newClient wraps conn in an SMTP client. With STARTTLS enabled the greeting,
// a pre-TLS EHLO and the upgrade all happen here, bounded by cfg.Timeout as a
// whole; the caller's Hello then runs over the encrypted channel.
func newClient(conn net.Conn, cfg Config) (*smtp.Client, error) {
	if !cfg.StartTLS {
		return smtp.NewClient(conn), nil
	}

	timer := time.AfterFunc(cfg.Timeout, func() { conn.Close() })
	c, err := smtp.NewClientStartTLS(conn, cfg.TLSConfig)
	if !timer.Stop() && err == nil {
		c.Close()
		err = os.ErrDeadlineExceeded
	}
	if err != nil {
		conn.Close()
		return nil, classify(StepStartTLS, err)
	}
	return c, nil
}

// isHandshakeError reports whether err came from the TLS handshake, which
// runs lazily on the first command after STARTTLS.
func isHandshakeError(err error) bool {
	var (
		alert    tls.AlertError
		record   tls.RecordHeaderError
		verify   *tls.CertificateVerificationError
		unknown  x509.UnknownAuthorityError
		hostname x509.HostnameError
	)
	return errors.As(err, &alert) || errors.As(err, &record) || errors.As(err, &verify) ||
		errors.As(err, &unknown) || errors.As(err, &hostname)
}
