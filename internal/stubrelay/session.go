package stubrelay

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shineum/smtp-conformance/internal/parser"
	"github.com/shineum/smtp-conformance/internal/provider"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
	stateDone
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// maxMessageSize is the SIZE advertised in EHLO (10 MB).
const maxMessageSize = 10 * 1024 * 1024

// errAuthAborted ends an AUTH exchange without a verdict.
var errAuthAborted = errors.New("authentication aborted")

// SessionOptions carries the per-server settings every session shares.
type SessionOptions struct {
	Hostname   string
	Mechanisms []string
	TLSConfig  *tls.Config
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Session is one SMTP client connection driven through the state machine.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    int
	auth     *Authenticator
	provider provider.Provider
	opts     SessionOptions
	log      *slog.Logger

	tlsActive bool

	// Current transaction
	mailFrom string
	rcptTo   []string
}

// NewSession creates a session for conn. Zero-value options fall back to
// hostname "localhost", mechanisms PLAIN and LOGIN, and the default logger.
func NewSession(conn net.Conn, auth *Authenticator, prov provider.Provider, opts SessionOptions) *Session {
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}
	if len(opts.Mechanisms) == 0 {
		opts.Mechanisms = []string{"PLAIN", "LOGIN"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Session{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		state:    stateConnected,
		auth:     auth,
		provider: prov,
		opts:     opts,
		log:      opts.Logger.With("remote", conn.RemoteAddr().String()),
	}
}

// Handle runs the session until the client quits, disconnects or ctx ends.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	if m := s.opts.Metrics; m != nil {
		m.SessionsTotal.Inc()
		m.SessionsActive.Inc()
		defer m.SessionsActive.Dec()
	}

	s.writeLine("220 %s ESMTP smtp-conformance stub", s.opts.Hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			s.log.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.log.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if s.handleCommand(ctx, cmd, arg) {
			return
		}
	}
}

// handleCommand processes a single command and reports whether the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.state = stateDone
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	if s.state < stateGreeted {
		s.state = stateGreeted
	}

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.opts.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.opts.Hostname, arg)
	if s.opts.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.auth.Enabled() {
		s.writeLine("250-AUTH %s", strings.Join(s.opts.Mechanisms, " "))
	}
	s.writeLine("250-SIZE %d", maxMessageSize)
	s.writeLine("250 OK")
}

func (s *Session) handleSTARTTLS() {
	if s.opts.TLSConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.opts.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.log.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
}

func (s *Session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}
	if s.state >= stateAuthOK {
		s.writeLine("503 Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")
	mechanism = strings.ToUpper(mechanism)
	if !s.advertises(mechanism) {
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	var (
		result AuthResult
		err    error
	)
	switch mechanism {
	case "PLAIN":
		result, err = s.authPlain(initial)
	case "LOGIN":
		result, err = s.authLogin(initial)
	}
	if errors.Is(err, errAuthAborted) {
		return
	}
	if err != nil {
		s.countAuth(mechanism, "failed")
		s.log.Info("authentication failed", "mechanism", mechanism, "error", err)
		s.writeLine("535 Authentication failed")
		return
	}

	s.countAuth(mechanism, result.String())
	s.log.Info("authenticated", "mechanism", mechanism, "result", result.String())
	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

// authPlain runs AUTH PLAIN with an inline or challenged response.
func (s *Session) authPlain(initial string) (AuthResult, error) {
	encoded := initial
	if encoded == "" {
		line, err := s.challenge("334 ")
		if err != nil {
			return 0, err
		}
		encoded = line
	}
	return s.auth.VerifyPlain(encoded)
}

// authLogin runs AUTH LOGIN. The username may arrive inline with the command.
func (s *Session) authLogin(initial string) (AuthResult, error) {
	encodedUser := initial
	if encodedUser == "" {
		line, err := s.challenge("334 VXNlcm5hbWU6")
		if err != nil {
			return 0, err
		}
		encodedUser = line
	}

	encodedPass, err := s.challenge("334 UGFzc3dvcmQ6")
	if err != nil {
		return 0, err
	}
	return s.auth.VerifyLogin(encodedUser, encodedPass)
}

// challenge sends a 334 prompt and reads the client response.
// A "*" response cancels the exchange with 501.
func (s *Session) challenge(prompt string) (string, error) {
	s.writeLine("%s", prompt)
	line, err := s.reader.ReadString('\n')
	if err != nil {
		s.log.Error("failed to read AUTH response", "error", err)
		return "", errAuthAborted
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "*" {
		s.writeLine("501 Authentication cancelled")
		return "", errAuthAborted
	}
	return line, nil
}

func (s *Session) advertises(mechanism string) bool {
	for _, m := range s.opts.Mechanisms {
		if strings.EqualFold(m, mechanism) {
			return true
		}
	}
	return false
}

func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}
	if s.state >= stateMailFrom {
		s.writeLine("503 Nested MAIL command")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addr, ok := extractAddress(arg[5:])
	if !ok {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr, ok := extractAddress(arg[3:])
	if !ok || addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the payload up to the lone dot, parses it and hands it
// to the provider. The reply reflects the provider's verdict.
func (s *Session) handleDATA(ctx context.Context) {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.log.Error("error reading DATA", "error", err)
			return
		}

		if strings.TrimRight(line, "\r\n") == "." {
			break
		}

		// Undo dot-stuffing.
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}
		data.WriteString(line)
	}
	defer s.resetTransaction()

	raw := []byte(data.String())
	if m := s.opts.Metrics; m != nil {
		m.MessageSize.Observe(float64(len(raw)))
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		s.log.Error("failed to parse message", "error", err)
		s.reject(550, "Failed to process message")
		return
	}

	msg.MailFrom = s.mailFrom
	msg.RcptTo = append([]string(nil), s.rcptTo...)
	msg.QueueID = ulid.Make().String()
	if msg.From == "" {
		msg.From = s.mailFrom
	}
	if len(msg.To) == 0 {
		msg.To = msg.RcptTo
	}

	if err := s.provider.Send(ctx, msg); err != nil {
		if rej, ok := provider.AsReject(err); ok {
			s.log.Info("message rejected by provider",
				"provider", s.provider.Name(),
				"code", rej.Code,
				"subject", msg.Subject,
			)
			s.reject(rej.Code, rej.Message)
			return
		}

		s.log.Error("provider send failed",
			"provider", s.provider.Name(),
			"error", err,
		)
		s.reject(451, "Temporary failure, please try again later")
		return
	}

	if m := s.opts.Metrics; m != nil {
		m.MessagesAccepted.Inc()
	}
	s.log.Info("message queued",
		"queue_id", msg.QueueID,
		"from", msg.MailFrom,
		"rcpt", msg.RcptTo,
		"subject", msg.Subject,
		"size", len(raw),
	)
	s.writeLine("250 OK queued as %s", msg.QueueID)
}

func (s *Session) reject(code int, message string) {
	if m := s.opts.Metrics; m != nil {
		m.MessagesRejected.WithLabelValues(fmt.Sprint(code)).Inc()
	}
	s.writeLine("%d %s", code, message)
}

func (s *Session) countAuth(mechanism, result string) {
	if m := s.opts.Metrics; m != nil {
		m.AuthAttempts.WithLabelValues(mechanism, result).Inc()
	}
}

// resetTransaction clears the mail transaction but keeps greeting and auth state.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	if s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by CRLF.
func (s *Session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		s.log.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.log.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits a command line into the upper-cased verb and its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// extractAddress returns the address from a MAIL or RCPT parameter in
// angle-bracket or bare form, dropping any ESMTP parameters. The null
// reverse-path "<>" yields an empty address.
func extractAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", false
		}
		return s[1:end], true
	}

	addr, _, _ := strings.Cut(s, " ")
	return addr, addr != ""
}
