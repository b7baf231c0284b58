package stubrelay

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shineum/smtp-conformance/internal/provider"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for a stub relay.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:2526").
	ListenAddr string

	// Hostname is used in the greeting and EHLO responses.
	Hostname string

	// Provider receives every accepted message.
	Provider provider.Provider

	// TLSConfig enables STARTTLS when non-nil.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword are the provisioned service credentials.
	// If either is empty, AUTH is not advertised.
	AuthUsername string
	AuthPassword string

	// AllowFallback substitutes the service credentials when a client
	// authenticates with an empty username and password.
	AllowFallback bool

	// Mechanisms lists the advertised SASL mechanisms. Defaults to PLAIN LOGIN.
	Mechanisms []string

	// Metrics is optional.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server accepts SMTP connections and runs one Session per connection.
type Server struct {
	config ServerConfig
	auth   *Authenticator
	log    *slog.Logger

	mu       sync.Mutex
	listener net.Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword, cfg.AllowFallback),
		log:    cfg.Logger.With("component", "stubrelay"),
	}
}

// Listen binds the listening socket. Addr is valid once it returns.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// ListenAndServe binds the socket and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections on the bound listener until ctx is cancelled,
// then waits up to 30 seconds for in-flight sessions to complete.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("stub relay: Serve called before Listen")
	}

	s.log.Info("stub relay listening",
		"addr", ln.Addr().String(),
		"provider", s.config.Provider.Name(),
		"auth_enabled", s.auth.Enabled(),
		"fallback", s.config.AllowFallback,
		"tls_enabled", s.config.TLSConfig != nil,
	)

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down stub relay")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.waitForSessions()
				return nil
			default:
				s.log.Error("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			session := NewSession(conn, s.auth, s.config.Provider, SessionOptions{
				Hostname:   s.config.Hostname,
				Mechanisms: s.config.Mechanisms,
				TLSConfig:  s.config.TLSConfig,
				Metrics:    s.config.Metrics,
				Logger:     s.log,
			})
			session.Handle(ctx)
		}()
	}
}

// waitForSessions waits for in-flight sessions, bounded by shutdownTimeout.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		s.log.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
