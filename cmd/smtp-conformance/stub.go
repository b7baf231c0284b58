package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/smtp-conformance/internal/provider"
	"github.com/shineum/smtp-conformance/internal/provider/reject"
	"github.com/shineum/smtp-conformance/internal/provider/stdout"
	"github.com/shineum/smtp-conformance/internal/stubrelay"
	smtptls "github.com/shineum/smtp-conformance/internal/tls"
)

const metricsShutdownTimeout = 5 * time.Second

type stubOptions struct {
	listen        string
	metricsListen string
	rejectSubject string
	mechanisms    []string
	noFallback    bool
}

func newStubCmd(a *app) *cobra.Command {
	opts := &stubOptions{}

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run a local stand-in relay for dry runs",
		Long: `Runs a local SMTP endpoint that behaves like the relay under test: it accepts
AUTH with empty credentials by falling back to its service credential, parses
each message and prints it to stdout instead of forwarding it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return runStub(cmd.Context(), cmd, a, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.listen, "listen", "", "SMTP listen address (default from config, :2526)")
	f.StringVar(&opts.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	f.StringVar(&opts.rejectSubject, "reject-subject", "", "reject messages whose subject contains this marker with 554")
	f.StringSliceVar(&opts.mechanisms, "mechanisms", nil, "advertised AUTH mechanisms (default PLAIN,LOGIN)")
	f.BoolVar(&opts.noFallback, "no-fallback", false, "reject AUTH with empty credentials")
	return cmd
}

func runStub(ctx context.Context, cmd *cobra.Command, a *app, opts *stubOptions) error {
	sc := a.cfg.Stub
	f := cmd.Flags()
	if f.Changed("listen") {
		sc.Listen = opts.listen
	}
	if f.Changed("metrics-listen") {
		sc.MetricsListen = opts.metricsListen
	}
	if f.Changed("reject-subject") {
		sc.RejectSubject = opts.rejectSubject
	}
	if f.Changed("mechanisms") {
		sc.Mechanisms = opts.mechanisms
	}
	if opts.noFallback {
		sc.AllowFallback = false
	}
	for i, m := range sc.Mechanisms {
		sc.Mechanisms[i] = strings.ToUpper(m)
	}

	// Without a provisioned credential the stub would not advertise AUTH,
	// so generate a throwaway one.
	if !a.cfg.StubAuthEnabled() {
		sc.Username = "stub"
		sc.Password = uuid.NewString()
		a.log.Info("generated stub service credential", "username", sc.Username)
	}

	tlsConfig, err := smtptls.ServerConfig(a.cfg.TLS.CertFile, a.cfg.TLS.KeyFile)
	if err != nil {
		return err
	}
	tlsMode := "self-signed"
	if a.cfg.TLS.CertFile != "" && a.cfg.TLS.KeyFile != "" {
		tlsMode = "file"
	}

	var prov provider.Provider = stdout.NewWithWriter(a.stdout)
	if sc.RejectSubject != "" {
		prov = reject.New(reject.Config{SubjectMarker: sc.RejectSubject}, prov)
	}

	metrics := stubrelay.NewMetrics()
	server := stubrelay.New(stubrelay.ServerConfig{
		ListenAddr:    sc.Listen,
		Hostname:      sc.Hostname,
		Provider:      prov,
		TLSConfig:     tlsConfig,
		AuthUsername:  sc.Username,
		AuthPassword:  sc.Password,
		AllowFallback: sc.AllowFallback,
		Mechanisms:    sc.Mechanisms,
		Metrics:       metrics,
		Logger:        a.log,
	})

	a.log.Info("starting stub relay",
		"listen", sc.Listen,
		"provider", prov.Name(),
		"mechanisms", sc.Mechanisms,
		"allow_fallback", sc.AllowFallback,
		"tls_mode", tlsMode,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	if sc.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		httpServer := &http.Server{
			Addr:              sc.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			a.log.Info("serving metrics", "listen", sc.MetricsListen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("stub relay stopped")
	return nil
}
