// Package main is the entry point for the SMTP relay conformance harness.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/smtp-conformance/internal/config"
)

// app carries what every subcommand needs.
type app struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger

	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}

// execute runs the command line in args. Errors are printed to stderr,
// followed by the usage text unless the failing command had already
// accepted its arguments.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	cmd, err := root.ExecuteContextC(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if !cmd.SilenceUsage {
			fmt.Fprintf(stderr, "\n%s", cmd.UsageString())
		}
	}
	return err
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "smtp-conformance",
		Short: "SMTP relay conformance harness",
		Long: `Sends a fixed catalogue of MIME edge-case messages through an SMTP relay,
one session per message, and reports which ones the relay accepted.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = setupLogger(cfg.Logging.Level, a.stderr)
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SilenceErrors = true
	root.SilenceUsage = true
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to YAML configuration file (optional)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newStubCmd(a))
	return root
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level. Logs go to w, never to the report stream.
func setupLogger(level string, w io.Writer) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
