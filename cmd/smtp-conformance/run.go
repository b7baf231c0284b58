package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shineum/smtp-conformance/internal/cases"
	"github.com/shineum/smtp-conformance/internal/harness"
	"github.com/shineum/smtp-conformance/internal/report"
	smtptls "github.com/shineum/smtp-conformance/internal/tls"
)

type runOptions struct {
	only          []string
	jsonSummary   string
	pacing        time.Duration
	timeout       time.Duration
	startTLS      bool
	insecure      bool
	authMechanism string
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <sender> <recipient> [host] [port]",
		Short: "Send the test case catalogue through a relay",
		Long: `Sends each test case to the relay in its own SMTP session and prints
one [OK] or [FAIL] line per case. Failing cases do not change the exit status.`,
		Example: `  smtp-conformance run alerts@example.com ops@example.com
  smtp-conformance run alerts@example.com ops@example.com relay.internal 25 --only 3,5`,
		Args: cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarness(cmd, a, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.only, "only", nil, "run only these cases, by number or label (e.g. 3,5)")
	f.StringVar(&opts.jsonSummary, "json-summary", "", `write a JSON summary to this path ("-" for stdout)`)
	f.DurationVar(&opts.pacing, "pacing", harness.DefaultPacing, "pause between cases")
	f.DurationVar(&opts.timeout, "timeout", harness.DefaultTimeout, "connect and per-command timeout")
	f.BoolVar(&opts.startTLS, "starttls", false, "upgrade each session with STARTTLS")
	f.BoolVar(&opts.insecure, "insecure", false, "skip relay certificate verification")
	f.StringVar(&opts.authMechanism, "auth-mechanism", harness.MechanismAuto, "AUTH mechanism: auto, PLAIN or LOGIN")
	return cmd
}

func runHarness(cmd *cobra.Command, a *app, opts *runOptions, args []string) error {
	hcfg, err := harnessConfig(cmd, a, opts, args)
	if err != nil {
		return err
	}

	tcs := cases.Catalogue()
	if len(opts.only) > 0 {
		if tcs, err = cases.Select(opts.only); err != nil {
			return err
		}
	}

	// Arguments are valid from here on; case failures are reported, not returned.
	cmd.SilenceUsage = true

	text := report.NewText(a.stdout)
	runner, err := harness.New(hcfg, text)
	if err != nil {
		return err
	}

	res := runner.Run(cmd.Context(), args[0], args[1], tcs)
	if err := text.Err(); err != nil {
		a.log.Error("failed to write report", "error", err)
	}

	if opts.jsonSummary != "" {
		if err := report.WriteJSONFile(opts.jsonSummary, res); err != nil {
			a.log.Error("failed to write summary", "path", opts.jsonSummary, "error", err)
		}
	}
	return nil
}

// harnessConfig layers positional arguments and explicitly set flags over
// the loaded configuration.
func harnessConfig(cmd *cobra.Command, a *app, opts *runOptions, args []string) (harness.Config, error) {
	rc := a.cfg.Relay
	f := cmd.Flags()

	if len(args) > 2 {
		rc.Host = args[2]
	}
	if len(args) > 3 {
		port, err := strconv.Atoi(args[3])
		if err != nil || port < 1 || port > 65535 {
			return harness.Config{}, fmt.Errorf("invalid port %q", args[3])
		}
		rc.Port = port
	}
	if f.Changed("pacing") {
		rc.Pacing = opts.pacing
	}
	if f.Changed("timeout") {
		rc.Timeout = opts.timeout
	}
	if f.Changed("starttls") {
		rc.StartTLS = opts.startTLS
	}
	if f.Changed("insecure") {
		rc.TLSInsecure = opts.insecure
	}
	if f.Changed("auth-mechanism") {
		rc.AuthMechanism = opts.authMechanism
	}

	hcfg := harness.Config{
		Host:          rc.Host,
		Port:          rc.Port,
		Timeout:       rc.Timeout,
		Pacing:        rc.Pacing,
		NoPacing:      rc.Pacing == 0,
		LocalName:     rc.LocalName,
		Username:      rc.Username,
		Password:      rc.Password,
		AuthMechanism: rc.AuthMechanism,
		StartTLS:      rc.StartTLS,
		Logger:        a.log,
	}

	if rc.StartTLS {
		serverName := rc.ServerName
		if serverName == "" {
			serverName = rc.Host
		}
		tlsConfig, err := smtptls.ClientConfig(smtptls.ClientOptions{
			ServerName: serverName,
			CAFile:     rc.CAFile,
			Insecure:   rc.TLSInsecure,
		})
		if err != nil {
			return harness.Config{}, err
		}
		hcfg.TLSConfig = tlsConfig
	}

	if err := hcfg.Validate(); err != nil {
		return harness.Config{}, err
	}
	return hcfg, nil
}
