// Package harness delivers the test case catalogue to a relay, one fresh
// SMTP session per case, and classifies each delivery as OK or FAIL.
package harness

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/smtp-conformance/internal/cases"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultHost      = "127.0.0.1"
	DefaultPort      = 2526
	DefaultTimeout   = 30 * time.Second
	DefaultPacing    = time.Second
	DefaultLocalName = "localhost"
)

// Config describes the relay under test and how to talk to it.
// It is passed by value; the Runner keeps its own copy.
type Config struct {
	Host string
	Port int

	// Timeout bounds the connect and every individual SMTP command.
	Timeout time.Duration

	// Pacing is the pause between consecutive cases. Zero means
	// DefaultPacing unless NoPacing is set.
	Pacing   time.Duration
	NoPacing bool

	// LocalName is sent in EHLO.
	LocalName string

	// Username and Password are the AUTH credentials. Both are empty by
	// default so the relay's fallback credential is exercised.
	Username string
	Password string

	// AuthMechanism is "auto", "PLAIN" or "LOGIN".
	AuthMechanism string

	// StartTLS upgrades the session before the final EHLO using TLSConfig.
	StartTLS  bool
	TLSConfig *tls.Config

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	switch {
	case c.NoPacing:
		c.Pacing = 0
	case c.Pacing == 0:
		c.Pacing = DefaultPacing
	}
	if c.LocalName == "" {
		c.LocalName = DefaultLocalName
	}
	if c.AuthMechanism == "" {
		c.AuthMechanism = MechanismAuto
	}
	if c.StartTLS && c.TLSConfig == nil {
		c.TLSConfig = &tls.Config{ServerName: c.Host, MinVersion: tls.VersionTLS12}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative"))
	}
	if c.Pacing < 0 {
		errs = append(errs, fmt.Errorf("pacing must not be negative"))
	}
	switch strings.ToUpper(c.AuthMechanism) {
	case "", strings.ToUpper(MechanismAuto), MechanismPlain, MechanismLogin:
	default:
		errs = append(errs, fmt.Errorf("unsupported auth mechanism %q", c.AuthMechanism))
	}
	return errors.Join(errs...)
}

// Status is the verdict of one case.
type Status string

const (
	StatusOK   Status = "OK"
	StatusFail Status = "FAIL"
)

// Outcome is the result of delivering one case.
type Outcome struct {
	Number   int           `json:"number"`
	Label    string        `json:"label"`
	Status   Status        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Step     Step          `json:"step,omitempty"`
	Kind     Kind          `json:"kind,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// OK reports whether the case passed.
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// Result collects every outcome of a run.
type Result struct {
	RunID     string    `json:"run_id"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Passed returns the number of OK outcomes.
func (r *Result) Passed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of FAIL outcomes.
func (r *Result) Failed() int {
	return len(r.Outcomes) - r.Passed()
}

// Reporter is notified as a run progresses.
type Reporter interface {
	Start(r *Result)
	CaseDone(o Outcome)
	Finish(r *Result)
}

type deliverFunc func(ctx context.Context, cfg Config, log *slog.Logger, sender, recipient string, msg []byte) error

// Runner delivers cases sequentially.
type Runner struct {
	cfg      Config
	reporter Reporter
	log      *slog.Logger

	deliver deliverFunc
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// New validates cfg and returns a Runner. reporter may be nil.
func New(cfg Config, reporter Reporter) (*Runner, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid harness config: %w", err)
	}

	return &Runner{
		cfg:      cfg,
		reporter: reporter,
		log:      cfg.Logger.With("component", "harness"),
		deliver:  deliver,
		sleep:    sleepContext,
		now:      time.Now,
	}, nil
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run delivers every case in order, one session each, pausing between cases
// but not after the last. A failing case never stops the run. If ctx is
// cancelled, the remaining cases are reported as FAIL without being attempted.
func (r *Runner) Run(ctx context.Context, sender, recipient string, tcs []cases.TestCase) *Result {
	res := &Result{
		RunID:     uuid.NewString(),
		Host:      r.cfg.Host,
		Port:      r.cfg.Port,
		Sender:    sender,
		Recipient: recipient,
		Started:   r.now(),
		Outcomes:  make([]Outcome, 0, len(tcs)),
	}
	log := r.log.With("run_id", res.RunID)

	if r.reporter != nil {
		r.reporter.Start(res)
	}
	log.Info("run started",
		"host", r.cfg.Host,
		"port", r.cfg.Port,
		"cases", len(tcs),
		"auth_mechanism", r.cfg.AuthMechanism,
		"starttls", r.cfg.StartTLS,
	)

	for i, tc := range tcs {
		outcome := r.runCase(ctx, log, sender, recipient, tc)
		res.Outcomes = append(res.Outcomes, outcome)
		if r.reporter != nil {
			r.reporter.CaseDone(outcome)
		}

		if i < len(tcs)-1 && ctx.Err() == nil {
			if err := r.sleep(ctx, r.cfg.Pacing); err != nil {
				log.Warn("pacing interrupted", "error", err)
			}
		}
	}

	res.Finished = r.now()
	log.Info("run finished",
		"passed", res.Passed(),
		"failed", res.Failed(),
		"elapsed", res.Finished.Sub(res.Started),
	)
	if r.reporter != nil {
		r.reporter.Finish(res)
	}
	return res
}

func (r *Runner) runCase(ctx context.Context, log *slog.Logger, sender, recipient string, tc cases.TestCase) Outcome {
	out := Outcome{Number: tc.Number, Label: tc.Label}
	log = log.With("case", tc.Label)

	if err := ctx.Err(); err != nil {
		return failed(out, &Error{Kind: UnexpectedError, Step: StepConnect, Err: err})
	}

	start := r.now()
	msg := tc.Build(sender, recipient)
	err := r.deliver(ctx, r.cfg, log, sender, recipient, msg)
	out.Duration = r.now().Sub(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			var herr *Error
			step := StepConnect
			if errors.As(err, &herr) {
				step = herr.Step
			}
			err = &Error{Kind: UnexpectedError, Step: step, Err: ctxErr}
		}
		out = failed(out, err)
		log.Warn("case failed",
			"step", out.Step,
			"kind", out.Kind,
			"error", out.Detail,
			"duration", out.Duration,
		)
		return out
	}

	out.Status = StatusOK
	log.Debug("case delivered", "size", len(msg), "duration", out.Duration)
	return out
}

func failed(out Outcome, err error) Outcome {
	out.Status = StatusFail
	out.Detail = err.Error()
	out.Kind = KindOf(err)

	var herr *Error
	if errors.As(err, &herr) {
		out.Step = herr.Step
	}
	return out
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
