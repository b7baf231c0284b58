// Package reject implements a Provider that refuses messages whose subject
// contains a marker and passes the rest to another provider.
package reject

import (
	"context"
	"fmt"
	"strings"

	"github.com/shineum/smtp-conformance/internal/email"
	"github.com/shineum/smtp-conformance/internal/provider"
)

// DefaultCode is the reply used when Config.Code is zero.
const DefaultCode = 554

// Config selects which messages are refused and how.
type Config struct {
	// SubjectMarker is matched case-sensitively against the decoded subject.
	// An empty marker rejects nothing.
	SubjectMarker string

	// Code is the SMTP reply code. Defaults to 554.
	Code int

	// Message is the reply text. Defaults to a description of the match.
	Message string
}

// Provider wraps next and rejects matching messages with a *provider.RejectError.
type Provider struct {
	cfg  Config
	next provider.Provider
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider in front of next.
func New(cfg Config, next provider.Provider) *Provider {
	if cfg.Code == 0 {
		cfg.Code = DefaultCode
	}
	if cfg.Message == "" {
		cfg.Message = fmt.Sprintf("5.7.1 Rejected: subject matches %q", cfg.SubjectMarker)
	}
	return &Provider{cfg: cfg, next: next}
}

// Send rejects a matching message or delegates to the wrapped provider.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	if p.cfg.SubjectMarker != "" && strings.Contains(msg.Subject, p.cfg.SubjectMarker) {
		return &provider.RejectError{Code: p.cfg.Code, Message: p.cfg.Message}
	}
	return p.next.Send(ctx, msg)
}

// Name returns the provider name, including the wrapped provider.
func (p *Provider) Name() string {
	return "reject(" + p.next.Name() + ")"
}
