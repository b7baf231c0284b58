// Package memory implements a Provider that records accepted messages.
package memory

import (
	"context"
	"sync"

	"github.com/shineum/smtp-conformance/internal/email"
)

// Provider keeps every accepted message in arrival order.
type Provider struct {
	mu       sync.Mutex
	messages []*email.Email
}

// New creates an empty Provider.
func New() *Provider {
	return &Provider{}
}

// Send records msg. It fails only when ctx is already done.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "memory"
}

// Messages returns a snapshot of the recorded messages.
func (p *Provider) Messages() []*email.Email {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*email.Email(nil), p.messages...)
}

// Len returns the number of recorded messages.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// Reset discards all recorded messages.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
