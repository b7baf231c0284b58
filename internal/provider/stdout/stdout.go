// Package stdout implements a Provider that prints accepted messages.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/smtp-conformance/internal/email"
)

const rule = "----------------------------------------\n"

// Provider prints a summary of each accepted message to its writer.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider that writes to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the envelope, decoded headers, body and attachment list.
// Sessions run concurrently, so each message is written in one call.
func (p *Provider) Send(_ context.Context, msg *email.Email) error {
	var b strings.Builder

	b.WriteString(rule)
	fmt.Fprintf(&b, "Queue-ID: %s\n", msg.QueueID)
	fmt.Fprintf(&b, "Envelope: %s -> %s\n", msg.MailFrom, strings.Join(msg.RcptTo, ", "))
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Content-Type: %s\n", msg.ContentType)

	body := msg.TextBody
	if body == "" {
		body = msg.HTMLBody
	}
	if body == "" {
		b.WriteString("Body: (empty)\n")
	} else {
		b.WriteString("Body:\n" + strings.TrimRight(body, "\r\n") + "\n")
	}

	if msg.HasAttachments() {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	b.WriteString(rule)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("stdout: write message: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count for display.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
