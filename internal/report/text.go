// Package report renders harness runs for humans and machines.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/shineum/smtp-conformance/internal/harness"
)

// Text prints one line per case as the run progresses:
//
//	[OK] <label>
//	[FAIL] <label>: <detail>
//
// framed by a header naming the relay and a completion line naming the
// recipient. Write errors are remembered and returned by Err.
type Text struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

var _ harness.Reporter = (*Text)(nil)

// NewText creates a Text reporter writing to w.
func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

func (t *Text) Start(r *harness.Result) {
	t.printf("Sending test emails via %s:%d\n", r.Host, r.Port)
	t.printf("From: %s -> To: %s\n\n", r.Sender, r.Recipient)
}

func (t *Text) CaseDone(o harness.Outcome) {
	t.printf("%s\n", Line(o))
}

func (t *Text) Finish(r *harness.Result) {
	t.printf("\nDone! Check %s inbox.\n", r.Recipient)
}

// Err returns the first write error, if any.
func (t *Text) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Text) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

// Line formats a single outcome.
func Line(o harness.Outcome) string {
	if o.OK() {
		return fmt.Sprintf("[OK] %s", o.Label)
	}
	return fmt.Sprintf("[FAIL] %s: %s", o.Label, o.Detail)
}
