package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shineum/smtp-conformance/internal/harness"
)

// Summary is the machine-readable form of a run.
type Summary struct {
	*harness.Result
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// NewSummary wraps r with its totals.
func NewSummary(r *harness.Result) Summary {
	return Summary{Result: r, Passed: r.Passed(), Failed: r.Failed()}
}

// WriteJSON encodes the summary of r to w as indented JSON.
func WriteJSON(w io.Writer, r *harness.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewSummary(r)); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

// WriteJSONFile writes the summary of r to path. A path of "-" writes to stdout.
func WriteJSONFile(path string, r *harness.Result) error {
	if path == "-" {
		return WriteJSON(os.Stdout, r)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	if err := WriteJSON(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close summary file: %w", err)
	}
	return nil
}
