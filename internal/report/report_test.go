package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-conformance/internal/harness"
)

func sampleResult() *harness.Result {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &harness.Result{
		RunID:     "run-1",
		Host:      "127.0.0.1",
		Port:      2526,
		Sender:    "s@example.com",
		Recipient: "r@example.com",
		Started:   started,
		Finished:  started.Add(3 * time.Second),
		Outcomes: []harness.Outcome{
			{Number: 1, Label: "Test 1 - Plain text", Status: harness.StatusOK},
			{
				Number: 5,
				Label:  "Test 5 - Attachment",
				Status: harness.StatusFail,
				Detail: "data: 554 5.7.1 Rejected",
				Step:   harness.StepData,
				Kind:   harness.ProtocolError,
			},
		},
	}
}

func TestText_Run(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	rep := NewText(&buf)
	res := sampleResult()

	rep.Start(res)
	for _, o := range res.Outcomes {
		rep.CaseDone(o)
	}
	rep.Finish(res)

	want := "Sending test emails via 127.0.0.1:2526\n" +
		"From: s@example.com -> To: r@example.com\n" +
		"\n" +
		"[OK] Test 1 - Plain text\n" +
		"[FAIL] Test 5 - Attachment: data: 554 5.7.1 Rejected\n" +
		"\n" +
		"Done! Check r@example.com inbox.\n"
	assert.Equal(t, want, buf.String())
	assert.NoError(t, rep.Err())
}

type failingWriter struct{ n int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("disk full")
}

func TestText_WriteErrorIsSticky(t *testing.T) {
	t.Parallel()

	w := &failingWriter{}
	rep := NewText(w)
	res := sampleResult()

	rep.Start(res)
	rep.CaseDone(res.Outcomes[0])
	rep.Finish(res)

	assert.EqualError(t, rep.Err(), "disk full")
	assert.Equal(t, 1, w.n, "writes stop after the first failure")
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleResult()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, float64(1), got["passed"])
	assert.Equal(t, float64(1), got["failed"])

	outcomes, ok := got["outcomes"].([]any)
	require.True(t, ok)
	require.Len(t, outcomes, 2)
	failed := outcomes[1].(map[string]any)
	assert.Equal(t, "FAIL", failed["status"])
	assert.Equal(t, "data", failed["step"])
	assert.Equal(t, "ProtocolError", failed["kind"])

	passed := outcomes[0].(map[string]any)
	assert.NotContains(t, passed, "detail")
}

func TestWriteJSONFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, WriteJSONFile(path, sampleResult()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"recipient": "r@example.com"`)

	err = WriteJSONFile(filepath.Join(t.TempDir(), "missing", "summary.json"), sampleResult())
	assert.Error(t, err)
}
