package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-conformance/internal/provider/memory"
	"github.com/shineum/smtp-conformance/internal/stubrelay"
)

func runCLI(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	err = execute(ctx, args, &out, &errOut)
	return out.String(), errOut.String(), err
}

func startStub(t *testing.T) (host, port string, sink *memory.Provider) {
	t.Helper()

	sink = memory.New()
	srv := stubrelay.New(stubrelay.ServerConfig{
		ListenAddr:    "127.0.0.1:0",
		Provider:      sink,
		AuthUsername:  "svc",
		AuthPassword:  "secret",
		AllowFallback: true,
		Mechanisms:    []string{"LOGIN"},
	})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	host, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	return host, port, sink
}

func TestRun_MissingArguments(t *testing.T) {
	_, stderr, err := runCLI(context.Background(), "run", "only-sender@example.com")

	require.Error(t, err)
	assert.Contains(t, stderr, "Usage:")
	assert.Contains(t, stderr, "run <sender> <recipient> [host] [port]")
}

func TestRun_InvalidPort(t *testing.T) {
	_, stderr, err := runCLI(context.Background(), "run", "s@example.com", "r@example.com", "127.0.0.1", "smtp")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid port "smtp"`)
	assert.Contains(t, stderr, "Usage:")
}

func TestRun_UnknownCase(t *testing.T) {
	_, _, err := runCLI(context.Background(), "run", "s@example.com", "r@example.com", "--only", "42")
	assert.Error(t, err)
}

func TestRun_AgainstStub(t *testing.T) {
	host, port, sink := startStub(t)
	summary := filepath.Join(t.TempDir(), "summary.json")

	stdout, _, err := runCLI(context.Background(),
		"run", "s@example.com", "r@example.com", host, port,
		"--pacing", "0s", "--timeout", "5s", "--json-summary", summary,
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	require.Len(t, lines, 15)
	assert.Equal(t, "Sending test emails via "+host+":"+port, lines[0])
	assert.Equal(t, "From: s@example.com -> To: r@example.com", lines[1])
	assert.Empty(t, lines[2])
	assert.Equal(t, "[OK] Test 1 - Plain text", lines[3])
	for _, line := range lines[3:13] {
		assert.True(t, strings.HasPrefix(line, "[OK] "), line)
	}
	assert.Empty(t, lines[13])
	assert.Equal(t, "Done! Check r@example.com inbox.", lines[14])
	assert.Equal(t, 10, sink.Len())

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	var got struct {
		Passed int `json:"passed"`
		Failed int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 10, got.Passed)
	assert.Equal(t, 0, got.Failed)
}

func TestRun_FailuresKeepExitStatusZero(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	stdout, _, err := runCLI(context.Background(),
		"run", "s@example.com", "r@example.com", "127.0.0.1", port,
		"--pacing", "0s", "--only", "1,2",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "[FAIL] Test 1 - Plain text: connect: ")
	assert.Contains(t, stdout, "[FAIL] Test 2 - HTML: connect: ")
	assert.Contains(t, stdout, "Done! Check r@example.com inbox.")
}

func TestStub_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, stderr, err := runCLI(ctx, "stub", "--listen", "127.0.0.1:0", "--reject-subject", "[Test 5]")
	assert.NoError(t, err)
	assert.Contains(t, stderr, "generated stub service credential")
}

func TestStub_ProvisionedCredentialKept(t *testing.T) {
	t.Setenv("STUB_USERNAME", "svc")
	t.Setenv("STUB_PASSWORD", "secret")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, stderr, err := runCLI(ctx, "stub", "--listen", "127.0.0.1:0")
	assert.NoError(t, err)
	assert.NotContains(t, stderr, "generated stub service credential")
}

func TestSetupLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := setupLogger("warn", &buf)

	log.Info("hidden")
	log.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"key":"value"`)
}
