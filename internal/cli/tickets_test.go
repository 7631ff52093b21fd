package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikhailWahib/stablestore/internal/ticket"
)

func stepClock(start uint64) ticket.Clock {
	now := start - 1
	return func() uint64 {
		now++
		return now
	}
}

// writeConfig points the store at a fresh region with one-page buckets and
// sends logs to a file so stdout carries command output only.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stablestore.yaml")
	data := fmt.Sprintf("data_path: %s\nbucket_size_in_pages: 1\nlog_output: %s\n",
		filepath.Join(dir, "tickets.db"), filepath.Join(dir, "stablestore.log"))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func run(clock ticket.Clock, args ...string) (string, error) {
	cmd := newRootCommand(&RootOptions{Clock: clock})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTicketCommands_JSONGolden(t *testing.T) {
	cfg := writeConfig(t)
	clock := stepClock(1000)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	steps := []struct {
		golden string
		args   []string
		code   int
	}{
		{"add_first", []string{"add", "--event", "Gig", "--price", "50", "--seat", "A1"}, ExitSuccess},
		{"add_second", []string{"add", "--event", "Opera", "--price", "120", "--seat", "B2"}, ExitSuccess},
		{"update", []string{"update", "0", "--event", "Gig2", "--price", "60", "--seat", "A1"}, ExitSuccess},
		{"list", []string{"list"}, ExitSuccess},
		{"delete", []string{"delete", "1"}, ExitSuccess},
		{"get_deleted", []string{"get", "1"}, ExitFailure},
		{"stats", []string{"stats"}, ExitSuccess},
	}

	for _, step := range steps {
		args := append([]string{"--config", cfg, "--format", "json"}, step.args...)
		out, err := run(clock, args...)
		require.Equal(t, step.code, GetExitCode(err), "step %s: %v", step.golden, err)
		g.Assert(t, step.golden, []byte(out))
	}
}

func TestTicketCommands_Text(t *testing.T) {
	cfg := writeConfig(t)
	clock := stepClock(7)

	_, err := run(clock, "--config", cfg, "add", "--event", "Gig", "--price", "50", "--seat", "A1")
	require.NoError(t, err)

	out, err := run(clock, "--config", cfg, "get", "0")
	require.NoError(t, err)
	assert.Equal(t, "id=0 event=\"Gig\" price=50 seat=\"A1\" created_at=7 updated_at=-\n", out)

	out, err = run(clock, "--config", cfg, "list", "--from", "5")
	require.NoError(t, err)
	assert.Equal(t, "no tickets\n", out)

	out, err = run(clock, "--config", cfg, "delete", "3")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "Error [E001]: couldn't delete a ticket with id=3. ticket not found.\n", out)
}

func TestTicketCommands_InvalidInput(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(stepClock(1), "--config", cfg, "--format", "json", "get", "abc")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.JSONEq(t, `{"status":"error","error":{"code":"E002","message":"invalid id \"abc\""}}`, out)

	_, err = run(stepClock(1), "--config", cfg, "--format", "yaml", "stats")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(stepClock(1), "--config", filepath.Join(t.TempDir(), "missing.yaml"), "stats")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTicketCommands_DataFlagOverridesConfig(t *testing.T) {
	cfg := writeConfig(t)
	data := filepath.Join(t.TempDir(), "other.db")

	_, err := run(stepClock(1), "--config", cfg, "--data", data, "add", "--event", "Gig", "--seat", "A1")
	require.NoError(t, err)
	assert.FileExists(t, data)

	out, err := run(stepClock(1), "--config", cfg, "--format", "json", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"tickets":0`, "the configured region must be untouched")
}

func TestTicketCommands_InMemory(t *testing.T) {
	out, err := run(stepClock(1), "--in-memory", "--format", "json", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"next_id":0`)
}
