package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MikhailWahib/stablestore/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "store.log")
	require.NoError(t, logging.Init(logging.Config{Level: "debug", Format: "json", OutputPath: path}))
	t.Cleanup(func() { _ = logging.Close() })

	log := logging.WithTicket(logging.WithComponent("ticket"), 42)
	log.Debug("ticket created")
	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "ticket created", entry["msg"])
	assert.Equal(t, "ticket", entry["component"])
	assert.EqualValues(t, 42, entry["ticket_id"])
}

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logging.WithPartition(logging.New(&buf, "warn", "text"), 1)

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "partition=1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("nonsense"))
}

func TestGetLogger_LazyDefault(t *testing.T) {
	require.NoError(t, logging.Close())
	assert.NotNil(t, logging.GetLogger())
}
