package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewHandler(&buf, "info", "json"))
	logger.Debug("Hidden")
	logger.Info("Run started", "run_id", "run-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Run started", entry["msg"])
	assert.Equal(t, "run-1", entry["run_id"])
}

func TestNewHandler_Text(t *testing.T) {
	var buf bytes.Buffer

	slog.New(NewHandler(&buf, "debug", "text")).Debug("Claimed", "stage", "idea")

	assert.Contains(t, buf.String(), "msg=Claimed")
	assert.Contains(t, buf.String(), "stage=idea")
}
