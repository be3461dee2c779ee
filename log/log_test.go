package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/diggerhq/credresolver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogConfig{Level: slog.LevelInfo, Format: "json"})

	logger.Debug("dropped")
	logger.Info("Loading credentials resolver", "resolver", "rules")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Loading credentials resolver", entry["msg"])
	assert.Equal(t, "rules", entry["resolver"])
}

func TestNewTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogConfig{Level: slog.LevelDebug, Format: "text"})

	logger.Debug("S3 Request", "request", "GetObject")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "request=GetObject")
}
