package common

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("pipeline.stage.ok", "stage", "seo")

	assert.Contains(t, stderr.String(), "pipeline.stage.ok")
	assert.NotContains(t, stderr.String(), "hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(file.Bytes()), &rec))
	assert.Equal(t, "pipeline.stage.ok", rec["msg"])
	assert.Equal(t, "seo", rec["stage"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel(""))
}
