package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/devbrain/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, level zapcore.Level) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Level = level
	cfg.Output = &buf

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger_RejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLogger_LevelsAndContextFields(t *testing.T) {
	logger, buf := newBufferLogger(t, zapcore.DebugLevel)

	ctx := WithRunID(WithProject(context.Background(), "api"), "run-1")
	logger.Trace(ctx, "dropped below debug")
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message", zap.String("path", "main.go"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "debug message", lines[0]["msg"])
	assert.Equal(t, "info message", lines[1]["msg"])
	assert.Equal(t, "api", lines[1]["project"])
	assert.Equal(t, "run-1", lines[1]["run.id"])
	assert.Equal(t, "main.go", lines[1]["path"])
}

func TestLogger_RedactsPerEntryAndWithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, zapcore.InfoLevel)

	child := logger.With(zap.String("token", "abc"))
	child.Info(context.Background(), "calling api",
		zap.String("api_key", "sk-live"),
		zap.String("header", "Bearer eyJhbGciOi"),
		Secret("gemini", config.Secret("AIza-secret")),
	)

	out := buf.String()
	assert.NotContains(t, out, "sk-live")
	assert.NotContains(t, out, "eyJhbGciOi")
	assert.NotContains(t, out, "AIza-secret")
	assert.NotContains(t, out, `"abc"`)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["header"])
	assert.Equal(t, "[REDACTED:11]", lines[0]["gemini"])
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings("debug", "json")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	_, err = FromSettings("debug", "yaml")
	assert.Error(t, err)
}

func TestLogger_Underlying(t *testing.T) {
	logger, buf := newBufferLogger(t, zapcore.InfoLevel)
	logger.Underlying().Named("store").Info("opened", zap.String("path", "brain.db"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "store", lines[0]["logger"])
	assert.Equal(t, "brain.db", lines[0]["path"])
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}
