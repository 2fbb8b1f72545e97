package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	logger.Info("test message", "key", "value")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "test message", logEntry["msg"])
	assert.Equal(t, "value", logEntry["key"])
	assert.Equal(t, "INFO", logEntry["level"])
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := Setup(Config{
		Level:  "info",
		Format: "text",
		Output: &buf,
	})

	logger.Info("test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestSetup_LogLevels(t *testing.T) {
	tests := []struct {
		level   string
		logFunc func(logger *slog.Logger, msg string)
	}{
		{"debug", func(l *slog.Logger, msg string) { l.Debug(msg) }},
		{"info", func(l *slog.Logger, msg string) { l.Info(msg) }},
		{"warn", func(l *slog.Logger, msg string) { l.Warn(msg) }},
		{"error", func(l *slog.Logger, msg string) { l.Error(msg) }},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := Setup(Config{
				Level:  tt.level,
				Format: "json",
				Output: &buf,
			})

			tt.logFunc(logger, "test")

			assert.NotEmpty(t, buf.String())
		})
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")

	requestID, ok := ctx.Value(RequestIDKey).(string)
	assert.True(t, ok)
	assert.Equal(t, "req-123", requestID)
}

func TestWithRunID(t *testing.T) {
	ctx := context.Background()
	ctx = WithRunID(ctx, "run-456")

	runID, ok := ctx.Value(RunIDKey).(string)
	assert.True(t, ok)
	assert.Equal(t, "run-456", runID)
}

func TestWithAccountID(t *testing.T) {
	ctx := context.Background()
	ctx = WithAccountID(ctx, "123456789012")

	accountID, ok := ctx.Value(AccountIDKey).(string)
	assert.True(t, ok)
	assert.Equal(t, "123456789012", accountID)
}

func TestInfoContext_CarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithRunID(ctx, "run-456")

	logger.InfoContext(ctx, "test with context")

	output := buf.String()
	assert.Contains(t, output, "req-123")
	assert.Contains(t, output, "run-456")
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	ctx := context.Background()
	ctx = WithRunID(ctx, "run-123")

	Audit(ctx, "run_triggered", "period", "2026-07", "trigger", "manual")

	output := buf.String()
	assert.Contains(t, output, "AUDIT")
	assert.Contains(t, output, "run_triggered")
	assert.Contains(t, output, "2026-07")
	assert.Contains(t, output, "run-123")
}

func TestContextHandler_AddsContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{
		Level:  "info",
		Format: "json",
		Output: &buf,
	})

	ctx := context.Background()
	ctx = WithRequestID(ctx, "test-request-id")
	ctx = WithAccountID(ctx, "123456789012")

	logger.InfoContext(ctx, "test message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var logEntry map[string]interface{}
	err := json.Unmarshal([]byte(lines[0]), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "test message", logEntry["msg"])
	assert.Equal(t, "test-request-id", logEntry["request_id"])
	assert.Equal(t, "123456789012", logEntry["account_id"])
}
