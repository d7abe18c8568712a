package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger, err := NewLogger(&Config{
		Level:       level,
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)
	return logger, &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	return logEntry
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: &Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: &Config{
				Level:  "info",
				Format: "invalid",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name:    "nil config uses defaults",
			config:  nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	ctx = WithEventID(ctx, "evt-1")

	logger.WithContext(ctx).Info("test message")

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "test-correlation-id", logEntry["correlation_id"])
	assert.Equal(t, "evt-1", logEntry["event_id"])
	assert.Equal(t, "test-service", logEntry["service"])
	assert.Equal(t, "1.0.0", logEntry["version"])
	assert.Equal(t, "test message", logEntry["message"])
}

func TestLogger_LogPipelineEvent(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.LogPipelineEvent(ctx, "fetching", "gitlab", "group/app", "42", logrus.Fields{
		"jobs": 3,
	})

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "fetching", logEntry["event"])
	assert.Equal(t, "gitlab", logEntry["provider"])
	assert.Equal(t, "group/app", logEntry["project"])
	assert.Equal(t, "42", logEntry["pipeline_id"])
	assert.Equal(t, float64(3), logEntry["jobs"])
}

func TestLogger_LogDeliveryAttempt(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.LogDeliveryAttempt(context.Background(), "api", "post", "failure", 502, 1500*time.Millisecond, "bad gateway")

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "warning", logEntry["level"])
	assert.Equal(t, "api", logEntry["sink"])
	assert.Equal(t, float64(502), logEntry["status_code"])
	assert.Equal(t, float64(1500), logEntry["duration_ms"])
	assert.Equal(t, "bad gateway", logEntry["error"])
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newTestLogger(t, "debug")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.LogError(ctx, assert.AnError, "test error message", logrus.Fields{
		"component": "test-component",
	})

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "test error message", logEntry["message"])
	assert.Equal(t, assert.AnError.Error(), logEntry["error"])
	assert.Equal(t, "test-component", logEntry["component"])
	assert.Contains(t, logEntry, "stack_trace")
}

func TestCorrelationIDFunctions(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	assert.Equal(t, "test-correlation-id", GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))
	assert.Empty(t, GetEventID(context.Background()))
}

func TestLogger_KeyValueHelpers(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.Warn("sending unauthenticated", "sink", "api", "dangling")

	logEntry := decodeEntry(t, buf)
	assert.Equal(t, "warning", logEntry["level"])
	assert.Equal(t, "api", logEntry["sink"])
	assert.NotContains(t, logEntry, "dangling")
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "text",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)

	logger.WithFields(logrus.Fields{
		"test_field": "test_value",
	}).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "test_field=test_value")
	assert.Contains(t, output, "service=test-service")
}

func BenchmarkLogger_WithContext(b *testing.B) {
	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(b, err)
	logger.SetOutput(&bytes.Buffer{})

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithContext(ctx).Info("benchmark message")
	}
}
