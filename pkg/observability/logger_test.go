package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenancy/pkg/contextkeys"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info logged as JSON", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "info message", entry["msg"])
		assert.Equal(t, "info", entry["level"])
	})

	t.Run("error logged with fields", func(t *testing.T) {
		buf.Reset()
		logger.WithField("account_id", "acct-1").Error("boom")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "acct-1", entry["account_id"])
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLogLevel(in))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "INFO", InfoLevel.String())
	assert.Equal(t, "WARN", WarnLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
}

func TestLogLevel_UnmarshalYAML(t *testing.T) {
	var cfg struct {
		Level LogLevel `yaml:"level"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("level: debug\n"), &cfg))
	assert.Equal(t, DebugLevel, cfg.Level)
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	Component(NewLogger(InfoLevel, &buf), "resolver").Info("hello")
	assert.Equal(t, "resolver", decodeEntry(t, &buf)["component"])

	assert.Equal(t, "cache", Component(nil, "cache").Data["component"])
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	entry := logrus.NewEntry(NewLogger(InfoLevel, &buf))

	ctx := contextkeys.WithRequestID(context.Background(), "req-123")
	ctx = contextkeys.WithUserID(ctx, "user-1")
	FromContext(ctx, entry).Info("request")

	logged := decodeEntry(t, &buf)
	assert.Equal(t, "req-123", logged["request_id"])
	assert.Equal(t, "user-1", logged["user_id"])

	assert.NotNil(t, FromContext(context.Background(), nil))
}
