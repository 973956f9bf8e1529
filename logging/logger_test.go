package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"字符串", "test", "test"},
		{"错误", errors.New("error message"), "error message"},
		{"整数", 123, "123"},
		{"布尔值", true, "true"},
		{"时长", 1500 * time.Millisecond, "1.5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.value))
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("DEBUG")
	assert.True(t, ok)
	assert.Equal(t, DebugLevel, lvl)

	lvl, ok = ParseLevel("warning")
	assert.True(t, ok)
	assert.Equal(t, WarnLevel, lvl)

	lvl, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, InfoLevel, lvl)
}

func TestStdLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerTo(&buf, "test", DebugLevel)
	ctx := context.Background()

	logger.Debug(ctx, "debug message", String("key", "value"))
	logger.Info(ctx, "info message", Int("count", 123))
	logger.Warn(ctx, "warn message", Bool("critical", true))
	logger.Error(ctx, "error message", Error(errors.New("test error")))

	output := buf.String()
	for _, want := range []string{
		"[DEBUG]", "debug message", "key=value",
		"[INFO]", "count=123",
		"[WARN]", "critical=true",
		"[ERROR]", "error=test error",
	} {
		assert.Contains(t, output, want)
	}
}

func TestStdLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerTo(&buf, "", WarnLevel)
	ctx := context.Background()

	logger.Debug(ctx, "hidden-debug")
	logger.Info(ctx, "hidden-info")
	logger.Warn(ctx, "shown-warn")

	output := buf.String()
	assert.NotContains(t, output, "hidden-debug")
	assert.NotContains(t, output, "hidden-info")
	assert.Contains(t, output, "shown-warn")
}

func TestStdLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLoggerTo(&buf, "test", DebugLevel)
	child := logger.WithFields(Component("topic"), String("key", "robot/status"))

	child.Info(context.Background(), "declared", String("role", "publisher"))

	output := buf.String()
	assert.Contains(t, output, "component=topic")
	assert.Contains(t, output, "key=robot/status")
	assert.Contains(t, output, "role=publisher")

	// 原 Logger 不受影响
	assert.Empty(t, logger.fields)
	require.IsType(t, &StdLogger{}, child)
	assert.Len(t, child.(*StdLogger).fields, 2)
}

func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()
	ctx := context.Background()

	logger.Debug(ctx, "test")
	logger.Info(ctx, "test")
	logger.Warn(ctx, "test")
	logger.Error(ctx, "test")

	assert.Same(t, logger, logger.WithFields(String("key", "value")))
}

func TestGlobalLogger(t *testing.T) {
	original := GetLogger()
	defer SetLogger(original)

	testLogger := NewNoopLogger()
	SetLogger(testLogger)
	assert.Same(t, testLogger, GetLogger())

	SetLogger(nil)
	assert.Same(t, testLogger, GetLogger())
}

func TestComponentLogger(t *testing.T) {
	original := GetLogger()
	defer SetLogger(original)

	var buf bytes.Buffer
	SetLogger(NewStdLoggerTo(&buf, "", DebugLevel))

	ComponentLogger("session").Info(context.Background(), "opened")
	assert.True(t, strings.Contains(buf.String(), "component=session"))
}

func TestLoggerInterface(t *testing.T) {
	var _ Logger = (*StdLogger)(nil)
	var _ Logger = (*NoopLogger)(nil)
	var _ Logger = (*ZapLogger)(nil)
}
