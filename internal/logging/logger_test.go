package logging

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("watching packages", map[string]string{"packages": "lib"})

	entries := buffer.List()
	require.Len(t, entries, 1)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "watching packages", entries[0].Message)
	assert.Equal(t, "lib", entries[0].Context["packages"])
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	require.Len(t, entries, 1)
	assert.Equal(t, LevelWarning, entries[0].Level)
}

func TestLoggerSetLevelAffectsChildren(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)
	child := logger.With(map[string]string{"component": "reload"})

	child.Debug("hidden", nil)
	logger.SetLevel(LevelDebug)
	child.Debug("shown", nil)

	entries := buffer.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0].Message)
	assert.Equal(t, "reload", entries[0].Context["component"])
}

func TestLoggerFormatsSortedFields(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerWithOutput(nil, LevelInfo, &out)

	logger.Info("cycle", map[string]string{"package": "lib", "events": "3"})

	line := out.String()
	assert.True(t, strings.Contains(line, `level=info msg="cycle" events="3" package="lib"`), line)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warn":    LevelWarning,
		"warning": LevelWarning,
		"error":   LevelError,
	}
	for input, want := range cases {
		got, ok := ParseLevel(input)
		require.True(t, ok, input)
		assert.Equal(t, want, got)
	}
	_, ok := ParseLevel("loud")
	assert.False(t, ok)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	assert.False(t, logger.Enabled(LevelError))
}

func TestLevelAtLeast(t *testing.T) {
	assert.True(t, LevelAtLeast(LevelError, LevelWarning))
	assert.True(t, LevelAtLeast(LevelInfo, LevelInfo))
	assert.False(t, LevelAtLeast(LevelDebug, LevelInfo))
}
