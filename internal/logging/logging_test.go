package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		enabled zapcore.Level
		wantErr bool
	}{
		{name: "defaults", enabled: zapcore.InfoLevel},
		{name: "debug console", level: "debug", format: "console", enabled: zapcore.DebugLevel},
		{name: "warn json", level: "warn", format: "json", enabled: zapcore.WarnLevel},
		{name: "bad level", level: "loud", wantErr: true},
		{name: "bad format", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.enabled-1))
		})
	}
}

func TestLogf(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logf := Logf(zap.New(core))

	logf("To authenticate, visit:\n\n\t%s\n", "https://login.example.com/a/1")
	logf("tailnet up as %s", "100.64.0.1")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "engine", entries[0].LoggerName)
	assert.Equal(t, "To authenticate, visit:\n\n\thttps://login.example.com/a/1", entries[0].Message)
	assert.Equal(t, "tailnet up as 100.64.0.1", entries[1].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
}

func TestLogf_NilLogger(t *testing.T) {
	logf := Logf(nil)
	assert.NotPanics(t, func() { logf("ignored %d", 1) })
}
