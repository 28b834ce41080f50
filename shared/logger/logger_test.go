package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "json format with debug level",
			config: &Config{Level: "debug", Format: "json", Output: "stdout"},
		},
		{
			name:   "console format with info level",
			config: &Config{Level: "info", Format: "console", Output: "stderr"},
		},
		{
			name:   "unknown format falls back to json",
			config: &Config{Level: "warn", Format: "something-else"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.config)
			require.NoError(t, err)
			require.NotNil(t, log)
			require.NotNil(t, log.Logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "level %q", tt.input)
	}
}

func TestWith(t *testing.T) {
	log := NewDefault()
	child := log.With("component", "test")
	require.NotNil(t, child)
	assert.NotSame(t, log, child)
}
