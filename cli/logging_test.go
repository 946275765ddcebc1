package cli

import (
	"context"
	"log/slog"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestApplyLogLevel(t *testing.T) {
	original := logrus.GetLevel()
	defer logrus.SetLevel(original)

	tests := []struct {
		name     string
		level    string
		expected logrus.Level
	}{
		{
			name:     "valid debug level",
			level:    "debug",
			expected: logrus.DebugLevel,
		},
		{
			name:     "valid info level",
			level:    "info",
			expected: logrus.InfoLevel,
		},
		{
			name:     "valid warning level",
			level:    "warning",
			expected: logrus.WarnLevel,
		},
		{
			name:     "valid error level",
			level:    "error",
			expected: logrus.ErrorLevel,
		},
		{
			name:     "empty level",
			level:    "",
			expected: logrus.InfoLevel, // Should not change current level
		},
		{
			name:     "invalid level",
			level:    "invalid",
			expected: logrus.InfoLevel, // Should not change current level
		},
		{
			name:     "typo in debug",
			level:    "degub",
			expected: logrus.InfoLevel,
		},
		{
			name:     "case insensitive",
			level:    "DEBUG",
			expected: logrus.DebugLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset to info level before each test
			logrus.SetLevel(logrus.InfoLevel)

			ApplyLogLevel(tt.level)

			currentLevel := logrus.GetLevel()
			if currentLevel != tt.expected {
				t.Errorf("Expected level %v, got %v", tt.expected, currentLevel)
			}
		})
	}
}

func TestNewEngineLogger(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		level string
		debug bool
		info  bool
		warn  bool
	}{
		{"debug", true, true, true},
		{"trace", true, true, true},
		{"info", false, true, true},
		{"", false, true, true},
		{"nonsense", false, true, true},
		{"warn", false, false, true},
		{"warning", false, false, true},
		{"WARNING", false, false, true},
		{"error", false, false, false},
		{"critical", false, false, false},
		{"fatal", false, false, false},
	}

	for _, tt := range tests {
		logger := NewEngineLogger(tt.level)
		if logger == nil {
			t.Fatalf("NewEngineLogger(%q) returned nil", tt.level)
		}

		if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.debug {
			t.Errorf("NewEngineLogger(%q): debug enabled = %v, want %v", tt.level, got, tt.debug)
		}
		if got := logger.Enabled(ctx, slog.LevelInfo); got != tt.info {
			t.Errorf("NewEngineLogger(%q): info enabled = %v, want %v", tt.level, got, tt.info)
		}
		if got := logger.Enabled(ctx, slog.LevelWarn); got != tt.warn {
			t.Errorf("NewEngineLogger(%q): warn enabled = %v, want %v", tt.level, got, tt.warn)
		}
		if !logger.Enabled(ctx, slog.LevelError) {
			t.Errorf("NewEngineLogger(%q): error level must always be enabled", tt.level)
		}
	}
}
