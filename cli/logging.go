package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ApplyLogLevel sets the global logging level if level is valid.
func ApplyLogLevel(level string) {
	if level == "" {
		return
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return
	}
	logrus.SetLevel(lvl)
}

// NewEngineLogger builds the slog logger the trigger engine logs through.
// It follows the application log level; notice and critical collapse onto
// the nearest slog level.
func NewEngineLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug", "trace":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error", "critical", "fatal", "panic":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
