package core

import (
	"fmt"
	"log/slog"
)

// SlogAdapter bridges a slog.Logger to the Logger interface used by jobs and
// middlewares, so the scheduler can hand contexts a printf-style logger while
// the engine itself speaks slog.
type SlogAdapter struct {
	L *slog.Logger
}

var _ Logger = (*SlogAdapter)(nil)

func (a *SlogAdapter) logger() *slog.Logger {
	if a.L != nil {
		return a.L
	}
	return slog.Default()
}

func (a *SlogAdapter) Criticalf(format string, args ...any) {
	a.logger().Error(fmt.Sprintf(format, args...))
}

func (a *SlogAdapter) Debugf(format string, args ...any) {
	a.logger().Debug(fmt.Sprintf(format, args...))
}

func (a *SlogAdapter) Errorf(format string, args ...any) {
	a.logger().Error(fmt.Sprintf(format, args...))
}

func (a *SlogAdapter) Noticef(format string, args ...any) {
	a.logger().Info(fmt.Sprintf(format, args...))
}

func (a *SlogAdapter) Warningf(format string, args ...any) {
	a.logger().Warn(fmt.Sprintf(format, args...))
}
