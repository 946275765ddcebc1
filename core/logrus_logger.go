package core

import (
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogrusAdapter exposes a logrus.Logger through the Logger interface.
//
// When the underlying logger has ReportCaller enabled, logrus would resolve
// every entry's caller to this adapter. logf therefore captures the real
// caller itself and injects the frame, toggling ReportCaller off around the
// write so logrus does not overwrite it.
type LogrusAdapter struct {
	*logrus.Logger
	mu sync.Mutex // guards the ReportCaller toggle
}

var _ Logger = (*LogrusAdapter)(nil)

// callerFrame resolves the frame of whoever called the Logger method, two
// frames above logf.
func callerFrame() *runtime.Frame {
	pc, file, line, ok := runtime.Caller(3)
	if !ok {
		return nil
	}
	return &runtime.Frame{PC: pc, File: file, Line: line, Function: runtime.FuncForPC(pc).Name()}
}

func (l *LogrusAdapter) logf(level logrus.Level, format string, args ...any) {
	frame := callerFrame()

	l.mu.Lock()
	prev := l.Logger.ReportCaller
	l.Logger.ReportCaller = false
	defer func() {
		l.Logger.ReportCaller = prev
		l.mu.Unlock()
	}()

	entry := logrus.NewEntry(l.Logger)
	entry.Caller = frame
	entry.Logf(level, format, args...)
}

// Criticalf maps to FatalLevel for severity only; it does not exit the
// process.
func (l *LogrusAdapter) Criticalf(format string, args ...any) {
	l.logf(logrus.FatalLevel, format, args...)
}

func (l *LogrusAdapter) Errorf(format string, args ...any) {
	l.logf(logrus.ErrorLevel, format, args...)
}

func (l *LogrusAdapter) Warningf(format string, args ...any) {
	l.logf(logrus.WarnLevel, format, args...)
}

func (l *LogrusAdapter) Noticef(format string, args ...any) {
	l.logf(logrus.InfoLevel, format, args...)
}

func (l *LogrusAdapter) Debugf(format string, args ...any) {
	l.logf(logrus.DebugLevel, format, args...)
}
