package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal logs through the pterm logger.
// Trace output is only emitted when trace is true; everything below warning
// level is demoted to debug so a normal run stays quiet.
type PionLoggerFactory struct {
	Trace bool
}

// Compile-time interface check.
var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (f PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope, trace: f.Trace}
}

type pionLogger struct {
	scope string
	trace bool
}

func (l *pionLogger) prefix(msg string) string {
	return fmt.Sprintf("[pion/%s] %s", l.scope, msg)
}

func (l *pionLogger) Trace(msg string) {
	if l.trace {
		LogDebug("%s", l.prefix(msg))
	}
}

func (l *pionLogger) Tracef(format string, args ...any) {
	l.Trace(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Debug(msg string) { LogDebug("%s", l.prefix(msg)) }

func (l *pionLogger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Info(msg string) { LogDebug("%s", l.prefix(msg)) }

func (l *pionLogger) Infof(format string, args ...any) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Warn(msg string) { LogWarning("%s", l.prefix(msg)) }

func (l *pionLogger) Warnf(format string, args ...any) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *pionLogger) Error(msg string) { LogError("%s", l.prefix(msg)) }

func (l *pionLogger) Errorf(format string, args ...any) {
	l.Error(fmt.Sprintf(format, args...))
}
