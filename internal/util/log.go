// Package util provides the shared logger, the pion log bridge and the
// process-wide media statistics.
package util

import (
	"fmt"
	"sync/atomic"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

var debugEnabled atomic.Bool

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...any) {
	pterm.DefaultLogger.Info(pterm.Green(fmt.Sprintf(format, args...)))
}

func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	debugEnabled.Store(true)
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// DebugEnabled reports whether EnableDebug has been called.
func DebugEnabled() bool {
	return debugEnabled.Load()
}
