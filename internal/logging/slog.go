// Package logging is the ambient operational logger: an atomic
// *slog.Logger singleton in the style of oriys-nova's internal/logging,
// extended with the agent's inform/verbose/debug level names (spec.md §6).
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	opLogger.Store(slog.New(handler))
}

// Op returns the operational logger used throughout the engine for
// daemon/infrastructure logs. This is distinct from audit records,
// which are structured outcomes (internal/audit), not log lines.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLevel changes the level of the operational logger in place.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetVerbosity maps the agent's -v/-d CLI flags (spec.md §6) onto slog
// levels: 0 inform, 1 verbose, 2+ debug.
func SetVerbosity(n int) {
	switch {
	case n <= 0:
		logLevel.Set(slog.LevelInfo)
	case n == 1:
		logLevel.Set(slog.LevelInfo - 2) // verbose: between info and debug
	default:
		logLevel.Set(slog.LevelDebug)
	}
}

// SetJSON swaps the handler to structured JSON output written to w.
func SetJSON(w *os.File) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	opLogger.Store(slog.New(handler))
}
