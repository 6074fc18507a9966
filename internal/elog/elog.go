// Package elog is the engine's logging package: one small wrapper around a
// leveled, timestamped logger, safe for concurrent use from every worker
// goroutine.
//
// Grounded on the teacher's internal/utils/debug.go: a single-file,
// package-level-sugar logger guarded against concurrent init. The teacher's
// own go.mod carries no structured-logging library, so this keeps that
// shape but swaps the hand-rolled fmt.Fprintf writer for
// github.com/rs/zerolog, the one dedicated structured-logging dependency
// anywhere in the retrieved example pack (rescale-labs-Rescale_Interlink).
package elog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
)

// SetOutput redirects all subsequent log lines to w, replacing stderr. Tests
// use this to capture or silence engine logging.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel sets the minimum level that reaches the output.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = logger.Level(level)
}

func get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a child logger tagged with a component name, e.g.
// elog.With("worker").Info().Str("task_id", id).Msg("started").
func With(component string) zerolog.Logger {
	return get().With().Str("component", component).Logger()
}

// Debugf logs a formatted debug-level line with no structured fields,
// matching the teacher's Debug(format, args...) call shape.
func Debugf(format string, args ...any) {
	get().Debug().Msgf(format, args...)
}

// Errorf logs a formatted error-level line.
func Errorf(format string, args ...any) {
	get().Error().Msgf(format, args...)
}
