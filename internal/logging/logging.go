package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog logger behind the small leveled interface the rest
// of the application consumes. Arguments after the message are alternating
// key/value pairs.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger creates a Logger writing JSON lines to stdout at the given level.
// Unknown levels fall back to info.
func NewLogger(level string) *Logger {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "info":
		lvl = zerolog.InfoLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	zl := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// With returns a Logger with the given key/value pairs attached to every
// subsequent message.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields(args)).Logger()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.zl.Debug().Fields(fields(args)).Msg(msg)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.zl.Info().Fields(fields(args)).Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.zl.Warn().Fields(fields(args)).Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.zl.Error().Fields(fields(args)).Msg(msg)
}

// fields converts alternating key/value arguments into the map zerolog
// expects. A trailing key without a value is kept with a nil value, and
// non-string keys are skipped rather than panicking.
func fields(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m := make(map[string]any, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		if i+1 < len(args) {
			m[key] = args[i+1]
		} else {
			m[key] = nil
		}
	}
	return m
}
