// Package logger configures the process-wide slog logger for the linkknn
// command line tool.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default logger. format is "json" or "text"
// (anything else falls back to text).
func Setup(level string, format string) {
	SetupWriter(os.Stdout, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level string, format string) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithComponent returns the default logger tagged with a component name.
func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Progress returns a callback that logs every step-th unit of work and the
// last one. It is meant for linkknn.ProgressFunc hooks.
func Progress(log *slog.Logger, msg string, step int) func(done, total int) {
	if step < 1 {
		step = 1
	}
	return func(done, total int) {
		if done%step == 0 || done == total {
			log.Debug(msg, "done", done, "total", total)
		}
	}
}
