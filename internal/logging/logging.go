// Package logging builds the process-wide slog logger. Output goes to
// stderr: stdout is reserved for the rendered run summary.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a console slog.Logger with the provided level string.
// Unknown levels fall back to debug so misconfiguration surfaces in the
// output rather than hiding it.
func New(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFromString(level),
	})
	return slog.New(handler)
}

// ForRun scopes a logger to one crawl run so every line can be joined
// back to the run's output directory.
func ForRun(base *slog.Logger, runID string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("run_id", runID)
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
