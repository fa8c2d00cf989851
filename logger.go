package gravel

import (
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with gravel-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{Logger: slog.New(handler)}
}

// WithRun adds the run id to the logger.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With("run", runID)}
}

// WithWorker adds a worker id field to the logger.
func (l *Logger) WithWorker(id int) *Logger {
	return &Logger{Logger: l.Logger.With("worker", id)}
}

// LogLevelEnd logs the completion of one level.
func (l *Logger) LogLevelEnd(level int, activated int64, elapsed time.Duration) {
	l.Debug("level complete",
		"level", level,
		"activated_next", activated,
		"elapsed", elapsed,
	)
}

// LogRunEnd logs the completion of a whole run.
func (l *Logger) LogRunEnd(levels int, err error) {
	if err != nil {
		l.Error("run failed",
			"levels", levels,
			"error", err,
		)
	} else {
		l.Info("run complete",
			"levels", levels,
		)
	}
}
