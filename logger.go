package sensei

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with sensei-specific context.
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
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithNode adds the node id to the logger.
func (l *Logger) WithNode(nodeID int) *Logger {
	return &Logger{
		Logger: l.Logger.With("node", nodeID),
	}
}

// WithCycle adds the lifecycle id to the logger.
func (l *Logger) WithCycle(cycle string) *Logger {
	return &Logger{
		Logger: l.Logger.With("cycle", cycle),
	}
}

// LogEngineStart logs the start of one engine.
func (l *Logger) LogEngineStart(ctx context.Context, name string, partition int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "engine start failed",
			"engine", name,
			"partition", partition,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "engine started",
			"engine", name,
			"partition", partition,
		)
	}
}

// LogShutdown logs a completed shutdown.
func (l *Logger) LogShutdown(ctx context.Context, engines int, err error) {
	if err != nil {
		l.WarnContext(ctx, "shutdown completed with failures",
			"engines", engines,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "shutdown completed",
			"engines", engines,
		)
	}
}

// LogSync logs a version sync.
func (l *Logger) LogSync(ctx context.Context, version string, elapsed time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "sync failed",
			"version", version,
			"elapsed", elapsed,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "sync completed",
			"version", version,
			"elapsed", elapsed,
		)
	}
}

// LogPrune logs a prune pass.
func (l *Logger) LogPrune(ctx context.Context, pruner string, removed int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "prune failed",
			"pruner", pruner,
			"removed", removed,
			"error", err,
		)
	case removed > 0:
		l.InfoContext(ctx, "prune completed",
			"pruner", pruner,
			"removed", removed,
		)
	default:
		l.DebugContext(ctx, "prune completed",
			"pruner", pruner,
		)
	}
}
