package ragserve

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with service-specific context.
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
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithQueryID adds a query_id field to the logger.
func (l *Logger) WithQueryID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("query_id", id),
	}
}

// WithShard adds a shard field to the logger.
func (l *Logger) WithShard(shardID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("shard", shardID),
	}
}

// LogRetrieve logs a retrieval operation.
func (l *Logger) LogRetrieve(ctx context.Context, queryID string, shards, failed, results int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "retrieve failed",
			"query_id", queryID,
			"shards", shards,
			"error", err,
		)
		return
	}
	if failed > 0 {
		l.WarnContext(ctx, "retrieve completed partially",
			"query_id", queryID,
			"shards", shards,
			"failed", failed,
			"results", results,
			"duration", d,
		)
	} else {
		l.DebugContext(ctx, "retrieve completed",
			"query_id", queryID,
			"shards", shards,
			"results", results,
			"duration", d,
		)
	}
}

// LogQuery logs a full query operation.
func (l *Logger) LogQuery(ctx context.Context, queryID string, cacheHit bool, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"query_id", queryID,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "query completed",
		"query_id", queryID,
		"cache_hit", cacheHit,
		"duration", d,
	)
}

// LogGeneration logs a generation call.
func (l *Logger) LogGeneration(ctx context.Context, queryID string, d time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "generation failed, returning retrieval-only result",
			"query_id", queryID,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "generation completed",
		"query_id", queryID,
		"duration", d,
	)
}

// LogIngest logs a batch document ingest.
func (l *Logger) LogIngest(ctx context.Context, count, shards int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingest failed",
			"count", count,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "ingest completed",
		"count", count,
		"shards", shards,
		"duration", d,
	)
}

// LogOptimize logs an index optimization pass.
func (l *Logger) LogOptimize(ctx context.Context, recommendations int) {
	l.InfoContext(ctx, "index optimization completed",
		"recommendations", recommendations,
	)
}
