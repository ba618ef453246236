package db

import (
	"context"
	"log/slog"

	"taskd/internal/logger"

	"github.com/jackc/pgx/v5/tracelog"
)

// newQueryTracer echoes every statement to the application logger at debug level
func newQueryTracer() *tracelog.TraceLog {
	return &tracelog.TraceLog{
		Logger:   tracelog.LoggerFunc(logQuery),
		LogLevel: tracelog.LogLevelDebug,
	}
}

func logQuery(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	attrs := make([]any, 0, len(data)*2)
	for k, v := range data {
		attrs = append(attrs, k, v)
	}
	logger.WithContext(ctx).Log(ctx, slogLevel(level), "sql: "+msg, attrs...)
}

func slogLevel(level tracelog.LogLevel) slog.Level {
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		return slog.LevelDebug
	case tracelog.LogLevelInfo:
		return slog.LevelInfo
	case tracelog.LogLevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
