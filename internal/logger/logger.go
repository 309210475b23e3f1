// Package logger provides structured logging for the broker, built on
// log/slog, with request-scoped context carried the way dittofs carries
// its LogContext.
package logger

import (
	"context"
	"log/slog"
	"os"
)

var base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// SetLevel adjusts the minimum level emitted by the default logger.
func SetLevel(level slog.Level) {
	base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func logger(ctx context.Context) *slog.Logger {
	lc := FromContext(ctx)
	if lc == nil {
		return base
	}
	return base.With(lc.attrs()...)
}

func Debug(ctx context.Context, msg string, args ...any) { logger(ctx).Debug(msg, args...) }
func Info(ctx context.Context, msg string, args ...any)  { logger(ctx).Info(msg, args...) }
func Warn(ctx context.Context, msg string, args ...any)  { logger(ctx).Warn(msg, args...) }
func Error(ctx context.Context, msg string, args ...any) { logger(ctx).Error(msg, args...) }
