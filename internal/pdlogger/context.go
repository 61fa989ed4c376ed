package pdlogger

import "context"

type contextKey struct{}

var defaultLogger = New()

// WithLogger returns a context carrying logger, retrievable by FromContext.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a default logger (text
// format, info level, writing to stderr) if none was attached.
func FromContext(ctx context.Context) Logger {
	if v := ctx.Value(contextKey{}); v != nil {
		return v.(Logger)
	}
	return defaultLogger
}

func Debug(ctx context.Context, msg string, args ...any) { FromContext(ctx).Debug(msg, args...) }
func Info(ctx context.Context, msg string, args ...any)  { FromContext(ctx).Info(msg, args...) }
func Warn(ctx context.Context, msg string, args ...any)  { FromContext(ctx).Warn(msg, args...) }
func Error(ctx context.Context, msg string, args ...any) { FromContext(ctx).Error(msg, args...) }
