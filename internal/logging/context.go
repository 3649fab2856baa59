package logging

import (
	"context"
)

type contextKey int

const (
	sessionKey contextKey = iota
	loggerKey
)

// WithSessionCtx returns a new context carrying an engine session name.
func WithSessionCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// SessionFromCtx extracts the session name from the context.
func SessionFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(sessionKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromCtx returns the logger attached to ctx. If none is attached, the global
// logger is returned, tagged with the context's session if one is set.
func FromCtx(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	l := Global()
	if id := SessionFromCtx(ctx); id != "" {
		l = l.WithSession(id)
	}
	return l
}
