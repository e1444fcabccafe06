package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

const (
	// TraceIDKey is the context key for the per-request trace ID.
	TraceIDKey ContextKey = "trace_id"
	// SessionIDKey is the context key for the conversation session ID.
	SessionIDKey ContextKey = "session_id"
	// RunIDKey is the context key for a single engine run.
	RunIDKey ContextKey = "run_id"
)

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestContext returns a context carrying a fresh trace ID.
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithRunID adds an engine run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetTraceID retrieves the trace ID from the context, or "" if absent.
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetSessionID retrieves the session ID from the context, or "" if absent.
func GetSessionID(ctx context.Context) string {
	return stringValue(ctx, SessionIDKey)
}

// GetRunID retrieves the run ID from the context, or "" if absent.
func GetRunID(ctx context.Context) string {
	return stringValue(ctx, RunIDKey)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// LoggerFromContext returns base enriched with any trace, session and
// run IDs present in ctx.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return base
	}
	lc := base.With()
	if id := GetTraceID(ctx); id != "" {
		lc = lc.Str("trace_id", id)
	}
	if id := GetSessionID(ctx); id != "" {
		lc = lc.Str("session_id", id)
	}
	if id := GetRunID(ctx); id != "" {
		lc = lc.Str("run_id", id)
	}
	return lc.Logger()
}
