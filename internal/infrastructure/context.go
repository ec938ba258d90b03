package infrastructure

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

// TraceIDContextKey carries the ID that ties log lines of one run or request together
const TraceIDContextKey contextKey = "trace_id"

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID returns the context's trace ID, or "" if none is set
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDContextKey).(string); ok {
		return traceID
	}
	return ""
}

// EnsureTraceID returns ctx with a trace ID. An existing ID is kept, then
// the active span's trace ID is preferred, and a random UUID is the fallback.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return WithTraceID(ctx, sc.TraceID().String())
	}
	return WithTraceID(ctx, uuid.NewString())
}
