package operations

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"ipocli/internal/infrastructure"
)

// TracerName is the instrumentation scope of operation spans
const TracerName = "ipocli.operation"

// OperationTracer wraps operations and steps in spans and records their
// outcome metrics
type OperationTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.CollectorMetrics
}

// NewOperationTracer creates a tracer. Both arguments may be nil.
func NewOperationTracer(tracer trace.Tracer, metrics *infrastructure.CollectorMetrics) *OperationTracer {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(TracerName)
	}
	return &OperationTracer{tracer: tracer, metrics: metrics}
}

// TraceOperation starts the span of one operation
func (t *OperationTracer) TraceOperation(ctx context.Context, operationID, job string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "operation.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("operation.id", operationID),
			attribute.String("operation.job", job),
		))
}

// TraceStep starts the span of one step
func (t *OperationTracer) TraceStep(ctx context.Context, operationID, stepID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "operation.step."+stepID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("operation.id", operationID),
			attribute.String("step.id", stepID),
		))
}

// EndStep records the step outcome on span and in metrics, then ends span
func (t *OperationTracer) EndStep(ctx context.Context, span trace.Span, stepID string, d time.Duration, err error) {
	span.SetAttributes(attribute.Float64("step.duration_seconds", d.Seconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "step completed")
	}
	t.metrics.RecordStep(ctx, stepID, d, err == nil)
	span.End()
}

// EndOperation records the operation outcome, then ends span
func (t *OperationTracer) EndOperation(ctx context.Context, span trace.Span, status OperationStatusValue, d time.Duration, err error) {
	span.SetAttributes(
		attribute.String("operation.status", string(status)),
		attribute.Float64("operation.duration_seconds", d.Seconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "operation completed")
	}
	t.metrics.RecordOperation(ctx, string(status))
	span.End()
}
