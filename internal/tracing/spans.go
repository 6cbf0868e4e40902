package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartPipelineSpan creates a child span covering one pipeline run.
func StartPipelineSpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pipeline.serve")
}

// StartMiddlewareSpan creates a child span for a single middleware.
func StartMiddlewareSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "middleware."+name,
		trace.WithAttributes(attribute.String("middleware.name", name)),
	)
}

// SetRequestAttributes adds request-level attributes to the current span.
func SetRequestAttributes(ctx context.Context, requestID, method, path string) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("request.id", requestID),
		attribute.String("request.method", method),
		attribute.String("request.path", path),
	)
}

// SetResponseAttributes adds response-level attributes to the current span.
func SetResponseAttributes(ctx context.Context, statusCode, size int, cache string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("response.status_code", statusCode),
		attribute.Int("response.size", size),
	)
	if cache != "" {
		span.SetAttributes(attribute.String("response.cache", cache))
	}
}

// RecordError records err on the current span and marks it failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
