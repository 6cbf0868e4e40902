package stage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/allaspectsdev/forkline/internal/pipeline"
	"github.com/allaspectsdev/forkline/internal/tracing"
)

// Observer receives the duration of a wrapped stage.
type Observer interface {
	ObserveStage(name string, d time.Duration, err error)
}

// Timed wraps mw and reports how long each call took to obs. The duration
// includes everything mw called further down the chain.
func Timed(name string, mw pipeline.Middleware, obs Observer) pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
		start := time.Now()
		resp, err := mw.Process(ctx, req, next)
		obs.ObserveStage(name, time.Since(start), err)
		return resp, err
	})
}

// Traced wraps mw in an OpenTelemetry span named after the stage.
func Traced(name string, mw pipeline.Middleware) pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
		ctx, span := tracing.StartMiddlewareSpan(ctx, name)
		defer span.End()

		resp, err := mw.Process(ctx, req, next)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return resp, err
		}
		if resp != nil {
			span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		}
		return resp, nil
	})
}
