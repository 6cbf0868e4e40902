package stage

import (
	"context"

	"github.com/allaspectsdev/forkline/internal/pipeline"
)

// SetHeader sets key to value on every response produced further down the
// chain.
func SetHeader(key, value string) pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
		resp, err := next.Process(ctx, req)
		if err != nil || resp == nil {
			return resp, err
		}
		resp.SetHeader(key, value)
		return resp, nil
	})
}

// SetRequestHeader sets key to value on the request before passing it on.
func SetRequestHeader(key, value string) pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
		req.Header.Set(key, value)
		return next.Process(ctx, req)
	})
}
