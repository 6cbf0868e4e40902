package stage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/forkline/internal/pipeline"
)

// Logger logs every request that passes through it. The result of the rest
// of the chain is returned unchanged.
func Logger(logger zerolog.Logger) pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
		start := time.Now()
		logger.Debug().
			Str("request_id", req.ID).
			Str("method", req.Method).
			Str("path", req.Path).
			Str("remote_addr", req.RemoteAddr).
			Msg("request started")

		resp, err := next.Process(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error().
				Err(err).
				Str("request_id", req.ID).
				Str("method", req.Method).
				Str("path", req.Path).
				Dur("duration", elapsed).
				Msg("request failed")
			return resp, err
		}

		status, size := 0, 0
		if resp != nil {
			status, size = resp.StatusCode, len(resp.Body)
		}
		logger.Info().
			Str("request_id", req.ID).
			Str("method", req.Method).
			Str("path", req.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", elapsed).
			Msg("request completed")
		return resp, nil
	})
}
