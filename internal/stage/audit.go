package stage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/forkline/internal/pipeline"
)

// Record describes one request that passed through an Audit stage.
type Record struct {
	ID         string
	Timestamp  time.Time
	Method     string
	Path       string
	RemoteAddr string
	User       string
	StatusCode int
	BytesOut   int
	Latency    time.Duration
	Error      string
}

// Recorder persists audit records.
type Recorder interface {
	RecordRequest(ctx context.Context, rec *Record) error
}

// Audit writes a Record for every request through recorder once the rest of
// the chain has returned. A failing recorder is logged and never affects
// the response.
func Audit(recorder Recorder, logger zerolog.Logger) pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
		start := time.Now()
		// Captured up front: forks may rewrite the path further down.
		path := req.Path

		resp, err := next.Process(ctx, req)

		rec := &Record{
			ID:         req.ID,
			Timestamp:  start.UTC(),
			Method:     req.Method,
			Path:       path,
			RemoteAddr: req.RemoteAddr,
			Latency:    time.Since(start),
		}
		if u, ok := req.Get(UserKey); ok {
			rec.User, _ = u.(string)
		}
		if resp != nil {
			rec.StatusCode = resp.StatusCode
			rec.BytesOut = len(resp.Body)
		}
		if err != nil {
			rec.Error = err.Error()
		}

		if recErr := recorder.RecordRequest(context.WithoutCancel(ctx), rec); recErr != nil {
			logger.Warn().Err(recErr).Str("request_id", req.ID).Msg("failed to record request")
		}
		return resp, err
	})
}
