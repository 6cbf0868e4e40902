package stage

import (
	"context"

	"github.com/google/uuid"

	"github.com/allaspectsdev/forkline/internal/pipeline"
)

// RequestIDHeader is the header used to propagate request ids.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request an id. An incoming X-Request-ID header is
// reused; otherwise a new UUID is generated. The id is stored in req.ID and
// echoed on the response.
func RequestID() pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
		id := req.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		req.ID = id
		req.Header.Set(RequestIDHeader, id)

		resp, err := next.Process(ctx, req)
		if resp != nil {
			resp.SetHeader(RequestIDHeader, id)
		}
		return resp, err
	})
}
