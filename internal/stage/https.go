package stage

import (
	"context"
	"net/http"

	"github.com/allaspectsdev/forkline/internal/pipeline"
)

// RequireHTTPS redirects plain-http requests to the same URL over https
// with a 308, which preserves the method and body. Inside a fork that
// strips its prefix the redirect uses the path the client sent.
func RequireHTTPS() pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
		if req.Scheme == "https" {
			return next.Process(ctx, req)
		}
		path := req.Path
		if req.OriginalPath != "" {
			path = req.OriginalPath
		}
		target := "https://" + req.Host + path
		if req.RawQuery != "" {
			target += "?" + req.RawQuery
		}
		resp := pipeline.NewResponse(http.StatusPermanentRedirect)
		resp.SetHeader("Location", target)
		return resp, nil
	})
}
