package stage

import (
	"context"
	"net/http"

	"github.com/allaspectsdev/forkline/internal/pipeline"
)

// Static answers every request with a fixed plain-text response.
func Static(status int, body string) pipeline.Middleware {
	return pipeline.HandleFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		return pipeline.Text(status, body), nil
	})
}

// NotFound answers every request with 404.
func NotFound() pipeline.Middleware {
	return Static(http.StatusNotFound, "Not Found")
}

// echoBody is the JSON document returned by Echo.
type echoBody struct {
	ID           string              `json:"id,omitempty"`
	Method       string              `json:"method"`
	Path         string              `json:"path"`
	OriginalPath string              `json:"original_path,omitempty"`
	Query        string              `json:"query,omitempty"`
	Headers      map[string][]string `json:"headers,omitempty"`
	User         string              `json:"user,omitempty"`
}

// Echo answers with a JSON description of the request as it reached the
// handler. Useful for checking what earlier stages did to a request.
func Echo() pipeline.Middleware {
	return pipeline.HandleFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		body := echoBody{
			ID:           req.ID,
			Method:       req.Method,
			Path:         req.Path,
			OriginalPath: req.OriginalPath,
			Query:        req.RawQuery,
			Headers:      req.Header.Clone(),
		}
		delete(body.Headers, "Authorization")
		if u, ok := req.Get(UserKey); ok {
			body.User, _ = u.(string)
		}
		return pipeline.JSON(http.StatusOK, body)
	})
}
