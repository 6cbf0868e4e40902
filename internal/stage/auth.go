package stage

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/allaspectsdev/forkline/internal/pipeline"
)

// UserKey is the request extension key under which BasicAuth stores the
// authenticated user name.
const UserKey = "auth.user"

// Credentials looks up the expected password for a user.
type Credentials interface {
	Lookup(user string) (password string, ok bool)
}

// StaticCredentials is an in-memory user → password table.
type StaticCredentials map[string]string

// Lookup implements Credentials.
func (c StaticCredentials) Lookup(user string) (string, bool) {
	p, ok := c[user]
	return p, ok
}

// BasicAuth requires HTTP basic credentials accepted by creds. Requests that
// fail are answered with 401 and a WWW-Authenticate challenge for realm; the
// rest of the chain does not run.
func BasicAuth(realm string, creds Credentials) pipeline.Middleware {
	challenge := `Basic realm="` + strings.ReplaceAll(realm, `"`, `'`) + `"`
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
		user, password, ok := parseBasicAuth(req.Header.Get("Authorization"))
		if !ok || !checkPassword(creds, user, password) {
			resp := pipeline.Text(http.StatusUnauthorized, "Unauthorized")
			resp.SetHeader("WWW-Authenticate", challenge)
			return resp, nil
		}
		req.Set(UserKey, user)
		return next.Process(ctx, req)
	})
}

func parseBasicAuth(header string) (user, password string, ok bool) {
	// Reuse net/http's parser, which handles the case-insensitive scheme.
	r := http.Request{Header: http.Header{"Authorization": {header}}}
	return r.BasicAuth()
}

func checkPassword(creds Credentials, user, password string) bool {
	expected, found := creds.Lookup(user)
	if !found {
		// Compare anyway so unknown users take the same time.
		expected = password + "x"
	}
	match := subtle.ConstantTimeCompare([]byte(password), []byte(expected)) == 1
	return found && match
}

// BearerAuth validates a Bearer token using constant-time comparison.
// Requests without a token receive 401, requests with a wrong token 403.
func BearerAuth(token string) pipeline.Middleware {
	tokenBytes := []byte(token)
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (*pipeline.Response, error) {
		const prefix = "Bearer "
		authHeader := req.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, prefix) {
			resp := jsonError(http.StatusUnauthorized, "authentication required")
			resp.SetHeader("WWW-Authenticate", "Bearer")
			return resp, nil
		}

		provided := []byte(strings.TrimPrefix(authHeader, prefix))
		if subtle.ConstantTimeCompare(provided, tokenBytes) != 1 {
			return jsonError(http.StatusForbidden, "invalid token"), nil
		}
		return next.Process(ctx, req)
	})
}

func jsonError(status int, msg string) *pipeline.Response {
	resp, err := pipeline.JSON(status, map[string]string{"error": msg})
	if err != nil {
		return pipeline.Text(status, msg)
	}
	return resp
}
