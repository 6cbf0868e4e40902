package pipeline

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
)

func statusHandler(status int, body string) Middleware {
	return HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return Text(status, body), nil
	})
}

// authGate short-circuits with 401 unless the request carries a token.
func authGate() Middleware {
	return MiddlewareFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
		if req.Header.Get("Authorization") == "" {
			resp := Text(http.StatusUnauthorized, "Unauthorized")
			resp.SetHeader("WWW-Authenticate", "Basic")
			return resp, nil
		}
		return next.Process(ctx, req)
	})
}

// ---------------------------------------------------------------------------
// When
// ---------------------------------------------------------------------------

func TestForkWhen(t *testing.T) {
	p := NewBuilder().
		Add(MustWhen(Method(http.MethodHead), func(b *Builder) {
			b.Add(statusHandler(http.StatusOK, ""))
		})).
		Add(statusHandler(http.StatusInternalServerError, "")).
		MustBuild()

	resp, err := p.Serve(context.Background(), NewRequest(http.MethodHead, "/"))
	if err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("HEAD status: got %d, want 200", resp.StatusCode)
	}

	resp, err = p.Serve(context.Background(), NewRequest(http.MethodGet, "/"))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("GET status: got %d, want 500", resp.StatusCode)
	}
}

func TestForkWhenNilPredicate(t *testing.T) {
	if _, err := When(nil, nil); err == nil {
		t.Fatal("expected error for nil predicate")
	}
}

func TestForkWhenNilMiddleware(t *testing.T) {
	_, err := When(Method(http.MethodGet), func(b *Builder) { b.Add(nil) })
	if !errors.Is(err, ErrNilMiddleware) {
		t.Fatalf("expected ErrNilMiddleware, got %v", err)
	}
}

// TestForkUnmatchedIsInvisible verifies that a non-matching fork behaves as
// if it were absent: the next middleware runs with the request untouched.
func TestForkUnmatchedIsInvisible(t *testing.T) {
	var seenPath string
	var seenExt int

	fork := MustWhen(func(*Request) bool { return false }, func(b *Builder) {
		b.Add(statusHandler(http.StatusOK, "fork"))
	})

	p := NewBuilder().
		Add(fork).
		Add(HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
			seenPath = req.Path
			seenExt = len(req.Extensions)
			return Text(http.StatusOK, "after"), nil
		})).
		MustBuild()

	resp, err := p.Serve(context.Background(), newTestRequest("/untouched"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if string(resp.Body) != "after" {
		t.Errorf("body: got %q, want after", resp.Body)
	}
	if seenPath != "/untouched" || seenExt != 0 {
		t.Errorf("request changed by unmatched fork: path=%q extensions=%d", seenPath, seenExt)
	}
}

// TestForkExhaustedFallsThrough verifies the transparency property: a matched
// fork whose sub-pipeline produces no response continues with the outer chain.
func TestForkExhaustedFallsThrough(t *testing.T) {
	rec := &recorder{}
	p := NewBuilder().
		Add(MustWhen(func(*Request) bool { return true }, func(b *Builder) {
			b.Add(passthrough(rec, "sub-1"))
			b.Add(passthrough(rec, "sub-2"))
		})).
		Add(responder(rec, "outer", http.StatusOK)).
		MustBuild()

	resp, err := p.Serve(context.Background(), newTestRequest("/"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if string(resp.Body) != "outer" {
		t.Errorf("body: got %q, want outer", resp.Body)
	}
	assertOrder(t, "down", rec.down, []string{"sub-1", "sub-2", "outer"})
	assertOrder(t, "up", rec.up, []string{"outer", "sub-2", "sub-1"})
}

func TestForkExhaustedAtEndOfChain(t *testing.T) {
	p := NewBuilder().
		Add(MustWhen(func(*Request) bool { return true }, nil)).
		MustBuild()

	_, err := p.Serve(context.Background(), newTestRequest("/"))
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestForkAsStandaloneMiddleware(t *testing.T) {
	fork := MustWhen(func(*Request) bool { return true }, nil)
	_, err := fork.Process(context.Background(), newTestRequest("/"), nil)
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestNestedForks(t *testing.T) {
	p := NewBuilder().
		Add(MustWhenPath("/api", func(api *Builder) {
			api.Add(MustWhenPath("/api/v2", func(v2 *Builder) {
				v2.Add(statusHandler(http.StatusOK, "v2"))
			}))
			api.Add(MustWhen(Method(http.MethodPost), func(post *Builder) {
				post.Add(statusHandler(http.StatusCreated, "api-post"))
			}))
		})).
		Add(statusHandler(http.StatusNotFound, "not found")).
		MustBuild()

	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/v2/users", "v2"},
		{http.MethodPost, "/api/v1/users", "api-post"},
		{http.MethodGet, "/api/v1/users", "not found"},
		{http.MethodGet, "/other", "not found"},
	}
	for _, tt := range tests {
		resp, err := p.Serve(context.Background(), NewRequest(tt.method, tt.path))
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		if string(resp.Body) != tt.want {
			t.Errorf("%s %s: got %q, want %q", tt.method, tt.path, resp.Body, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// WhenPath
// ---------------------------------------------------------------------------

// TestForkWhenPathAPIScenario covers an API-version fork guarded by auth and
// followed by a catch-all 404.
func TestForkWhenPathAPIScenario(t *testing.T) {
	v2Ran := false
	p := NewBuilder().
		Add(MustWhenPath("/api/v2", func(v2 *Builder) {
			v2.Add(authGate())
			v2.Add(HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
				v2Ran = true
				return Text(http.StatusOK, "Handled by the V2 API"), nil
			}))
		})).
		Add(statusHandler(http.StatusNotFound, "Not Found")).
		MustBuild()

	resp, err := p.Serve(context.Background(), newTestRequest("/api/v1/x"))
	if err != nil {
		t.Fatalf("v1: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("v1 status: got %d, want 404", resp.StatusCode)
	}

	resp, err = p.Serve(context.Background(), newTestRequest("/api/v2/x"))
	if err != nil {
		t.Fatalf("v2 unauthenticated: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("v2 status: got %d, want 401", resp.StatusCode)
	}
	if v2Ran {
		t.Error("V2 handler must not run when auth short-circuits")
	}

	req := newTestRequest("/api/v2/x")
	req.Header.Set("Authorization", "Basic djI6cGFzc3dvcmQ=")
	resp, err = p.Serve(context.Background(), req)
	if err != nil {
		t.Fatalf("v2 authenticated: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !v2Ran {
		t.Errorf("v2 authenticated: got %d (ran=%v), want 200", resp.StatusCode, v2Ran)
	}
}

func TestForkWhenPathSegmentMatching(t *testing.T) {
	fork := MustWhenPath("/api/v2", func(b *Builder) {
		b.Add(statusHandler(http.StatusOK, "fork"))
	})
	p := NewBuilder().Add(fork).Add(statusHandler(http.StatusOK, "outer")).MustBuild()

	tests := []struct {
		path string
		want string
	}{
		{"/api/v2", "fork"},
		{"/api/v2/", "fork"},
		{"/api/v2/example/path", "fork"},
		{"/api/v2//x", "fork"},
		{"/api//v2/x", "outer"},
		{"//api/v2/x", "outer"},
		{"/api/v2x", "outer"},
		{"/api", "outer"},
		{"/", "outer"},
		{"/v2/api", "outer"},
	}
	for _, tt := range tests {
		resp, err := p.Serve(context.Background(), newTestRequest(tt.path))
		if err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if string(resp.Body) != tt.want {
			t.Errorf("%s: got %q, want %q", tt.path, resp.Body, tt.want)
		}
	}
}

func TestForkWhenPathInvalidPrefix(t *testing.T) {
	for _, prefix := range []string{"", "api/v2", "/", "///"} {
		_, err := WhenPath(prefix, nil)
		if !errors.Is(err, ErrInvalidPrefix) {
			t.Errorf("WhenPath(%q): expected ErrInvalidPrefix, got %v", prefix, err)
		}
	}
}

func TestMustWhenPathPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		if err, ok := r.(error); !ok || !errors.Is(err, ErrInvalidPrefix) {
			t.Errorf("expected ErrInvalidPrefix panic, got %v", r)
		}
	}()
	MustWhenPath("no-slash", nil)
}

// ---------------------------------------------------------------------------
// StripPrefix
// ---------------------------------------------------------------------------

func echoPath() Middleware {
	return HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return Text(http.StatusOK, req.Path+"|"+req.OriginalPath), nil
	})
}

func TestForkStripPrefix(t *testing.T) {
	p := NewBuilder().
		Add(MustWhenPath("/path/1", func(b *Builder) {
			b.Add(echoPath())
		}, StripPrefix())).
		Add(MustWhenPath("/path/2", func(b *Builder) {
			b.Add(echoPath())
		})).
		MustBuild()

	req := newTestRequest("/path/1/example/path")
	resp, err := p.Serve(context.Background(), req)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if got := string(resp.Body); got != "/example/path|/path/1/example/path" {
		t.Errorf("stripped: got %q", got)
	}
	if req.Path != "/path/1/example/path" || req.OriginalPath != "" {
		t.Errorf("request not restored: path=%q original=%q", req.Path, req.OriginalPath)
	}

	resp, err = p.Serve(context.Background(), newTestRequest("/path/2/example/path"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if got := string(resp.Body); got != "/path/2/example/path|" {
		t.Errorf("unstripped: got %q", got)
	}
}

func TestForkStripPrefixWholePath(t *testing.T) {
	p := NewBuilder().
		Add(MustWhenPath("/app", func(b *Builder) { b.Add(echoPath()) }, StripPrefix())).
		MustBuild()

	resp, err := p.Serve(context.Background(), newTestRequest("/app"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !strings.HasPrefix(string(resp.Body), "/|") {
		t.Errorf("got %q, want stripped path /", resp.Body)
	}
}

// TestForkStripPrefixRestoredOnFallThrough verifies that the outer chain sees
// the original path when a stripping fork's sub-pipeline is exhausted.
func TestForkStripPrefixRestoredOnFallThrough(t *testing.T) {
	var inner, outer string
	p := NewBuilder().
		Add(MustWhenPath("/app", func(b *Builder) {
			b.AddFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
				inner = req.Path
				return next.Process(ctx, req)
			})
		}, StripPrefix())).
		Add(HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
			outer = req.Path + "|" + req.OriginalPath
			return Text(http.StatusOK, "outer"), nil
		})).
		MustBuild()

	if _, err := p.Serve(context.Background(), newTestRequest("/app/page")); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if inner != "/page" {
		t.Errorf("inner path: got %q, want /page", inner)
	}
	if outer != "/app/page|" {
		t.Errorf("outer saw %q, want /app/page|", outer)
	}
}

func TestForkStripPrefixKeepsOuterOriginalPath(t *testing.T) {
	var seen string
	p := NewBuilder().
		Add(MustWhenPath("/a", func(a *Builder) {
			a.Add(MustWhenPath("/b", func(b *Builder) {
				b.Add(HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
					seen = req.Path + "|" + req.OriginalPath
					return Text(http.StatusOK, ""), nil
				}))
			}, StripPrefix()))
		}, StripPrefix())).
		MustBuild()

	if _, err := p.Serve(context.Background(), newTestRequest("/a/b/c")); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if seen != "/c|/a/b/c" {
		t.Errorf("got %q, want /c|/a/b/c", seen)
	}
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func TestParsePrefix(t *testing.T) {
	got, err := parsePrefix("/this/is/the/path")
	if err != nil {
		t.Fatalf("parsePrefix: %v", err)
	}
	if want := []string{"this", "is", "the", "path"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, err = parsePrefix("/hello//world")
	if err != nil {
		t.Fatalf("parsePrefix: %v", err)
	}
	if want := []string{"hello", "world"}; !reflect.DeepEqual(got, want) {
		t.Errorf("empty segments: got %v, want %v", got, want)
	}
}

func TestPathSegments(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/", nil},
		{"", nil},
		{"/api/v2", []string{"api", "v2"}},
		{"/api/v2/", []string{"api", "v2"}},
		{"/api//v2", []string{"api", "", "v2"}},
		{"//api", []string{"", "api"}},
	}
	for _, tt := range tests {
		if got := pathSegments(tt.path); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("pathSegments(%q): got %#v, want %#v", tt.path, got, tt.want)
		}
	}
}

func TestHasSegmentPrefix(t *testing.T) {
	tests := []struct {
		input, prefix []string
		want          bool
	}{
		{[]string{"1", "2", "3"}, []string{"9", "9", "9"}, false},
		{[]string{"1", "2", "3"}, []string{"1", "2", "3"}, true},
		{[]string{"1", "2", "3", "4"}, []string{"1", "2", "3"}, true},
		{[]string{"1", "2", "3"}, []string{"1", "2", "3", "4"}, false},
	}
	for _, tt := range tests {
		if got := hasSegmentPrefix(tt.input, tt.prefix); got != tt.want {
			t.Errorf("hasSegmentPrefix(%v, %v): got %v, want %v", tt.input, tt.prefix, got, tt.want)
		}
	}
}

func TestStripSegments(t *testing.T) {
	tests := []struct {
		path string
		n    int
		want string
	}{
		{"/path/1/example/path", 2, "/example/path"},
		{"/path/1", 2, "/"},
		{"/path/1/x/", 2, "/x/"},
		{"/a", 5, "/"},
		{"/path/1//x", 2, "//x"},
	}
	for _, tt := range tests {
		if got := stripSegments(tt.path, tt.n); got != tt.want {
			t.Errorf("stripSegments(%q, %d): got %q, want %q", tt.path, tt.n, got, tt.want)
		}
	}
}
