package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// Fork routes matching requests into a sub-pipeline and lets every other
// request pass straight through to the rest of the enclosing chain.
//
// The sub-pipeline is a transparent insertion: if it runs out of middlewares
// without producing a response, the request continues with whatever follows
// the Fork. This differs from registering a plain Pipeline, which is closed.
type Fork struct {
	match  Predicate
	sub    *Pipeline
	prefix []string // non-nil for path forks
	strip  bool
}

// ForkOption configures a Fork.
type ForkOption func(*Fork)

// StripPrefix makes a path fork remove its prefix from req.Path while the
// sub-pipeline runs. The untouched path is available in req.OriginalPath.
// Both fields are restored before the request leaves the fork.
func StripPrefix() ForkOption {
	return func(f *Fork) {
		f.strip = true
	}
}

// When builds a Fork that delegates to the sub-pipeline populated by build
// whenever pred reports true. build runs immediately.
func When(pred Predicate, build func(*Builder), opts ...ForkOption) (*Fork, error) {
	if pred == nil {
		return nil, fmt.Errorf("pipeline: fork predicate is nil")
	}
	b := NewBuilder()
	if build != nil {
		build(b)
	}
	sub, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("building fork: %w", err)
	}
	f := &Fork{match: pred, sub: sub}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// MustWhen is like When but panics on error.
func MustWhen(pred Predicate, build func(*Builder), opts ...ForkOption) *Fork {
	f, err := When(pred, build, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// WhenPath builds a Fork that matches requests whose path starts with the
// segments of prefix, e.g. "/api/v2" matches "/api/v2" and "/api/v2/users"
// but not "/api/v2x". prefix must start with "/" and name at least one
// segment.
func WhenPath(prefix string, build func(*Builder), opts ...ForkOption) (*Fork, error) {
	segments, err := parsePrefix(prefix)
	if err != nil {
		return nil, err
	}
	f, err := When(segmentPrefix(segments), build, opts...)
	if err != nil {
		return nil, err
	}
	f.prefix = segments
	return f, nil
}

// MustWhenPath is like WhenPath but panics on error.
func MustWhenPath(prefix string, build func(*Builder), opts ...ForkOption) *Fork {
	f, err := WhenPath(prefix, build, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// Sub returns the fork's sub-pipeline.
func (f *Fork) Sub() *Pipeline {
	return f.sub
}

// Process implements Middleware.
func (f *Fork) Process(ctx context.Context, req *Request, next *Next) (*Response, error) {
	if !f.match(req) {
		return next.Process(ctx, req)
	}
	if !f.strip || f.prefix == nil {
		return f.sub.runInline(ctx, req, next)
	}
	return f.processStripped(ctx, req, next)
}

func (f *Fork) processStripped(ctx context.Context, req *Request, next *Next) (*Response, error) {
	savedPath, savedOriginal := req.Path, req.OriginalPath
	if req.OriginalPath == "" {
		req.OriginalPath = req.Path
	}
	req.Path = stripSegments(req.Path, len(f.prefix))

	restored := false
	restore := func() {
		if !restored {
			req.Path, req.OriginalPath = savedPath, savedOriginal
			restored = true
		}
	}
	defer restore()

	if next == nil {
		return f.sub.Serve(ctx, req)
	}

	// The outer chain must see the request exactly as the fork received it.
	bridge := newNext([]Middleware{MiddlewareFunc(func(ctx context.Context, req *Request, n *Next) (*Response, error) {
		restore()
		return n.Process(ctx, req)
	})}, 0, next)

	return f.sub.runInline(ctx, req, bridge)
}

// parsePrefix splits a fork prefix into its non-empty segments. Only the
// prefix is normalised; request paths keep their empty segments.
func parsePrefix(prefix string) ([]string, error) {
	if !strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("%w: %q must start with /", ErrInvalidPrefix, prefix)
	}
	segments := splitSegments(prefix)
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %q is empty", ErrInvalidPrefix, prefix)
	}
	return segments, nil
}

func splitSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// pathSegments splits a request path after its leading slash. Empty
// segments are kept, so "/api//v2" is ["api", "", "v2"]; a trailing slash
// adds no segment.
func pathSegments(path string) []string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func hasSegmentPrefix(path []string, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

// stripSegments removes the first n segments from path. The result always
// starts with "/" and keeps a trailing slash if path had one.
func stripSegments(path string, n int) string {
	rest := pathSegments(path)
	if n > len(rest) {
		n = len(rest)
	}
	rest = rest[n:]
	if len(rest) == 0 {
		return "/"
	}
	out := "/" + strings.Join(rest, "/")
	if strings.HasSuffix(path, "/") {
		out += "/"
	}
	return out
}
