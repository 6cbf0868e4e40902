package pipeline

import "context"

// Middleware is the contract every pipeline stage implements, including
// Pipeline and Fork themselves.
//
// A middleware may return a response without calling next (short-circuit),
// mutate the request and return next.Process unchanged (delegation), call
// next and transform the response (post-processing), or call next right away
// (pass-through). next must be invoked at most once.
type Middleware interface {
	Process(ctx context.Context, req *Request, next *Next) (*Response, error)
}

// MiddlewareFunc adapts an ordinary function to the Middleware interface.
type MiddlewareFunc func(ctx context.Context, req *Request, next *Next) (*Response, error)

// Process calls f(ctx, req, next).
func (f MiddlewareFunc) Process(ctx context.Context, req *Request, next *Next) (*Response, error) {
	return f(ctx, req, next)
}

// Handler produces a response for a request with no notion of "next".
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Handle calls f(ctx, req).
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// handle wraps a Handler as a terminal middleware.
type handle struct {
	h Handler
}

// Handle adapts h into a Middleware that always returns h's own result and
// never invokes the continuation. Anything registered after it is
// unreachable, so handlers belong at the end of a pipeline.
func Handle(h Handler) Middleware {
	return handle{h: h}
}

// HandleFunc is shorthand for Handle(HandlerFunc(fn)).
func HandleFunc(fn func(ctx context.Context, req *Request) (*Response, error)) Middleware {
	return handle{h: HandlerFunc(fn)}
}

func (m handle) Process(ctx context.Context, req *Request, _ *Next) (*Response, error) {
	return m.h.Handle(ctx, req)
}
