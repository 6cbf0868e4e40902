package pipeline

import (
	"context"
	"fmt"
)

// Builder collects middlewares in registration order. It is the only mutable
// phase of a pipeline's life; Build freezes the list into a Pipeline.
// A Builder is not safe for concurrent use.
type Builder struct {
	middlewares []Middleware
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends middlewares to the end of the list. Registration order is
// execution order.
func (b *Builder) Add(mw ...Middleware) *Builder {
	b.middlewares = append(b.middlewares, mw...)
	return b
}

// AddFunc appends a MiddlewareFunc.
func (b *Builder) AddFunc(fn func(ctx context.Context, req *Request, next *Next) (*Response, error)) *Builder {
	return b.Add(MiddlewareFunc(fn))
}

// AddHandler appends h wrapped as a terminal middleware.
func (b *Builder) AddHandler(h Handler) *Builder {
	return b.Add(Handle(h))
}

// Len returns the number of registered middlewares.
func (b *Builder) Len() int {
	return len(b.middlewares)
}

// Build returns an immutable Pipeline holding a copy of the registered
// middlewares. Later calls to Add do not affect pipelines already built.
func (b *Builder) Build() (*Pipeline, error) {
	for i, mw := range b.middlewares {
		if mw == nil {
			return nil, fmt.Errorf("%w at position %d", ErrNilMiddleware, i)
		}
	}
	list := make([]Middleware, len(b.middlewares))
	copy(list, b.middlewares)
	return &Pipeline{middlewares: list}, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Pipeline {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

// Pipeline is an ordered, immutable list of middlewares. It is safe for
// concurrent use by any number of requests.
//
// A Pipeline is itself a Middleware. Registered inside another pipeline it
// is a closed unit: exhausting its own list yields ErrNoHandler rather than
// continuing with the outer chain. Use Inline for the transparent variant.
type Pipeline struct {
	middlewares []Middleware
}

// New builds a Pipeline from the given middlewares.
func New(mw ...Middleware) (*Pipeline, error) {
	return NewBuilder().Add(mw...).Build()
}

// Serve runs req through the pipeline. It is the entry point used by hosts.
func (p *Pipeline) Serve(ctx context.Context, req *Request) (*Response, error) {
	return newNext(p.middlewares, 0, nil).Process(ctx, req)
}

// Handle implements Handler.
func (p *Pipeline) Handle(ctx context.Context, req *Request) (*Response, error) {
	return p.Serve(ctx, req)
}

// Process implements Middleware. The outer continuation is never invoked.
func (p *Pipeline) Process(ctx context.Context, req *Request, _ *Next) (*Response, error) {
	return p.Serve(ctx, req)
}

// Inline returns a Middleware that runs the pipeline as a transparent
// insertion into the enclosing chain: if its list is exhausted without a
// response, the request continues with the enclosing continuation.
func (p *Pipeline) Inline() Middleware {
	return inline{p: p}
}

// Len returns the number of middlewares in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Middlewares returns a copy of the ordered middleware list.
func (p *Pipeline) Middlewares() []Middleware {
	out := make([]Middleware, len(p.middlewares))
	copy(out, p.middlewares)
	return out
}

func (p *Pipeline) runInline(ctx context.Context, req *Request, outer *Next) (*Response, error) {
	if outer == nil {
		// A transparent run with nothing behind it is the same as a closed run.
		return p.Serve(ctx, req)
	}
	return newNext(p.middlewares, 0, outer).Process(ctx, req)
}

type inline struct {
	p *Pipeline
}

func (m inline) Process(ctx context.Context, req *Request, next *Next) (*Response, error) {
	return m.p.runInline(ctx, req, next)
}
