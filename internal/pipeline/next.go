package pipeline

import (
	"context"
	"sync/atomic"
)

// Next is a single-use handle to the remainder of a chain. A middleware
// receives one per invocation and may call Process at most once; a second
// call fails with ErrNextReused and runs nothing.
//
// When the cursor is past the end of the chain, a Next created by a closed
// pipeline returns ErrNoHandler, while one created by a transparent
// (inlined or forked) pipeline hands the request to the outer continuation.
type Next struct {
	chain []Middleware
	index int
	outer *Next
	used  atomic.Bool
}

func newNext(chain []Middleware, index int, outer *Next) *Next {
	return &Next{chain: chain, index: index, outer: outer}
}

// Process runs the middleware at the cursor with a continuation positioned
// one step further and returns its result unchanged. A nil Next behaves as
// an exhausted closed chain.
func (n *Next) Process(ctx context.Context, req *Request) (*Response, error) {
	if n == nil {
		return nil, ErrNoHandler
	}
	if !n.used.CompareAndSwap(false, true) {
		return nil, ErrNextReused
	}

	if n.index >= len(n.chain) {
		if n.outer != nil {
			return n.outer.Process(ctx, req)
		}
		return nil, ErrNoHandler
	}

	return n.chain[n.index].Process(ctx, req, newNext(n.chain, n.index+1, n.outer))
}

// Used reports whether Process has already been called.
func (n *Next) Used() bool {
	return n != nil && n.used.Load()
}
