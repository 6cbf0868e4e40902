package stage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/allaspectsdev/forkline/internal/pipeline"
)

// ErrPanic is wrapped by errors produced by Recover.
var ErrPanic = errors.New("stage: panic in middleware")

// PanicError carries a recovered panic value and the stack at the point of
// the panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrPanic, e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrPanic
}

// Recover converts a panic anywhere further down the chain into a
// *PanicError returned to the caller.
func Recover() pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(ctx context.Context, req *pipeline.Request, next *pipeline.Next) (resp *pipeline.Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				resp = nil
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return next.Process(ctx, req)
	})
}
