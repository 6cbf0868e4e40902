package pipeline

import "errors"

var (
	// ErrNoHandler is returned when a continuation runs past the end of a
	// closed pipeline without any middleware producing a response. It means
	// the pipeline is missing a terminal handler.
	ErrNoHandler = errors.New("pipeline: no middleware produced a response")

	// ErrNextReused is returned when a continuation is invoked more than once.
	ErrNextReused = errors.New("pipeline: continuation invoked more than once")

	// ErrNilMiddleware is returned by Build when a nil middleware was added.
	ErrNilMiddleware = errors.New("pipeline: nil middleware")

	// ErrInvalidPrefix is returned when a fork path prefix cannot be parsed.
	ErrInvalidPrefix = errors.New("pipeline: invalid path prefix")
)
