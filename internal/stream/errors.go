package stream

import "errors"

var (
	// ErrRangeNotSatisfiable is returned when the requested range starts at
	// or past the end of the object.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrUpstreamRead is returned when a chunk could not be read within the
	// retry budget or the object is gone upstream.
	ErrUpstreamRead = errors.New("upstream read failed")
)
