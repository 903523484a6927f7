package ingest

import "errors"

var (
	// ErrUpstreamWrite is returned when the file could not be written to the
	// log channel within the retry budget.
	ErrUpstreamWrite = errors.New("upstream write failed")
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("file too large")
	// ErrEmpty is returned for zero-byte uploads.
	ErrEmpty = errors.New("file is empty")
)
