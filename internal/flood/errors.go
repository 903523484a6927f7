package flood

import (
	"errors"
	"fmt"
	"time"
)

// ErrUpstreamBusy is returned when the backend asks for a longer pause than
// the configured sleep threshold allows.
var ErrUpstreamBusy = errors.New("upstream busy")

// BusyError carries the backend's requested delay so HTTP callers can send
// Retry-After.
type BusyError struct {
	RetryAfter time.Duration
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("upstream busy, retry after %s", e.RetryAfter)
}

func (e *BusyError) Is(target error) bool { return target == ErrUpstreamBusy }
