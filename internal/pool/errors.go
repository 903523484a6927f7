package pool

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoSessionAvailable is returned when every session is degraded or dead.
var ErrNoSessionAvailable = errors.New("no session available")

// NoSessionError tells the caller when a degraded session becomes usable
// again. RetryAt is zero when every session is dead.
type NoSessionError struct {
	RetryAt time.Time
}

func (e *NoSessionError) Error() string {
	if e.RetryAt.IsZero() {
		return ErrNoSessionAvailable.Error()
	}
	return fmt.Sprintf("%s until %s", ErrNoSessionAvailable, e.RetryAt.Format(time.RFC3339))
}

func (e *NoSessionError) Is(target error) bool { return target == ErrNoSessionAvailable }
