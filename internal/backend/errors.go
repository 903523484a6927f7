package backend

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned when the session credential is rejected.
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrObjectUnavailable is returned when the stored object cannot be read
	// by any session (deleted, too large for the API, unknown id).
	ErrObjectUnavailable = errors.New("backend: object unavailable")
	// ErrNoFile is returned when a message carries no file.
	ErrNoFile = errors.New("backend: message has no file")
)

// FloodWaitError asks the caller to pause this session for Delay.
type FloodWaitError struct {
	Delay time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("backend: flood wait %s", e.Delay)
}

// FloodDelay reports the delay carried by a flood-wait error anywhere in
// err's chain.
func FloodDelay(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Delay, true
	}
	return 0, false
}

// IsPermanent reports whether retrying err on any session is pointless.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrObjectUnavailable) || errors.Is(err, ErrNoFile)
}
