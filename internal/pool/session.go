package pool

import (
	"context"
	"errors"
	"time"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/flood"
)

type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

type Health string

const (
	HealthActive   Health = "active"
	HealthDegraded Health = "degraded"
	HealthDead     Health = "dead"
)

// Session is one authenticated backend client and its bookkeeping. All
// mutable fields are guarded by the owning Pool's mutex.
type Session struct {
	name   string
	role   Role
	client backend.Client
	gate   *flood.Gate

	health        Health
	degradedUntil time.Time
	lastUsed      time.Time
	inUse         int
	authFailures  int
	failures      int
}

// Member declares a session at pool construction.
type Member struct {
	Role   Role
	Client backend.Client
}

// Status is a point-in-time copy of a session's state.
type Status struct {
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	Health        Health    `json:"health"`
	DegradedUntil time.Time `json:"degraded_until,omitempty"`
	LastUsed      time.Time `json:"last_used,omitempty"`
	InUse         int       `json:"in_use"`
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeFailure
	OutcomeAuthFailure
	// OutcomeNeutral leaves health untouched: the caller went away or the
	// failure belongs to the object, not the session.
	OutcomeNeutral
)

// Result is what a caller reports when handing a session back.
type Result struct {
	Outcome Outcome
	Delay   time.Duration
}

var (
	Success = Result{Outcome: OutcomeSuccess}
	Neutral = Result{Outcome: OutcomeNeutral}
	Failure = Result{Outcome: OutcomeFailure}
)

func RateLimited(delay time.Duration) Result {
	return Result{Outcome: OutcomeRateLimited, Delay: delay}
}

// ResultOf classifies the error returned by a backend call.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, context.Canceled):
		return Neutral
	case backend.IsPermanent(err):
		return Neutral
	case errors.Is(err, backend.ErrUnauthorized):
		return Result{Outcome: OutcomeAuthFailure}
	}
	if d, ok := backend.FloodDelay(err); ok {
		return RateLimited(d)
	}
	return Failure
}
