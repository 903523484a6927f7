// Package workers bounds how many operations run at once.
package workers

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"
)

type Limiter struct {
	size     int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

func NewLimiter(size int) *Limiter {
	if size < 1 {
		size = 1
	}
	return &Limiter{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

func (l *Limiter) Size() int { return int(l.size) }

// InFlight is the number of slots currently held.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// TryAcquire takes a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inFlight.Add(1)
	return true
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inFlight.Add(1)
	return nil
}

func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// Go runs fn in a new goroutine once a slot is free. It returns ctx's error
// if the context ends first, in which case fn never runs.
func (l *Limiter) Go(ctx context.Context, fn func()) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	go func() {
		defer l.Release()
		fn()
	}()
	return nil
}

// Wait blocks until every running operation has finished.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, l.size); err != nil {
		return err
	}
	l.sem.Release(l.size)
	return nil
}

// Middleware rejects requests with 503 while every slot is taken. Requests
// for which skip returns true bypass the limiter.
func (l *Limiter) Middleware(skip func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skip != nil && skip(c) {
				return next(c)
			}
			if !l.TryAcquire() {
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "server busy")
			}
			defer l.Release()
			return next(c)
		}
	}
}
