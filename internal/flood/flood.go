// Package flood enforces per-session call spacing and turns backend
// flood-wait signals into wait, failover or give-up decisions.
package flood

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/metrics"
)

// Policy selects how a caller prefers to absorb a flood wait.
type Policy int

const (
	// PreferWait stays on the same session (ingest).
	PreferWait Policy = iota
	// PreferFailover moves to another session when one exists (streaming).
	PreferFailover
)

type Action int

const (
	ActionWait Action = iota
	ActionFailover
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionWait:
		return "wait"
	case ActionFailover:
		return "failover"
	default:
		return "give_up"
	}
}

type Decision struct {
	Action Action
	Wait   time.Duration
}

// Gate is the rate budget of one session.
type Gate struct {
	name    string
	limiter *rate.Limiter

	mu           sync.Mutex
	blockedUntil time.Time
}

func (g *Gate) Name() string { return g.name }

// BlockedUntil is the end of the current flood cooldown, zero if none.
func (g *Gate) BlockedUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blockedUntil
}

type Scheduler struct {
	minSpacing time.Duration
	maxWait    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewScheduler(log *slog.Logger, cfg config.FloodConfig) *Scheduler {
	return &Scheduler{
		minSpacing: cfg.MinCallSpacing,
		maxWait:    cfg.SleepThreshold,
		now:        time.Now,
		logger:     log.With(slog.String("component", "flood")),
	}
}

// MaxWait is the longest single wait the scheduler accepts.
func (s *Scheduler) MaxWait() time.Duration { return s.maxWait }

func (s *Scheduler) NewGate(name string) *Gate {
	limit := rate.Inf
	if s.minSpacing > 0 {
		limit = rate.Every(s.minSpacing)
	}
	return &Gate{name: name, limiter: rate.NewLimiter(limit, 1)}
}

// BeforeCall blocks until g may issue its next backend call.
func (s *Scheduler) BeforeCall(ctx context.Context, g *Gate) error {
	for {
		if d := g.BlockedUntil().Sub(s.now()); d > 0 {
			if err := Sleep(ctx, d); err != nil {
				return err
			}
			continue
		}
		if err := g.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		// A flood wait may have landed while we queued on the limiter.
		if g.BlockedUntil().After(s.now()) {
			continue
		}
		return nil
	}
}

// OnRateLimited records a flood wait reported for g.
func (s *Scheduler) OnRateLimited(g *Gate, delay time.Duration) {
	until := s.now().Add(delay)
	g.mu.Lock()
	if until.After(g.blockedUntil) {
		g.blockedUntil = until
	}
	g.mu.Unlock()
	metrics.RecordFloodWait(g.name, delay)
	s.logger.Warn("flood wait", slog.String("session", g.name), slog.Duration("delay", delay))
}

// Decide chooses how to react to a flood wait of delay after the caller has
// already waited for waited in this operation.
func (s *Scheduler) Decide(policy Policy, delay, waited time.Duration, hasAlternative bool) Decision {
	if policy == PreferFailover && hasAlternative {
		return Decision{Action: ActionFailover}
	}
	if delay > s.maxWait || waited+delay > s.maxWait {
		return Decision{Action: ActionGiveUp, Wait: delay}
	}
	return Decision{Action: ActionWait, Wait: delay}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff is the pause before retry attempt n (1-based) after a transient
// failure: 100ms doubling up to 2s.
func Backoff(n int) time.Duration {
	d := 100 * time.Millisecond
	for i := 1; i < n && d < 2*time.Second; i++ {
		d *= 2
	}
	return min(d, 2*time.Second)
}
