// Package pool owns the backend sessions and is the only place that decides
// which session serves a call.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/flood"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/metrics"
)

const (
	// transientLimit consecutive failures degrade a session for transientCooldown.
	transientLimit    = 3
	transientCooldown = 10 * time.Second
)

type Pool struct {
	sched           *flood.Scheduler
	logger          *slog.Logger
	maxAuthFailures int
	now             func() time.Time

	mu       sync.Mutex
	sessions []*Session
	byName   map[string]*Session
}

// New builds a pool from members. The number of sessions may not exceed the
// worker ceiling, and names must be unique.
func New(log *slog.Logger, sched *flood.Scheduler, cfg config.PoolConfig, members []Member) (*Pool, error) {
	if len(members) == 0 {
		return nil, errors.New("pool: no sessions configured")
	}
	if cfg.Workers > 0 && len(members) > cfg.Workers {
		return nil, fmt.Errorf("pool: %d sessions exceed %d workers", len(members), cfg.Workers)
	}
	maxAuth := cfg.MaxAuthFailures
	if maxAuth <= 0 {
		maxAuth = 3
	}
	p := &Pool{
		sched:           sched,
		logger:          log.With(slog.String("component", "pool")),
		maxAuthFailures: maxAuth,
		now:             time.Now,
		byName:          make(map[string]*Session, len(members)),
	}
	for _, m := range members {
		name := m.Client.Name()
		if _, dup := p.byName[name]; dup {
			return nil, fmt.Errorf("pool: duplicate session %q", name)
		}
		role := m.Role
		if role == "" {
			role = RoleSecondary
		}
		s := &Session{
			name:   name,
			role:   role,
			client: m.Client,
			gate:   sched.NewGate(name),
			health: HealthActive,
		}
		p.sessions = append(p.sessions, s)
		p.byName[name] = s
	}
	return p, nil
}

// Start authenticates every session concurrently. Sessions that fail are
// marked dead; Start fails only when none is usable.
func (p *Pool) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	var ok atomic.Int32
	for _, s := range p.sessions {
		g.Go(func() error {
			if err := s.client.Authenticate(gctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("session authentication failed",
					slog.String("session", s.name), slog.Any("error", err))
				p.mu.Lock()
				s.health = HealthDead
				p.mu.Unlock()
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.publish()
	if ok.Load() == 0 {
		return fmt.Errorf("pool start: %w", ErrNoSessionAvailable)
	}
	p.logger.Info("session pool ready", slog.Int("sessions", len(p.sessions)), slog.Int("active", int(ok.Load())))
	return nil
}

// AcquireOptions narrows session selection.
type AcquireOptions struct {
	// Avoid lists sessions the caller would rather not get; they are used
	// only when no other session is healthy.
	Avoid []string
}

// Acquire checks out the least recently used healthy session and waits for
// its rate budget.
func (p *Pool) Acquire(ctx context.Context, opts AcquireOptions) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := p.pick(opts.Avoid)
	if err != nil {
		return nil, err
	}
	h := &Handle{pool: p, session: s}
	if err := p.sched.BeforeCall(ctx, s.gate); err != nil {
		h.Release(Neutral)
		return nil, err
	}
	return h, nil
}

func (p *Pool) pick(avoid []string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var best, fallback *Session
	var retryAt time.Time
	for _, s := range p.sessions {
		p.promoteLocked(s, now)
		switch s.health {
		case HealthDead:
			continue
		case HealthDegraded:
			if retryAt.IsZero() || s.degradedUntil.Before(retryAt) {
				retryAt = s.degradedUntil
			}
			continue
		}
		if slices.Contains(avoid, s.name) {
			if better(s, fallback) {
				fallback = s
			}
			continue
		}
		if better(s, best) {
			best = s
		}
	}
	if best == nil {
		best = fallback
	}
	if best == nil {
		return nil, &NoSessionError{RetryAt: retryAt}
	}
	best.lastUsed = now
	best.inUse++
	return best, nil
}

func better(s, than *Session) bool {
	if than == nil {
		return true
	}
	if !s.lastUsed.Equal(than.lastUsed) {
		return s.lastUsed.Before(than.lastUsed)
	}
	return s.inUse < than.inUse
}

func (p *Pool) promoteLocked(s *Session, now time.Time) {
	if s.health == HealthDegraded && !now.Before(s.degradedUntil) {
		s.health = HealthActive
		s.degradedUntil = time.Time{}
	}
}

func (p *Pool) release(s *Session, r Result) {
	p.mu.Lock()
	now := p.now()
	if s.inUse > 0 {
		s.inUse--
	}
	var logDead, logDegraded bool
	switch r.Outcome {
	case OutcomeSuccess:
		s.authFailures = 0
		s.failures = 0
		p.promoteLocked(s, now)
	case OutcomeRateLimited:
		until := now.Add(r.Delay)
		if s.health != HealthDead {
			s.health = HealthDegraded
			if until.After(s.degradedUntil) {
				s.degradedUntil = until
			}
		}
	case OutcomeAuthFailure:
		s.authFailures++
		if s.authFailures >= p.maxAuthFailures && s.health != HealthDead {
			s.health = HealthDead
			logDead = true
		}
	case OutcomeFailure:
		s.failures++
		if s.failures >= transientLimit && s.health == HealthActive {
			s.health = HealthDegraded
			s.degradedUntil = now.Add(transientCooldown)
			s.failures = 0
			logDegraded = true
		}
	}
	p.mu.Unlock()

	if r.Outcome == OutcomeRateLimited {
		p.sched.OnRateLimited(s.gate, r.Delay)
	}
	if logDead {
		p.logger.Error("session marked dead after repeated authentication failures", slog.String("session", s.name))
	}
	if logDegraded {
		p.logger.Warn("session degraded after repeated failures", slog.String("session", s.name))
	}
	p.publish()
}

// HasAlternative reports whether a healthy session other than those in
// exclude exists right now.
func (p *Pool) HasAlternative(exclude ...string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for _, s := range p.sessions {
		p.promoteLocked(s, now)
		if s.health == HealthActive && !slices.Contains(exclude, s.name) {
			return true
		}
	}
	return false
}

// HasAvailable reports whether any session could serve a call now.
func (p *Pool) HasAvailable() bool { return p.HasAlternative() }

// Snapshot copies the state of every session.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make([]Status, 0, len(p.sessions))
	for _, s := range p.sessions {
		p.promoteLocked(s, now)
		out = append(out, Status{
			Name:          s.name,
			Role:          s.role,
			Health:        s.health,
			DegradedUntil: s.degradedUntil,
			LastUsed:      s.lastUsed,
			InUse:         s.inUse,
		})
	}
	return out
}

func (p *Pool) publish() {
	counts := map[string]int{string(HealthActive): 0, string(HealthDegraded): 0, string(HealthDead): 0}
	for _, st := range p.Snapshot() {
		counts[string(st.Health)]++
	}
	metrics.SetSessions(counts)
}

// Handle is a checked-out session. Release must be called exactly once;
// later calls are ignored.
type Handle struct {
	pool     *Pool
	session  *Session
	released atomic.Bool
}

func (h *Handle) Name() string           { return h.session.name }
func (h *Handle) Role() Role             { return h.session.role }
func (h *Handle) Client() backend.Client { return h.session.client }

func (h *Handle) Release(r Result) {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.pool.release(h.session, r)
}

// Backoff pauses this session for d without giving it up, for callers that
// prefer to wait out a flood on the session they hold.
func (h *Handle) Backoff(d time.Duration) {
	h.pool.sched.OnRateLimited(h.session.gate, d)
}

// Wait blocks until the held session may issue its next call.
func (h *Handle) Wait(ctx context.Context) error {
	return h.pool.sched.BeforeCall(ctx, h.session.gate)
}
