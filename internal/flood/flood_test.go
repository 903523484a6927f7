package flood

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
)

func newScheduler(spacing, maxWait time.Duration) *Scheduler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(log, config.FloodConfig{MinCallSpacing: spacing, SleepThreshold: maxWait})
}

func TestDecide(t *testing.T) {
	t.Parallel()

	s := newScheduler(0, 60*time.Second)
	tests := []struct {
		name   string
		policy Policy
		delay  time.Duration
		waited time.Duration
		alt    bool
		want   Action
	}{
		{name: "failover with alternative", policy: PreferFailover, delay: 5 * time.Second, alt: true, want: ActionFailover},
		{name: "failover without alternative waits", policy: PreferFailover, delay: 5 * time.Second, want: ActionWait},
		{name: "wait policy ignores alternative", policy: PreferWait, delay: 5 * time.Second, alt: true, want: ActionWait},
		{name: "delay over threshold", policy: PreferWait, delay: 61 * time.Second, want: ActionGiveUp},
		{name: "cumulative wait over threshold", policy: PreferWait, delay: 30 * time.Second, waited: 40 * time.Second, want: ActionGiveUp},
		{name: "exactly threshold", policy: PreferWait, delay: 60 * time.Second, want: ActionWait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := s.Decide(tt.policy, tt.delay, tt.waited, tt.alt)
			if got.Action != tt.want {
				t.Fatalf("Decide() = %s, want %s", got.Action, tt.want)
			}
		})
	}
}

func TestBeforeCallHonorsCooldown(t *testing.T) {
	t.Parallel()

	s := newScheduler(0, time.Minute)
	g := s.NewGate("primary")
	s.OnRateLimited(g, 80*time.Millisecond)

	start := time.Now()
	if err := s.BeforeCall(context.Background(), g); err != nil {
		t.Fatalf("BeforeCall: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("BeforeCall returned after %s, before the cooldown ended", elapsed)
	}
}

func TestBeforeCallSpacesCalls(t *testing.T) {
	t.Parallel()

	s := newScheduler(30*time.Millisecond, time.Minute)
	g := s.NewGate("primary")
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.BeforeCall(context.Background(), g); err != nil {
			t.Fatalf("BeforeCall: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Fatalf("three calls took %s, want spacing of about 30ms", elapsed)
	}
}

func TestBeforeCallCanceled(t *testing.T) {
	t.Parallel()

	s := newScheduler(0, time.Minute)
	g := s.NewGate("primary")
	s.OnRateLimited(g, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.BeforeCall(ctx, g); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("BeforeCall error = %v, want deadline exceeded", err)
	}
}

func TestOnRateLimitedKeepsLongestCooldown(t *testing.T) {
	t.Parallel()

	s := newScheduler(0, time.Minute)
	g := s.NewGate("primary")
	s.OnRateLimited(g, time.Minute)
	first := g.BlockedUntil()
	s.OnRateLimited(g, time.Second)
	if !g.BlockedUntil().Equal(first) {
		t.Fatal("shorter flood wait shortened the cooldown")
	}
}

func TestBusyErrorIs(t *testing.T) {
	t.Parallel()

	var err error = &BusyError{RetryAfter: 90 * time.Second}
	if !errors.Is(err, ErrUpstreamBusy) {
		t.Fatal("BusyError should match ErrUpstreamBusy")
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond, 2 * time.Second, 2 * time.Second}
	for i, w := range want {
		if got := Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}
