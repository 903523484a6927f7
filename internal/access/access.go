// Package access resolves public tokens to stored records and applies the
// authorization and force-subscribe policy.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/pool"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/records"
)

var (
	// ErrForbidden is returned when the policy is restricted and the
	// requester is absent or not authorized.
	ErrForbidden = errors.New("forbidden")
	// ErrSubscriptionRequired is returned when the requester has not joined
	// the force-subscribe channel.
	ErrSubscriptionRequired = errors.New("subscription required")
)

// Policy is built once at startup from configuration.
type Policy struct {
	Authorized     map[int64]struct{}
	ForceSubChat   int64
	UpdatesChannel string
}

func NewPolicy(cfg config.TelegramConfig) Policy {
	p := Policy{
		Authorized:     make(map[int64]struct{}, len(cfg.AuthUsers)+1),
		ForceSubChat:   cfg.ForceSubChannel,
		UpdatesChannel: cfg.UpdatesChannel,
	}
	for _, id := range cfg.AuthUsers {
		p.Authorized[id] = struct{}{}
	}
	if cfg.OwnerID != 0 && len(p.Authorized) > 0 {
		p.Authorized[cfg.OwnerID] = struct{}{}
	}
	return p
}

// Restricted reports whether only listed users may use the gateway.
func (p Policy) Restricted() bool { return len(p.Authorized) > 0 }

func (p Policy) ForceSubscribe() bool { return p.ForceSubChat != 0 }

// NeedsIdentity reports whether links must carry the requester's identity.
func (p Policy) NeedsIdentity() bool { return p.Restricted() || p.ForceSubscribe() }

func (p Policy) allows(id int64) bool {
	_, ok := p.Authorized[id]
	return ok
}

type Gate struct {
	store  records.Store
	pool   *pool.Pool
	policy Policy
	logger *slog.Logger
}

func NewGate(log *slog.Logger, store records.Store, p *pool.Pool, policy Policy) *Gate {
	return &Gate{
		store:  store,
		pool:   p,
		policy: policy,
		logger: log.With(slog.String("service", "access")),
	}
}

func (g *Gate) Policy() Policy { return g.policy }

// Resolve looks up token and checks requester against the policy. Checks
// run in order: existence, authorization, subscription.
func (g *Gate) Resolve(ctx context.Context, token string, requester *int64) (records.Record, error) {
	if !records.ValidToken(token) {
		return records.Record{}, records.ErrNotFound
	}
	rec, err := g.store.Get(ctx, token)
	if err != nil {
		return records.Record{}, err
	}
	if err := g.Authorize(ctx, requester); err != nil {
		return records.Record{}, err
	}
	return rec, nil
}

// Authorize applies the policy without a record lookup.
func (g *Gate) Authorize(ctx context.Context, requester *int64) error {
	if g.policy.Restricted() && (requester == nil || !g.policy.allows(*requester)) {
		return ErrForbidden
	}
	if !g.policy.ForceSubscribe() {
		return nil
	}
	if requester == nil {
		return ErrSubscriptionRequired
	}
	member, err := g.isMember(ctx, *requester)
	if err != nil {
		return err
	}
	if !member {
		return ErrSubscriptionRequired
	}
	return nil
}

func (g *Gate) isMember(ctx context.Context, userID int64) (bool, error) {
	h, err := g.pool.Acquire(ctx, pool.AcquireOptions{})
	if err != nil {
		return false, err
	}
	member, err := h.Client().IsMember(ctx, g.policy.ForceSubChat, userID)
	h.Release(pool.ResultOf(err))
	if err != nil {
		g.logger.Warn("membership check failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return false, fmt.Errorf("membership check: %w", err)
	}
	return member, nil
}
