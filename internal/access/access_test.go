package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend/fake"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/flood"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/pool"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/records"
)

const subChat = -100777

func newGate(t *testing.T, tg config.TelegramConfig) (*Gate, *fake.Backend, records.Record) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := fake.New()
	sched := flood.NewScheduler(log, config.FloodConfig{SleepThreshold: time.Minute})
	p, err := pool.New(log, sched, config.PoolConfig{Workers: 1}, []pool.Member{{Role: pool.RolePrimary, Client: b.Client("primary")}})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	store := records.NewMemoryStore()
	rec := records.Record{Token: records.NewToken(), Size: 1}
	require.NoError(t, store.Put(context.Background(), rec))
	return NewGate(log, store, p, NewPolicy(tg)), b, rec
}

func ptr(v int64) *int64 { return &v }

func TestResolveOpenPolicy(t *testing.T) {
	t.Parallel()

	g, _, rec := newGate(t, config.TelegramConfig{})
	got, err := g.Resolve(context.Background(), rec.Token, nil)
	require.NoError(t, err)
	assert.Equal(t, rec.Token, got.Token)

	_, err = g.Resolve(context.Background(), records.NewToken(), nil)
	assert.ErrorIs(t, err, records.ErrNotFound)
	_, err = g.Resolve(context.Background(), "not-a-token", nil)
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestResolveRestricted(t *testing.T) {
	t.Parallel()

	g, _, rec := newGate(t, config.TelegramConfig{AuthUsers: []int64{10}, OwnerID: 1})
	assert.True(t, g.Policy().Restricted())

	_, err := g.Resolve(context.Background(), rec.Token, nil)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = g.Resolve(context.Background(), rec.Token, ptr(11))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = g.Resolve(context.Background(), rec.Token, ptr(10))
	assert.NoError(t, err)
	_, err = g.Resolve(context.Background(), rec.Token, ptr(1))
	assert.NoError(t, err, "owner is always authorized in restricted mode")

	// Existence is checked before authorization.
	_, err = g.Resolve(context.Background(), records.NewToken(), ptr(11))
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestResolveForceSubscribe(t *testing.T) {
	t.Parallel()

	g, b, rec := newGate(t, config.TelegramConfig{ForceSubChannel: subChat})
	b.SetMember(subChat, 5, true)

	_, err := g.Resolve(context.Background(), rec.Token, nil)
	assert.ErrorIs(t, err, ErrSubscriptionRequired)
	_, err = g.Resolve(context.Background(), rec.Token, ptr(6))
	assert.ErrorIs(t, err, ErrSubscriptionRequired)
	_, err = g.Resolve(context.Background(), rec.Token, ptr(5))
	require.NoError(t, err)

	// Membership is queried on every call.
	b.SetMember(subChat, 5, false)
	_, err = g.Resolve(context.Background(), rec.Token, ptr(5))
	assert.ErrorIs(t, err, ErrSubscriptionRequired)
	assert.Equal(t, int64(3), b.Client("primary").MemberCalls())
}

func TestForbiddenBeforeSubscription(t *testing.T) {
	t.Parallel()

	g, b, rec := newGate(t, config.TelegramConfig{AuthUsers: []int64{10}, ForceSubChannel: subChat})
	_, err := g.Resolve(context.Background(), rec.Token, ptr(11))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int64(0), b.Client("primary").MemberCalls())
}

func TestMembershipErrorPropagates(t *testing.T) {
	t.Parallel()

	g, b, rec := newGate(t, config.TelegramConfig{ForceSubChannel: subChat})
	boom := errors.New("api down")
	b.Client("primary").FailNext(boom)
	_, err := g.Resolve(context.Background(), rec.Token, ptr(5))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrSubscriptionRequired)
}
