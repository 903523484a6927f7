package records

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// sharedLookupTimeout bounds a collapsed read, which outlives any single
// caller's context.
const sharedLookupTimeout = 30 * time.Second

// CachedStore fronts another store with a TTL cache. Records never change,
// so a hit is always correct; misses are not cached so a token written by
// another node becomes visible immediately.
type CachedStore struct {
	next  Store
	cache *cache.Cache
	group singleflight.Group
}

func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (s *CachedStore) Put(ctx context.Context, rec Record) error {
	if err := s.next.Put(ctx, rec); err != nil {
		return err
	}
	s.cache.SetDefault(rec.Token, rec)
	return nil
}

// Get collapses concurrent reads of one token. The shared read is detached
// from the caller that started it; each caller only waits on its own ctx.
func (s *CachedStore) Get(ctx context.Context, token string) (Record, error) {
	if v, ok := s.cache.Get(token); ok {
		return v.(Record), nil
	}
	ch := s.group.DoChan(token, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		rec, err := s.next.Get(shared, token)
		if err != nil {
			return Record{}, err
		}
		s.cache.SetDefault(token, rec)
		return rec, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Record{}, res.Err
		}
		return res.Val.(Record), nil
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}
