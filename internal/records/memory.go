package records

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Records are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.Token]; ok {
		return ErrDuplicateToken
	}
	s.recs[rec.Token] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, token string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[token]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}
