package token

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("credentials not found")

// Store persists the current Record. Only the token manager writes to it.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
}

// MemoryStore keeps the record in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	rec *Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rec == nil {
		return Record{}, ErrNotFound
	}
	return *s.rec, nil
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	s.rec = &rec
	s.mu.Unlock()
	return nil
}
