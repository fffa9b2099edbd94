package msglog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/shopbot/backend/internal/model/msglog"
)

// DefaultCapacity bounds the in-memory operator log.
const DefaultCapacity = 1000

// MemoryStore is a fixed-size ring of the most recent records.
type MemoryStore struct {
	mu    sync.Mutex
	ring  []msglog.Record
	next  int
	count int
}

var _ msglog.Store = (*MemoryStore)(nil)

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{ring: make([]msglog.Record, capacity)}
}

func (s *MemoryStore) Append(_ context.Context, rec msglog.Record) error {
	Stamp(&rec)

	s.mu.Lock()
	s.ring[s.next] = rec
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	s.mu.Unlock()
	return nil
}

// Recent returns up to limit records, newest first. limit <= 0 means all.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]msglog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > s.count {
		limit = s.count
	}
	out := make([]msglog.Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out, nil
}

// Stamp fills the ID and timestamp of a record that has none.
func Stamp(rec *msglog.Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
}
