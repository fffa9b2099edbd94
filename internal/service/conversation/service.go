package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/shopbot/backend/internal/model/conversation"
)

// DefaultMaxHistory is ten buyer/assistant pairs.
const DefaultMaxHistory = 20

// MemoryStore keeps bounded per-sender histories in process memory. Writes
// for one sender are serialized by that sender's lock; the map lock is only
// held to find or create the entry.
type MemoryStore struct {
	mu      sync.RWMutex
	limit   int
	senders map[string]*history
}

type history struct {
	mu      sync.Mutex
	entries []conversation.Entry
}

// NewMemoryStore bootstraps the in-memory store keeping at most limit entries per sender.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultMaxHistory
	}
	return &MemoryStore{
		limit:   limit,
		senders: make(map[string]*history),
	}
}

// Limit returns the per-sender bound.
func (s *MemoryStore) Limit() int {
	return s.limit
}

// Append adds entries in order and evicts the oldest beyond the bound.
func (s *MemoryStore) Append(_ context.Context, senderID string, entries ...conversation.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	h := s.historyFor(senderID, true)
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range entries {
		e.SenderID = senderID
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		h.entries = append(h.entries, e)
	}
	if over := len(h.entries) - s.limit; over > 0 {
		// Copy down so the evicted prefix can be collected.
		h.entries = append(h.entries[:0:0], h.entries[over:]...)
	}
	return nil
}

// History returns a copy of the sender's entries, oldest first.
func (s *MemoryStore) History(_ context.Context, senderID string) ([]conversation.Entry, error) {
	h := s.historyFor(senderID, false)
	if h == nil {
		return []conversation.Entry{}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	copied := make([]conversation.Entry, len(h.entries))
	copy(copied, h.entries)
	return copied, nil
}

// Clear forgets the sender's history.
func (s *MemoryStore) Clear(_ context.Context, senderID string) error {
	h := s.historyFor(senderID, false)
	if h == nil {
		return nil
	}
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
	return nil
}

// Senders lists senders with at least one stored entry, sorted.
func (s *MemoryStore) Senders(_ context.Context) ([]string, error) {
	s.mu.RLock()
	candidates := make(map[string]*history, len(s.senders))
	for id, h := range s.senders {
		candidates[id] = h
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(candidates))
	for id, h := range candidates {
		h.mu.Lock()
		if len(h.entries) > 0 {
			ids = append(ids, id)
		}
		h.mu.Unlock()
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) historyFor(senderID string, create bool) *history {
	s.mu.RLock()
	h, ok := s.senders[senderID]
	s.mu.RUnlock()
	if ok || !create {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.senders[senderID]; !ok {
		h = &history{}
		s.senders[senderID] = h
	}
	return h
}

var _ conversation.Store = (*MemoryStore)(nil)
