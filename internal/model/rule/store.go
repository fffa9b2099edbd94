package rule

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store holds the ordered rule list. Order is the match priority.
type Store interface {
	List(ctx context.Context) ([]Rule, error)
	Get(ctx context.Context, id string) (Rule, error)
	Create(ctx context.Context, r Rule) (Rule, error)
	Update(ctx context.Context, r Rule) (Rule, error)
	Delete(ctx context.Context, id string) error
	Replace(ctx context.Context, rules []Rule) ([]Rule, error)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Rule
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied rules.
func NewMemoryStore(items []Rule) *MemoryStore {
	s := &MemoryStore{}
	for _, item := range items {
		s.items = append(s.items, item.Normalize().clone())
	}
	return s
}

func (s *MemoryStore) List(_ context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, len(s.items))
	for i, item := range s.items {
		out[i] = item.clone()
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i].clone(), nil
	}
	return Rule{}, ErrNotFound
}

// Create appends r at the lowest priority. An ID is generated when empty.
func (s *MemoryStore) Create(_ context.Context, r Rule) (Rule, error) {
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	r = r.Normalize()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(r.ID) >= 0 {
		r.ID = uuid.NewString()
	}
	s.items = append(s.items, r.clone())
	return r.clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, r Rule) (Rule, error) {
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	r = r.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(r.ID)
	if i < 0 {
		return Rule{}, ErrNotFound
	}
	s.items[i] = r.clone()
	return r.clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

// Replace swaps the whole list. Invalid rules reject the call without changes.
func (s *MemoryStore) Replace(_ context.Context, rules []Rule) ([]Rule, error) {
	next, err := PrepareReplace(rules)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.items = next
	s.mu.Unlock()

	out := make([]Rule, len(next))
	for i, item := range next {
		out[i] = item.clone()
	}
	return out, nil
}

func (s *MemoryStore) indexLocked(id string) int {
	for i, item := range s.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// PrepareReplace validates and normalizes a full rule list, assigning IDs to
// rules without one. Shared by Store implementations.
func PrepareReplace(rules []Rule) ([]Rule, error) {
	next := make([]Rule, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		r = r.Normalize()
		if _, dup := seen[r.ID]; r.ID == "" || dup {
			r.ID = uuid.NewString()
		}
		seen[r.ID] = struct{}{}
		next = append(next, r.clone())
	}
	return next, nil
}
