package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is the trailing period the per-sender limit applies to.
const Window = time.Minute

// Limiter is a per-sender sliding-window counter. Each sender has its own lock;
// unrelated senders never contend.
type Limiter struct {
	limit   int
	now     func() time.Time
	windows sync.Map // sender id -> *window
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time
	swept  bool
}

type Option func(*Limiter)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New returns a Limiter allowing perMinute events per sender in any trailing
// minute. perMinute <= 0 disables limiting.
func New(perMinute int, opts ...Option) *Limiter {
	l := &Limiter{limit: perMinute, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow prunes the sender's window, then records now and returns true if the
// sender is under the limit. A denied call records nothing.
func (l *Limiter) Allow(senderID string) bool {
	if l.limit <= 0 {
		return true
	}

	now := l.now()
	for {
		v, _ := l.windows.LoadOrStore(senderID, &window{})
		w := v.(*window)

		w.mu.Lock()
		if w.swept {
			// Lost a race with Sweep; the window is no longer in the map.
			w.mu.Unlock()
			continue
		}
		w.prune(now)
		allowed := len(w.stamps) < l.limit
		if allowed {
			w.stamps = append(w.stamps, now)
		}
		w.mu.Unlock()
		return allowed
	}
}

// Remaining returns how many more events the sender may submit right now.
func (l *Limiter) Remaining(senderID string) int {
	if l.limit <= 0 {
		return -1
	}
	v, ok := l.windows.Load(senderID)
	if !ok {
		return l.limit
	}
	w := v.(*window)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(l.now())
	return l.limit - len(w.stamps)
}

// Sweep drops windows that hold no timestamps inside the trailing minute.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	l.windows.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		w.prune(now)
		if len(w.stamps) == 0 {
			w.swept = true
			l.windows.Delete(key)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}

// Run sweeps idle windows every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
