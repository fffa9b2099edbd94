// Package lifecycle keeps the marketplace access token fresh. A single
// background actor refreshes ahead of expiry; request paths only ever read
// the published record.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/zhouzirui/shopbot/backend/internal/apperr"
	"github.com/zhouzirui/shopbot/backend/internal/logging"
	"github.com/zhouzirui/shopbot/backend/internal/model/token"
)

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	RefreshToken(ctx context.Context, rec token.Record) (token.Record, error)
}

type Config struct {
	SafetyMargin   time.Duration // refresh this long before expiry
	CheckInterval  time.Duration
	MaxRetries     uint64 // retries after the first attempt
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	RefreshTimeout time.Duration // per attempt
}

func (c Config) withDefaults() Config {
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 30 * time.Minute
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Minute
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = time.Minute
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 30 * time.Second
	}
	return c
}

var errUnusableToken = errors.New("refresh returned an unusable token")

type Manager struct {
	store     token.Store
	refresher Refresher
	cfg       Config
	log       logging.Logger
	now       func() time.Time

	current  atomic.Pointer[token.Record]
	degraded atomic.Bool
	manual   chan struct{}

	// publish serializes writers of current and degraded. A refresh result is
	// only published while the record it started from is still current.
	publish sync.Mutex

	mu          sync.Mutex
	lastRefresh time.Time
	lastErr     string
}

type Option func(*Manager)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

func NewManager(store token.Store, refresher Refresher, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		cfg:       cfg.withDefaults(),
		log:       logging.Discard(),
		now:       time.Now,
		manual:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load publishes the persisted record, if any. Call once before Run.
func (m *Manager) Load(ctx context.Context) error {
	rec, err := m.store.Load(ctx)
	if errors.Is(err, token.ErrNotFound) {
		m.log.Warn(ctx, "no stored credentials, waiting for shop authorization")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	m.publish.Lock()
	m.current.Store(&rec)
	m.publish.Unlock()
	m.log.Info(ctx, "credentials loaded", "shop_id", rec.ShopID, "expires_at", rec.ExpiresAt)
	return nil
}

// Install publishes the record obtained from the authorization-code exchange.
func (m *Manager) Install(ctx context.Context, rec token.Record) error {
	if !rec.Valid(m.now()) || rec.RefreshToken == "" {
		return errUnusableToken
	}
	m.publish.Lock()
	defer m.publish.Unlock()

	if err := m.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	m.current.Store(&rec)
	m.degraded.Store(false)
	m.setResult(m.now(), "")
	m.log.Info(ctx, "shop authorized", "shop_id", rec.ShopID, "expires_at", rec.ExpiresAt)
	return nil
}

// ValidToken returns the current access token without waiting for any
// in-flight refresh. It fails with AuthUnavailable when there is no token or
// the last one has expired.
func (m *Manager) ValidToken(_ context.Context) (string, error) {
	rec := m.current.Load()
	if rec == nil {
		return "", apperr.New(apperr.KindAuthUnavailable, "no_token", nil)
	}
	if !rec.Valid(m.now()) {
		return "", apperr.New(apperr.KindAuthUnavailable, "expired", nil)
	}
	return rec.AccessToken, nil
}

// Current returns a copy of the published record.
func (m *Manager) Current() (token.Record, bool) {
	rec := m.current.Load()
	if rec == nil {
		return token.Record{}, false
	}
	return *rec, true
}

// Degraded reports whether the last refresh exhausted its retries.
func (m *Manager) Degraded() bool {
	return m.degraded.Load()
}

// RequestRefresh asks the background actor to refresh on its next turn even if
// the token is not due. Requests coalesce; it returns false when one is
// already pending.
func (m *Manager) RequestRefresh() bool {
	select {
	case m.manual <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run is the refresh actor. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.log.Info(ctx, "token refresher started", "interval", m.cfg.CheckInterval, "margin", m.cfg.SafetyMargin)
	_ = m.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.log.Info(ctx, "token refresher stopped")
			return
		case <-ticker.C:
			_ = m.Tick(ctx)
		case <-m.manual:
			_ = m.refresh(ctx)
		}
	}
}

// Tick refreshes when now has passed ExpiresAt - SafetyMargin.
func (m *Manager) Tick(ctx context.Context) error {
	rec := m.current.Load()
	if rec == nil {
		return nil
	}
	if m.now().Before(rec.ExpiresAt.Add(-m.cfg.SafetyMargin)) {
		return nil
	}
	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) error {
	prev := m.current.Load()
	if prev == nil {
		return apperr.New(apperr.KindAuthUnavailable, "no_token", nil)
	}
	old := *prev

	backoff := retry.WithMaxRetries(m.cfg.MaxRetries,
		retry.WithCappedDuration(m.cfg.BackoffCap, retry.NewExponential(m.cfg.BackoffBase)))

	attempt := 0
	var fresh token.Record
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.RefreshTimeout)
		defer cancel()

		next, err := m.refresher.RefreshToken(attemptCtx, old)
		if err == nil && !next.Valid(m.now()) {
			err = errUnusableToken
		}
		if err != nil {
			m.log.Warn(ctx, "token refresh attempt failed", "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		}
		fresh = next
		return nil
	})

	m.publish.Lock()
	defer m.publish.Unlock()

	if m.current.Load() != prev {
		// Re-authorized while the exchange was in flight.
		m.log.Info(ctx, "refresh result discarded, credentials were replaced", "attempts", attempt, "err", err)
		return nil
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.degraded.Store(true)
		m.setResult(time.Time{}, err.Error())
		m.log.Error(ctx, "token refresh exhausted retries, running degraded",
			"attempts", attempt, "expires_at", old.ExpiresAt, "err", err)
		return apperr.New(apperr.KindAuthUnavailable, "refresh_failed", err)
	}

	if fresh.ShopID == 0 {
		fresh.ShopID = old.ShopID
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = old.RefreshToken
	}
	if fresh.IssuedAt.IsZero() {
		fresh.IssuedAt = m.now()
	}

	m.current.Store(&fresh)
	wasDegraded := m.degraded.Swap(false)
	m.setResult(m.now(), "")

	if err := m.store.Save(ctx, fresh); err != nil {
		m.log.Error(ctx, "persist refreshed token failed", "err", err)
	}
	m.log.Info(ctx, "token refreshed", "shop_id", fresh.ShopID, "expires_at", fresh.ExpiresAt,
		"attempts", attempt, "recovered", wasDegraded)
	return nil
}

func (m *Manager) setResult(at time.Time, errMsg string) {
	m.mu.Lock()
	if !at.IsZero() {
		m.lastRefresh = at
	}
	m.lastErr = errMsg
	m.mu.Unlock()
}

// Status reports token health for the status endpoint.
func (m *Manager) Status() token.Status {
	now := m.now()
	st := token.Status{State: token.StateNoToken, Degraded: m.degraded.Load()}

	m.mu.Lock()
	if !m.lastRefresh.IsZero() {
		at := m.lastRefresh
		st.LastRefreshAt = &at
	}
	st.LastError = m.lastErr
	m.mu.Unlock()

	rec := m.current.Load()
	if rec == nil {
		return st
	}
	expires := rec.ExpiresAt
	st.Authorized = true
	st.ShopID = rec.ShopID
	st.ExpiresAt = &expires
	st.State = rec.StateAt(now)
	if left := expires.Sub(now); left > 0 {
		st.ExpiresIn = int64(left / time.Second)
	}
	return st
}
