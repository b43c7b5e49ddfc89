package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hmrc/core"
)

// ThrottledError reports that a caller exhausted its attempt window.
type ThrottledError struct {
	UserID     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: user %q throttled for %s",
		strings.TrimSpace(e.UserID),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"user_id": strings.TrimSpace(e.UserID),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ServiceErrorRateLimited).
		WithMetadata(metadata)
}

// WindowLimiter is a fixed-window attempt limiter keyed by user. It
// implements core.AttemptLimiter over a pluggable state store so the
// window survives restarts when backed by SQL.
type WindowLimiter struct {
	store  core.RateLimitStateStore
	limit  int
	window time.Duration
	nowFn  func() time.Time
}

type WindowLimiterOption func(*WindowLimiter)

// WithNow overrides the limiter clock.
func WithNow(now func() time.Time) WindowLimiterOption {
	return func(l *WindowLimiter) {
		if now != nil {
			l.nowFn = now
		}
	}
}

// WithWindow overrides the one minute default window.
func WithWindow(window time.Duration) WindowLimiterOption {
	return func(l *WindowLimiter) {
		if window > 0 {
			l.window = window
		}
	}
}

func NewWindowLimiter(store core.RateLimitStateStore, limit int, options ...WindowLimiterOption) (*WindowLimiter, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: state store is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", limit)
	}
	limiter := &WindowLimiter{
		store:  store,
		limit:  limit,
		window: time.Minute,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(limiter)
		}
	}
	return limiter, nil
}

// FromConfig builds a limiter using the configured attempts per minute.
func FromConfig(cfg core.Config, store core.RateLimitStateStore, options ...WindowLimiterOption) (*WindowLimiter, error) {
	return NewWindowLimiter(store, cfg.RateLimit.AttemptsPerMinute, options...)
}

// Allow counts the attempt and reports whether the caller is inside its
// window budget. Store failures propagate so the caller can decide the
// failure mode.
func (l *WindowLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	if l == nil || l.store == nil {
		return false, fmt.Errorf("ratelimit: limiter is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("ratelimit: user id is required")
	}

	now := l.nowFn().UTC()
	key := stateKey(userID)
	state, found, err := l.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("ratelimit: load state: %w", err)
	}
	if !found || now.Sub(state.WindowStart) >= l.window {
		state = core.RateLimitState{
			Key:         key,
			WindowStart: now,
			Count:       0,
		}
	}

	if state.Count >= l.limit {
		return false, nil
	}

	state.Count++
	state.UpdatedAt = now
	if err := l.store.Upsert(ctx, state); err != nil {
		return false, fmt.Errorf("ratelimit: save state: %w", err)
	}
	return true, nil
}

// RetryAfter reports how long the caller must wait before the current
// window resets. Zero means the caller is not throttled.
func (l *WindowLimiter) RetryAfter(ctx context.Context, userID string) (time.Duration, error) {
	if l == nil || l.store == nil {
		return 0, fmt.Errorf("ratelimit: limiter is not configured")
	}
	state, found, err := l.store.Get(ctx, stateKey(strings.TrimSpace(userID)))
	if err != nil {
		return 0, fmt.Errorf("ratelimit: load state: %w", err)
	}
	if !found || state.Count < l.limit {
		return 0, nil
	}
	resetAt := state.WindowStart.Add(l.window)
	now := l.nowFn().UTC()
	if !resetAt.After(now) {
		return 0, nil
	}
	return resetAt.Sub(now), nil
}

// Reset clears the window for a user.
func (l *WindowLimiter) Reset(ctx context.Context, userID string) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("ratelimit: limiter is not configured")
	}
	return l.store.Delete(ctx, stateKey(strings.TrimSpace(userID)))
}

func stateKey(userID string) string {
	return core.ProviderID + "|auth_attempts|" + userID
}

// MemoryStateStore is an in-memory core.RateLimitStateStore.
type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]core.RateLimitState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]core.RateLimitState{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key string) (core.RateLimitState, bool, error) {
	if s == nil {
		return core.RateLimitState{}, false, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[strings.TrimSpace(key)]
	if !ok {
		return core.RateLimitState{}, false, nil
	}
	return state, true, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state core.RateLimitState) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = strings.TrimSpace(state.Key)
	if state.Key == "" {
		return fmt.Errorf("ratelimit: state key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Key] = state
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, strings.TrimSpace(key))
	return nil
}

var (
	_ core.AttemptLimiter      = (*WindowLimiter)(nil)
	_ core.RateLimitStateStore = (*MemoryStateStore)(nil)
)
