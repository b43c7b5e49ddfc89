package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hmrc/core"
)

func TestWindowLimiter_AllowsUpToLimitPerWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter, err := NewWindowLimiter(NewMemoryStateStore(), 5, WithNow(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	for i := 0; i < 5; i++ {
		allowed, allowErr := limiter.Allow(context.Background(), "usr_1")
		if allowErr != nil {
			t.Fatalf("allow %d: %v", i, allowErr)
		}
		if !allowed {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}

	allowed, err := limiter.Allow(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if allowed {
		t.Fatalf("sixth attempt should be rejected")
	}
}

func TestWindowLimiter_WindowResetsAfterExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter, err := NewWindowLimiter(NewMemoryStateStore(), 1, WithNow(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	if allowed, _ := limiter.Allow(context.Background(), "usr_1"); !allowed {
		t.Fatalf("first attempt should be allowed")
	}
	if allowed, _ := limiter.Allow(context.Background(), "usr_1"); allowed {
		t.Fatalf("second attempt in the same window should be rejected")
	}

	now = now.Add(time.Minute)
	if allowed, _ := limiter.Allow(context.Background(), "usr_1"); !allowed {
		t.Fatalf("attempt in the next window should be allowed")
	}
}

func TestWindowLimiter_UsersAreIndependent(t *testing.T) {
	limiter, err := NewWindowLimiter(NewMemoryStateStore(), 1)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	if allowed, _ := limiter.Allow(context.Background(), "usr_1"); !allowed {
		t.Fatalf("usr_1 should be allowed")
	}
	if allowed, _ := limiter.Allow(context.Background(), "usr_2"); !allowed {
		t.Fatalf("usr_2 should not share usr_1's window")
	}
}

func TestWindowLimiter_RetryAfterReportsWindowRemainder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter, err := NewWindowLimiter(NewMemoryStateStore(), 1, WithNow(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	if _, err := limiter.Allow(context.Background(), "usr_1"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	now = now.Add(20 * time.Second)

	wait, err := limiter.RetryAfter(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("retry after: %v", err)
	}
	if wait != 40*time.Second {
		t.Fatalf("expected 40s remaining, got %s", wait)
	}
}

func TestWindowLimiter_ResetClearsWindow(t *testing.T) {
	limiter, err := NewWindowLimiter(NewMemoryStateStore(), 1)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if _, err := limiter.Allow(context.Background(), "usr_1"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if err := limiter.Reset(context.Background(), "usr_1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if allowed, _ := limiter.Allow(context.Background(), "usr_1"); !allowed {
		t.Fatalf("attempt after reset should be allowed")
	}
}

func TestWindowLimiter_StoreErrorsPropagate(t *testing.T) {
	limiter, err := NewWindowLimiter(failingStore{}, 5)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if _, allowErr := limiter.Allow(context.Background(), "usr_1"); allowErr == nil {
		t.Fatalf("expected store error to propagate")
	}
}

func TestNewWindowLimiter_Validation(t *testing.T) {
	if _, err := NewWindowLimiter(nil, 5); err == nil {
		t.Fatalf("expected missing store error")
	}
	if _, err := NewWindowLimiter(NewMemoryStateStore(), 0); err == nil {
		t.Fatalf("expected invalid limit error")
	}
}

func TestThrottledError_ToServiceError(t *testing.T) {
	throttled := ThrottledError{UserID: "usr_1", RetryAfter: 30 * time.Second}
	serviceErr := throttled.ToServiceError()

	if serviceErr.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate limit category, got %v", serviceErr.Category)
	}
	if serviceErr.TextCode != core.ServiceErrorRateLimited {
		t.Fatalf("expected rate limited text code, got %q", serviceErr.TextCode)
	}
	if serviceErr.Code != 429 {
		t.Fatalf("expected 429, got %d", serviceErr.Code)
	}
	if serviceErr.Metadata["retry_after_ms"] != int64(30000) {
		t.Fatalf("expected retry_after_ms metadata, got %v", serviceErr.Metadata["retry_after_ms"])
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (core.RateLimitState, bool, error) {
	return core.RateLimitState{}, false, fmt.Errorf("store offline")
}

func (failingStore) Upsert(context.Context, core.RateLimitState) error {
	return fmt.Errorf("store offline")
}

func (failingStore) Delete(context.Context, string) error {
	return fmt.Errorf("store offline")
}
