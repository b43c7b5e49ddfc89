package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-hmrc/core"
)

const rateLimitStateCacheKeyPrefix = "go-hmrc::ratelimit_state::v1"

// CachedRateLimitStateStore keeps hot limiter windows out of the
// database. Upserts write through and invalidate the cached entry so a
// later read refetches the authoritative row.
type CachedRateLimitStateStore struct {
	base  core.RateLimitStateStore
	cache repositorycache.CacheService
}

func NewCachedRateLimitStateStore(
	base core.RateLimitStateStore,
	cacheService repositorycache.CacheService,
) (*CachedRateLimitStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base rate-limit state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: rate-limit cache service is required")
	}
	return &CachedRateLimitStateStore{base: base, cache: cacheService}, nil
}

// RateLimitStateCacheKey returns the deterministic cache key for a
// limiter bucket: go-hmrc::ratelimit_state::v1::<bucket_key> with the
// bucket segment URL-path escaped.
func RateLimitStateCacheKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("sqlstore: rate-limit key is required")
	}
	return rateLimitStateCacheKeyPrefix + "::" + url.PathEscape(key), nil
}

type cachedRateLimitState struct {
	State core.RateLimitState
	Found bool
}

func (s *CachedRateLimitStateStore) Get(ctx context.Context, key string) (core.RateLimitState, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.RateLimitState{}, false, fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	cacheKey, err := RateLimitStateCacheKey(key)
	if err != nil {
		return core.RateLimitState{}, false, err
	}

	cached, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedRateLimitState, error) {
		state, found, fetchErr := s.base.Get(ctx, key)
		if fetchErr != nil {
			return cachedRateLimitState{}, fetchErr
		}
		return cachedRateLimitState{State: state, Found: found}, nil
	})
	if err != nil {
		return core.RateLimitState{}, false, err
	}
	return cached.State, cached.Found, nil
}

func (s *CachedRateLimitStateStore) Upsert(ctx context.Context, state core.RateLimitState) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	cacheKey, err := RateLimitStateCacheKey(state.Key)
	if err != nil {
		return err
	}
	if err := s.base.Upsert(ctx, state); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func (s *CachedRateLimitStateStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	cacheKey, err := RateLimitStateCacheKey(key)
	if err != nil {
		return err
	}
	if err := s.base.Delete(ctx, key); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.RateLimitStateStore = (*CachedRateLimitStateStore)(nil)
