package cache

import (
	"context"
	"time"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/auth"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
)

// TokenStore keeps the analysis API bearer token in Redis so that every
// replica reuses one token instead of requesting its own
type TokenStore struct {
	cache *Service
	now   func() time.Time
}

// NewTokenStore creates a token store on top of the cache service
func NewTokenStore(cache *Service) *TokenStore {
	return &TokenStore{cache: cache, now: time.Now}
}

// Load returns the shared token, or nil when none is stored
func (s *TokenStore) Load(ctx context.Context, key string) (*auth.CachedToken, error) {
	var token auth.CachedToken
	if err := s.cache.Get(ctx, CacheKey{Prefix: PrefixAuthToken, ID: key}, &token); err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

// Save stores the token until it expires
func (s *TokenStore) Save(ctx context.Context, key string, token auth.CachedToken) error {
	ttl := token.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.cache.Delete(ctx, CacheKey{Prefix: PrefixAuthToken, ID: key})
	}
	return s.cache.Set(ctx, CacheKey{Prefix: PrefixAuthToken, ID: key}, token, ttl)
}

// Delete removes the shared token, e.g. after the analysis API refused it
func (s *TokenStore) Delete(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, CacheKey{Prefix: PrefixAuthToken, ID: key})
}
