package auth

import (
	"context"
	"sync"
	"time"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
)

// CachedToken is a bearer token and the time it stops being accepted
type CachedToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UsableAt reports whether the token can still be sent at now, leaving
// margin before expiry so it is refreshed early
func (t CachedToken) UsableAt(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// TokenStore shares tokens between replicas. Load returns nil, nil on a miss.
type TokenStore interface {
	Load(ctx context.Context, key string) (*CachedToken, error)
	Save(ctx context.Context, key string, token CachedToken) error
	Delete(ctx context.Context, key string) error
}

// TokenCache holds the current token behind a mutex. Concurrent refreshes
// are allowed and the last writer wins; tokens are interchangeable.
type TokenCache struct {
	mu      sync.Mutex
	token   CachedToken
	margin  time.Duration
	store   TokenStore
	key     string
	// refused is the last invalidated value; the store may still return it
	refused string
	now     func() time.Time
	logger  *logging.Logger
}

// NewTokenCache creates a cache. store may be nil.
func NewTokenCache(margin time.Duration, store TokenStore, key string) *TokenCache {
	return &TokenCache{
		margin: margin,
		store:  store,
		key:    key,
		now:    time.Now,
		logger: logging.GetLogger(),
	}
}

// Get returns a usable token from memory, then from the shared store
func (c *TokenCache) Get(ctx context.Context) (string, bool) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token.UsableAt(c.now(), c.margin) {
		return token.Value, true
	}
	if c.store == nil {
		return "", false
	}

	shared, err := c.store.Load(ctx, c.key)
	if err != nil {
		c.logger.Warn("Token store unavailable", "key", c.key, "error", err.Error())
		return "", false
	}
	if shared == nil || !shared.UsableAt(c.now(), c.margin) {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if shared.Value == c.refused {
		return "", false
	}
	c.token = *shared
	return shared.Value, true
}

// Set replaces the cached token and publishes it to the shared store
func (c *TokenCache) Set(ctx context.Context, token CachedToken) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, c.key, token); err != nil {
		c.logger.Warn("Failed to share token", "key", c.key, "error", err.Error())
	}
}

// Invalidate drops the token from memory and from the shared store so that
// no replica sends it again
func (c *TokenCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	if c.token.Value != "" {
		c.refused = c.token.Value
	}
	c.token = CachedToken{}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, c.key); err != nil {
		c.logger.Warn("Failed to remove refused token from store", "key", c.key, "error", err.Error())
	}
}
