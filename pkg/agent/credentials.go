package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CredentialSource yields the current API key for a backend. Implementations
// may read config, the environment, or an external token service.
type CredentialSource func(ctx context.Context) (string, error)

// CredentialCache is a session-scoped API key cache. Providers call Refresh
// before every request, so key rotation is picked up without recreating the
// provider and without any process-wide shared state.
type CredentialCache struct {
	source CredentialSource
	ttl    time.Duration

	mu          sync.Mutex
	key         string
	refreshedAt time.Time
}

// NewCredentialCache creates a cache over source. Keys older than ttl are
// re-pulled on the next Refresh; a zero ttl re-pulls every time.
func NewCredentialCache(source CredentialSource, ttl time.Duration) *CredentialCache {
	return &CredentialCache{source: source, ttl: ttl}
}

// StaticCredential returns a cache that always yields the given key.
func StaticCredential(key string) *CredentialCache {
	return NewCredentialCache(func(context.Context) (string, error) {
		return key, nil
	}, time.Hour)
}

// Refresh returns a valid API key, consulting the source when the cached key
// is stale or missing.
func (c *CredentialCache) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != "" && c.ttl > 0 && time.Since(c.refreshedAt) < c.ttl {
		return c.key, nil
	}

	key, err := c.source(ctx)
	if err != nil {
		return "", fmt.Errorf("credential refresh failed: %w", err)
	}
	if key == "" {
		return "", fmt.Errorf("credential source returned an empty key")
	}

	c.key = key
	c.refreshedAt = time.Now()
	return key, nil
}

// Invalidate drops the cached key so the next Refresh hits the source.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = ""
}
