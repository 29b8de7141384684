package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	backendpkg "github.com/drblury/pulsehub/backend"
	errorspkg "github.com/drblury/pulsehub/internal/runtime/errors"
)

// CacheBackend is the key-value subset the cache needs from a backend.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Cache is a TTL cache over the resolved backend's key-value store. All
// keys are stored under the configured key prefix so multiple services can
// share one backend without colliding.
type Cache struct {
	backend   CacheBackend
	keyPrefix string
	metrics   *Metrics
}

// NewCache creates a cache over the given backend.
func NewCache(backend CacheBackend, keyPrefix string) *Cache {
	return &Cache{
		backend:   backend,
		keyPrefix: keyPrefix,
	}
}

// WithMetrics attaches metrics collection and returns the cache.
func (c *Cache) WithMetrics(metrics *Metrics) *Cache {
	c.metrics = metrics
	return c
}

// Get looks up a cache entry. The second return value reports whether the
// key was present; a miss is not an error.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, errorspkg.ErrKeyRequired
	}

	value, err := c.backend.Get(ctx, c.keyPrefix+key)
	switch {
	case errors.Is(err, backendpkg.ErrKeyNotFound):
		c.metrics.CacheOp("get", "miss")
		return "", false, nil
	case err != nil:
		c.metrics.CacheOp("get", "error")
		return "", false, fmt.Errorf("%w: get %q: %v", errorspkg.ErrBackendUnavailable, key, err)
	}

	c.metrics.CacheOp("get", "hit")
	return value, true, nil
}

// Set stores a cache entry with the given time-to-live. The TTL must be
// positive; entries without expiry are not supported.
func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if key == "" {
		return errorspkg.ErrKeyRequired
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: got %s", errorspkg.ErrInvalidTTL, ttl)
	}

	if err := c.backend.Set(ctx, c.keyPrefix+key, value, ttl); err != nil {
		c.metrics.CacheOp("set", "error")
		return fmt.Errorf("%w: set %q: %v", errorspkg.ErrBackendUnavailable, key, err)
	}

	c.metrics.CacheOp("set", "ok")
	return nil
}

// Del removes a cache entry. Deleting a missing key is a no-op.
func (c *Cache) Del(ctx context.Context, key string) error {
	if key == "" {
		return errorspkg.ErrKeyRequired
	}

	err := c.backend.Del(ctx, c.keyPrefix+key)
	switch {
	case errors.Is(err, backendpkg.ErrKeyNotFound):
		// already gone
	case err != nil:
		c.metrics.CacheOp("del", "error")
		return fmt.Errorf("%w: del %q: %v", errorspkg.ErrBackendUnavailable, key, err)
	}

	c.metrics.CacheOp("del", "ok")
	return nil
}
