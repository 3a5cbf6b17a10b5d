// Package cache wraps dgraph-io/ristretto as a best-effort in-process
// memoization layer. Admission is probabilistic: a Set may be dropped
// under pressure, so callers must treat every Get miss as a normal
// fetch, never as a correctness signal.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is a byte-value cache keyed by string.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded by maxCostBytes of stored values.
func New(maxCostBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get retrieves a value.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false
	}
	return val, true
}

// Set stores a value with the given TTL. Best effort.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
}

// Delete removes a value.
func (c *Cache) Delete(_ context.Context, key string) {
	c.c.Del(key)
}

// Close releases the cache's resources.
func (c *Cache) Close() {
	c.c.Close()
}
