package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRU is a size-limited, in-memory cache with optional per-entry TTL.
// On a miss it consults its fallback Fetcher, if configured, and keeps the result.
type LRU[K comparable, V any] struct {
	entries  *expirable.LRU[K, V]
	fallback Fetcher[K, V]
}

// NewLRU creates an in-memory LRU cache.
// - maxSize: The maximum number of items to store. Must be > 0.
// - ttl: How long an item lives after being written. Zero disables expiry.
// - fallback: An optional Fetcher used to populate the cache on a miss.
func NewLRU[K comparable, V any](maxSize int, ttl time.Duration, fallback Fetcher[K, V]) (*LRU[K, V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return &LRU[K, V]{
		entries:  expirable.NewLRU[K, V](maxSize, nil, ttl),
		fallback: fallback,
	}, nil
}

// Fetch returns the cached value for key, falling back to the source on a miss.
func (c *LRU[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	if value, ok := c.entries.Get(key); ok {
		return value, nil
	}

	var zero V
	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in LRU cache: %w", key, ErrCacheMiss)
	}

	value, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}
	c.entries.Add(key, value)
	return value, nil
}

// WriteToCache stores value under key.
func (c *LRU[K, V]) WriteToCache(_ context.Context, key K, value V) error {
	c.entries.Add(key, value)
	return nil
}

// Invalidate removes key.
func (c *LRU[K, V]) Invalidate(_ context.Context, key K) error {
	c.entries.Remove(key)
	return nil
}

// Purge removes every entry.
func (c *LRU[K, V]) Purge(_ context.Context) error {
	c.entries.Purge()
	return nil
}

// Len returns the number of live entries.
func (c *LRU[K, V]) Len() int {
	return c.entries.Len()
}

// Close is a no-op for the in-memory cache.
func (c *LRU[K, V]) Close() error {
	return nil
}
