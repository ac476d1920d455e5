// Package cache provides generic read-through caching layers that sit between
// the storefront and its sources of truth.
package cache

import (
	"context"
	"errors"
	"io"
)

// ErrCacheMiss is returned by a Cache that holds no value for a key and has no
// fallback to consult.
var ErrCacheMiss = errors.New("cache miss")

// Fetcher retrieves a value by key from a source of truth or another cache layer.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	io.Closer
}

// Cache is a Fetcher that can also be written to and invalidated.
type Cache[K comparable, V any] interface {
	Fetcher[K, V]
	// WriteToCache stores a value for key.
	WriteToCache(ctx context.Context, key K, value V) error
	// Invalidate removes key. Removing a missing key is not an error.
	Invalidate(ctx context.Context, key K) error
	// Purge removes every key held by this cache.
	Purge(ctx context.Context) error
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Fetch calls f.
func (f FetcherFunc[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// Close is a no-op.
func (f FetcherFunc[K, V]) Close() error {
	return nil
}
