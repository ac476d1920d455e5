package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// FallbackConfig holds configuration for the cache-fallback fetcher.
type FallbackConfig struct {
	// CacheWriteTimeout bounds the background write-back to the cache.
	CacheWriteTimeout time.Duration
	// LoadTimeout bounds a source load. Loads are detached from the caller's
	// cancellation so that an abandoned request still warms the cache.
	LoadTimeout time.Duration
}

// FallbackFetcher uses a cache-then-source strategy. Concurrent loads of the
// same key are collapsed into one source call.
type FallbackFetcher[K comparable, V any] struct {
	cacheTimeout time.Duration
	loadTimeout  time.Duration
	logger       zerolog.Logger
	source       Fetcher[K, V]
	cache        Cache[K, V]
	group        singleflight.Group

	// epoch advances on every invalidation; a write-back of a value loaded in
	// an earlier epoch is dropped.
	mu    sync.Mutex
	epoch uint64
}

// NewFallbackFetcher creates a FallbackFetcher. source may be nil when every
// call goes through FetchWith.
func NewFallbackFetcher[K comparable, V any](
	cfg FallbackConfig,
	cache Cache[K, V],
	source Fetcher[K, V],
	logger zerolog.Logger,
) (*FallbackFetcher[K, V], error) {
	if cache == nil {
		return nil, errors.New("cache cannot be nil")
	}
	if cfg.CacheWriteTimeout <= 0 {
		cfg.CacheWriteTimeout = 5 * time.Second
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	return &FallbackFetcher[K, V]{
		cacheTimeout: cfg.CacheWriteTimeout,
		loadTimeout:  cfg.LoadTimeout,
		logger:       logger.With().Str("component", "FallbackFetcher").Logger(),
		source:       source,
		cache:        cache,
	}, nil
}

// Fetch loads key from the cache, or from the configured source on a miss.
func (f *FallbackFetcher[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	if f.source == nil {
		var zero V
		return zero, fmt.Errorf("no source configured for key '%v'", key)
	}
	return f.FetchWith(ctx, key, f.source.Fetch)
}

// FetchWith loads key from the cache, or from load on a miss. The caller stops
// waiting when ctx is done, but the load itself runs on and writes back.
func (f *FallbackFetcher[K, V]) FetchWith(ctx context.Context, key K, load func(ctx context.Context, key K) (V, error)) (V, error) {
	var zero V
	stringKey := fmt.Sprintf("%v", key)

	ch := f.group.DoChan(stringKey, func() (interface{}, error) {
		f.mu.Lock()
		epoch := f.epoch
		f.mu.Unlock()

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.loadTimeout)
		defer cancel()

		// 1. Try to fetch from cache
		value, err := f.cache.Fetch(loadCtx, key)
		if err == nil {
			f.logger.Debug().Str("key", stringKey).Msg("Cache hit.")
			return value, nil
		}
		f.logger.Debug().Err(err).Str("key", stringKey).Msg("Cache miss. Falling back to source.")

		// 2. Cache miss, fallback to source
		value, err = load(loadCtx, key)
		if err != nil {
			return zero, fmt.Errorf("error fetching from source: %w", err)
		}

		// 3. Source hit, write back to cache in the background.
		go f.writeBack(ctx, key, value, epoch)
		return value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (f *FallbackFetcher[K, V]) writeBack(ctx context.Context, key K, value V, epoch uint64) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cacheTimeout)
	defer cancel()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epoch != epoch {
		f.logger.Debug().Str("key", fmt.Sprintf("%v", key)).Msg("Dropped write-back loaded before an invalidation.")
		return
	}
	if err := f.cache.WriteToCache(writeCtx, key, value); err != nil {
		f.logger.Error().Err(err).Msg("Failed to write to cache in background.")
	}
}

// Invalidate removes key from the cache and forgets any in-flight load for it,
// so the next Fetch reaches the source.
func (f *FallbackFetcher[K, V]) Invalidate(ctx context.Context, key K) error {
	f.bump()
	f.group.Forget(fmt.Sprintf("%v", key))
	return f.cache.Invalidate(ctx, key)
}

// Purge empties the cache.
func (f *FallbackFetcher[K, V]) Purge(ctx context.Context) error {
	f.bump()
	return f.cache.Purge(ctx)
}

func (f *FallbackFetcher[K, V]) bump() {
	f.mu.Lock()
	f.epoch++
	f.mu.Unlock()
}

// Close closes the cache and the source.
func (f *FallbackFetcher[K, V]) Close() error {
	if err := f.cache.Close(); err != nil {
		f.logger.Error().Err(err).Msg("Error closing cache.")
		return fmt.Errorf("error closing cache: %w", err)
	}
	if f.source != nil {
		if err := f.source.Close(); err != nil {
			f.logger.Error().Err(err).Msg("Error closing source.")
			return fmt.Errorf("error closing source: %w", err)
		}
	}
	return nil
}
