package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-storefront/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSourceOfTruth is a test double that simulates a database or other primary data source.
type mockSourceOfTruth struct {
	callCount atomic.Int32
	data      map[string]string
}

func newMockSourceOfTruth() *mockSourceOfTruth {
	return &mockSourceOfTruth{
		data: map[string]string{
			"product:123": "Walnut Desk",
			"product:456": "Oak Shelf",
		},
	}
}

func (m *mockSourceOfTruth) Fetch(_ context.Context, key string) (string, error) {
	m.callCount.Add(1)
	if val, ok := m.data[key]; ok {
		return val, nil
	}
	return "", errors.New("not found in source")
}

func (m *mockSourceOfTruth) Close() error { return nil }

// mockFetcher is a test double for the cache.Fetcher interface.
type mockFetcher[K comparable, V any] struct {
	FetchFunc func(ctx context.Context, key K) (V, error)
	CloseFunc func() error
}

func (m *mockFetcher[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, key)
	}
	var zero V
	return zero, fmt.Errorf("mock fetcher not implemented")
}

func (m *mockFetcher[K, V]) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// TestChainedCache_FallbackAndInvalidation demonstrates the lifecycle of a
// two-layer cache, including fallback on miss and explicit invalidation.
func TestChainedCache_FallbackAndInvalidation(t *testing.T) {
	ctx := context.Background()
	const testKey = "product:123"

	// Arrange: L1 (small LRU) -> L2 (larger LRU standing in for Redis) -> Source (Mock)
	source := newMockSourceOfTruth()
	l2Cache, err := cache.NewLRU[string, string](100, 0, source)
	require.NoError(t, err)
	l1Cache, err := cache.NewLRU[string, string](10, 0, l2Cache)
	require.NoError(t, err)

	t.Run("First Fetch causes cache miss and fallback", func(t *testing.T) {
		value, err := l1Cache.Fetch(ctx, testKey)

		require.NoError(t, err)
		assert.Equal(t, "Walnut Desk", value)
		assert.Equal(t, int32(1), source.callCount.Load(), "Source of truth should be called exactly once")
	})

	t.Run("Second Fetch is a cache hit", func(t *testing.T) {
		value, err := l1Cache.Fetch(ctx, testKey)

		require.NoError(t, err)
		assert.Equal(t, "Walnut Desk", value)
		assert.Equal(t, int32(1), source.callCount.Load(), "Source of truth should NOT be called on a cache hit")
	})

	t.Run("Fetch after L1 invalidation is served by L2", func(t *testing.T) {
		require.NoError(t, l1Cache.Invalidate(ctx, testKey))

		value, err := l1Cache.Fetch(ctx, testKey)

		require.NoError(t, err)
		assert.Equal(t, "Walnut Desk", value)
		assert.Equal(t, int32(1), source.callCount.Load(), "Invalidation does not cascade, so L2 still answers")
	})

	t.Run("Purging both layers reaches the source again", func(t *testing.T) {
		require.NoError(t, l1Cache.Purge(ctx))
		require.NoError(t, l2Cache.Purge(ctx))

		_, err := l1Cache.Fetch(ctx, testKey)

		require.NoError(t, err)
		assert.Equal(t, int32(2), source.callCount.Load())
	})
}

func TestFallbackFetcher(t *testing.T) {
	ctx := context.Background()

	t.Run("Cache hit skips the source", func(t *testing.T) {
		// Arrange
		l, err := cache.NewLRU[string, string](10, 0, nil)
		require.NoError(t, err)
		require.NoError(t, l.WriteToCache(ctx, "k", "cached"))
		source := newMockSourceOfTruth()
		f, err := cache.NewFallbackFetcher[string, string](cache.FallbackConfig{}, l, source, zerolog.Nop())
		require.NoError(t, err)

		// Act
		v, err := f.Fetch(ctx, "k")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "cached", v)
		assert.Equal(t, int32(0), source.callCount.Load())
	})

	t.Run("Miss loads from source and writes back", func(t *testing.T) {
		// Arrange
		l, err := cache.NewLRU[string, string](10, 0, nil)
		require.NoError(t, err)
		source := newMockSourceOfTruth()
		f, err := cache.NewFallbackFetcher[string, string](cache.FallbackConfig{}, l, source, zerolog.Nop())
		require.NoError(t, err)

		// Act
		v, err := f.Fetch(ctx, "product:456")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "Oak Shelf", v)
		require.Eventually(t, func() bool { return l.Len() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("Source failure is wrapped", func(t *testing.T) {
		// Arrange
		l, err := cache.NewLRU[string, int](10, 0, nil)
		require.NoError(t, err)
		expectedErr := errors.New("source is down")
		source := &mockFetcher[string, int]{
			FetchFunc: func(ctx context.Context, key string) (int, error) { return 0, expectedErr },
		}
		f, err := cache.NewFallbackFetcher[string, int](cache.FallbackConfig{}, l, source, zerolog.Nop())
		require.NoError(t, err)

		// Act
		_, err = f.Fetch(ctx, "any-key")

		// Assert
		require.Error(t, err)
		assert.ErrorIs(t, err, expectedErr)
	})

	t.Run("Concurrent misses share one load", func(t *testing.T) {
		// Arrange
		l, err := cache.NewLRU[string, string](10, 0, nil)
		require.NoError(t, err)
		var loads atomic.Int32
		release := make(chan struct{})
		load := func(ctx context.Context, key string) (string, error) {
			loads.Add(1)
			<-release
			return "value", nil
		}
		f, err := cache.NewFallbackFetcher[string, string](cache.FallbackConfig{}, l, nil, zerolog.Nop())
		require.NoError(t, err)

		// Act
		var wg sync.WaitGroup
		results := make([]string, 5)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _ = f.FetchWith(ctx, "shared", load)
			}(i)
		}
		require.Eventually(t, func() bool { return loads.Load() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		// Assert
		assert.Equal(t, int32(1), loads.Load())
		for _, r := range results {
			assert.Equal(t, "value", r)
		}
	})

	t.Run("Abandoned caller still warms the cache", func(t *testing.T) {
		// Arrange
		l, err := cache.NewLRU[string, string](10, 0, nil)
		require.NoError(t, err)
		release := make(chan struct{})
		load := func(ctx context.Context, key string) (string, error) {
			<-release
			return "late", ctx.Err()
		}
		f, err := cache.NewFallbackFetcher[string, string](cache.FallbackConfig{}, l, nil, zerolog.Nop())
		require.NoError(t, err)
		callerCtx, cancel := context.WithCancel(ctx)

		// Act
		done := make(chan error, 1)
		go func() {
			_, err := f.FetchWith(callerCtx, "slow", load)
			done <- err
		}()
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		close(release)

		// Assert
		require.Eventually(t, func() bool {
			v, err := l.Fetch(ctx, "slow")
			return err == nil && v == "late"
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Load overtaken by invalidation is not written back", func(t *testing.T) {
		// Arrange
		l, err := cache.NewLRU[string, string](10, 0, nil)
		require.NoError(t, err)
		started, release := make(chan struct{}), make(chan struct{})
		load := func(ctx context.Context, key string) (string, error) {
			close(started)
			<-release
			return "old", nil
		}
		f, err := cache.NewFallbackFetcher[string, string](cache.FallbackConfig{}, l, nil, zerolog.Nop())
		require.NoError(t, err)

		// Act
		done := make(chan string, 1)
		go func() {
			v, _ := f.FetchWith(ctx, "k", load)
			done <- v
		}()
		<-started
		require.NoError(t, f.Invalidate(ctx, "k"))
		close(release)

		// Assert: the caller still gets its value, the cache does not.
		assert.Equal(t, "old", <-done)
		assert.Never(t, func() bool { return l.Len() > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("Nil cache is rejected", func(t *testing.T) {
		_, err := cache.NewFallbackFetcher[string, string](cache.FallbackConfig{}, nil, nil, zerolog.Nop())
		require.Error(t, err)
	})
}
