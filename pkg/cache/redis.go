package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// NewRedisClient creates a Redis client and pings the server to ensure
// connectivity before returning.
func NewRedisClient(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return rdb, nil
}

// RedisCache is a generic cache stored in Redis as JSON under a key namespace.
// Several RedisCaches can share one client as long as their namespaces differ.
type RedisCache[K comparable, V any] struct {
	redisClient *redis.Client
	namespace   string
	logger      zerolog.Logger
	ttl         time.Duration
	fallback    Fetcher[K, V]
}

// NewRedisCache creates a RedisCache over an existing client. On a miss it
// consults fallback, if configured, and writes the result back in the background.
func NewRedisCache[K comparable, V any](
	client *redis.Client,
	namespace string,
	ttl time.Duration,
	logger zerolog.Logger,
	fallback Fetcher[K, V],
) (*RedisCache[K, V], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if namespace == "" {
		return nil, errors.New("redis cache namespace is required")
	}
	return &RedisCache[K, V]{
		redisClient: client,
		namespace:   namespace,
		logger:      logger.With().Str("component", "RedisCache").Str("namespace", namespace).Logger(),
		ttl:         ttl,
		fallback:    fallback,
	}, nil
}

// Fetch retrieves an item by key. It first checks Redis. On a cache miss, if a
// fallback is configured, it fetches from the fallback, writes the result back
// to Redis in the background, and returns the value.
func (c *RedisCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	value, err := c.fetchFromRedis(ctx, key)
	if err == nil {
		return value, nil
	}

	var zero V
	// A redis.Nil error is a normal cache miss. Any other error is a genuine problem.
	if !errors.Is(err, redis.Nil) {
		c.logger.Error().Err(err).Msg("Unexpected Redis error during fetch.")
		return zero, err
	}

	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in redis cache: %w", key, ErrCacheMiss)
	}

	sourceValue, sourceErr := c.fallback.Fetch(ctx, key)
	if sourceErr != nil {
		return zero, sourceErr
	}

	// Write back without blocking the caller and without inheriting its cancellation.
	go func() {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if writeErr := c.WriteToCache(writeCtx, key, sourceValue); writeErr != nil {
			c.logger.Error().Err(writeErr).Str("key", c.redisKey(key)).Msg("Failed to write to cache in background.")
		}
	}()

	return sourceValue, nil
}

func (c *RedisCache[K, V]) fetchFromRedis(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := c.redisKey(key)
	cachedData, err := c.redisClient.Get(ctx, stringKey).Bytes()
	if err != nil {
		// Let the caller handle distinguishing redis.Nil from other errors.
		return zero, err
	}

	var value V
	if err := json.Unmarshal(cachedData, &value); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to unmarshal cached data.")
		return zero, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Redis cache hit.")
	return value, nil
}

// WriteToCache sets a value in Redis with the configured TTL.
func (c *RedisCache[K, V]) WriteToCache(ctx context.Context, key K, value V) error {
	stringKey := c.redisKey(key)
	jsonData, err := json.Marshal(value)
	if err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to marshal data for caching.")
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := c.redisClient.Set(ctx, stringKey, jsonData, c.ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to set data in Redis cache.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Successfully stored data in Redis cache.")
	return nil
}

// Invalidate deletes key from Redis.
func (c *RedisCache[K, V]) Invalidate(ctx context.Context, key K) error {
	stringKey := c.redisKey(key)
	if err := c.redisClient.Del(ctx, stringKey).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", stringKey, err)
	}
	return nil
}

// Purge deletes every key in this cache's namespace.
func (c *RedisCache[K, V]) Purge(ctx context.Context) error {
	iter := c.redisClient.Scan(ctx, 0, c.namespace+":*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed for namespace %s: %w", c.namespace, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed for namespace %s: %w", c.namespace, err)
	}
	c.logger.Info().Int("key_count", len(keys)).Msg("Purged Redis cache namespace.")
	return nil
}

func (c *RedisCache[K, V]) redisKey(key K) string {
	return fmt.Sprintf("%s:%v", c.namespace, key)
}

// Close is a no-op; the Redis client is shared and closed by its owner.
func (c *RedisCache[K, V]) Close() error {
	return nil
}
