package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Invalidation is broadcast to every replica when cached data changes.
type Invalidation struct {
	Keys   []string `json:"keys,omitempty"`
	Origin string   `json:"origin"`
}

// InvalidationPublisher announces that cached data has changed.
type InvalidationPublisher interface {
	Publish(ctx context.Context, keys ...string) error
}

// RedisRevalidator fans out invalidations over a Redis pub/sub channel. For
// each message it first runs the invalidation handlers, then notifies focus
// subscribers so stale bindings revalidate. It satisfies
// querycache.FocusSource.
type RedisRevalidator struct {
	redisClient *redis.Client
	channel     string
	origin      string
	logger      zerolog.Logger

	mu       sync.Mutex
	next     uint64
	subs     map[uint64]func()
	handlers []func(Invalidation)

	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisRevalidator creates a revalidator. origin identifies this replica.
func NewRedisRevalidator(client *redis.Client, channel, origin string, logger zerolog.Logger) (*RedisRevalidator, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if channel == "" {
		return nil, errors.New("revalidation channel is required")
	}
	return &RedisRevalidator{
		redisClient: client,
		channel:     channel,
		origin:      origin,
		logger:      logger.With().Str("component", "RedisRevalidator").Str("channel", channel).Logger(),
		subs:        make(map[uint64]func()),
	}, nil
}

// Subscribe implements querycache.FocusSource.
func (r *RedisRevalidator) Subscribe(fn func()) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// OnInvalidate registers a handler that runs for every received invalidation
// before focus subscribers are notified.
func (r *RedisRevalidator) OnInvalidate(fn func(Invalidation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, fn)
}

// Publish broadcasts an invalidation for keys.
func (r *RedisRevalidator) Publish(ctx context.Context, keys ...string) error {
	payload, err := json.Marshal(Invalidation{Keys: keys, Origin: r.origin})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := r.redisClient.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	r.logger.Debug().Strs("keys", keys).Msg("Published invalidation.")
	return nil
}

// Start subscribes to the channel and dispatches messages until ctx is done
// or Stop is called.
func (r *RedisRevalidator) Start(ctx context.Context) error {
	ps := r.redisClient.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.mu.Lock()
	r.pubsub = ps
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Info().Msg("Revalidation listener started.")
		for msg := range ps.Channel() {
			var inv Invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				r.logger.Warn().Err(err).Msg("Ignoring malformed invalidation.")
				continue
			}
			r.Dispatch(inv)
		}
		r.logger.Info().Msg("Revalidation listener stopped.")
	}()

	go func() {
		<-ctx.Done()
		_ = r.Stop()
	}()
	return nil
}

// Dispatch runs the invalidation handlers and then notifies focus subscribers.
func (r *RedisRevalidator) Dispatch(inv Invalidation) {
	r.mu.Lock()
	handlers := make([]func(Invalidation), len(r.handlers))
	copy(handlers, r.handlers)
	subs := make([]func(), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(inv)
	}
	for _, fn := range subs {
		fn()
	}
}

// Stop closes the subscription and waits for the listener to exit.
func (r *RedisRevalidator) Stop() error {
	r.mu.Lock()
	ps := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()
	if ps == nil {
		return nil
	}
	err := ps.Close()
	r.wg.Wait()
	return err
}
