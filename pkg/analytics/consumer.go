package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// Message is a received event envelope with its acknowledgment handles.
type Message struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time
	Ack         func()
	Nack        func()
}

// MessageConsumer is a source of event messages.
type MessageConsumer interface {
	// Messages returns the channel workers receive from. It is closed on stop.
	Messages() <-chan Message
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Done is closed once the consumer has fully shut down.
	Done() <-chan struct{}
}

// ConsumerConfig configures a PubsubConsumer.
type ConsumerConfig struct {
	SubscriptionID         string `yaml:"subscription_id"`
	MaxOutstandingMessages int    `yaml:"max_outstanding_messages"`
	NumGoroutines          int    `yaml:"num_goroutines"`
}

// PubsubConsumer receives event messages from a Pub/Sub subscription.
type PubsubConsumer struct {
	subscription       *pubsub.Subscription
	logger             zerolog.Logger
	outputChan         chan Message
	stopOnce           sync.Once
	mu                 sync.Mutex
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

var _ MessageConsumer = (*PubsubConsumer)(nil)

// NewPubsubConsumer creates a consumer. It verifies that the subscription
// exists, respecting the context's deadline.
func NewPubsubConsumer(ctx context.Context, cfg ConsumerConfig, client *pubsub.Client, logger zerolog.Logger) (*PubsubConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if cfg.MaxOutstandingMessages <= 0 {
		cfg.MaxOutstandingMessages = 100
	}
	if cfg.NumGoroutines <= 0 {
		cfg.NumGoroutines = 5
	}

	sub := client.Subscription(cfg.SubscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	return &PubsubConsumer{
		subscription: sub,
		logger:       logger.With().Str("component", "PubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:   make(chan Message, cfg.MaxOutstandingMessages),
		doneChan:     make(chan struct{}),
	}, nil
}

// Messages implements MessageConsumer.
func (c *PubsubConsumer) Messages() <-chan Message { return c.outputChan }

// Done implements MessageConsumer.
func (c *PubsubConsumer) Done() <-chan struct{} { return c.doneChan }

// Start begins receiving in the background until ctx is done or Stop is called.
func (c *PubsubConsumer) Start(ctx context.Context) error {
	receiveCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelSubscription = cancel
	c.mu.Unlock()

	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)

		c.logger.Info().Msg("Pub/Sub receive loop started.")
		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			data := make([]byte, len(msg.Data))
			copy(data, msg.Data)

			select {
			case c.outputChan <- Message{
				ID:          msg.ID,
				Data:        data,
				Attributes:  msg.Attributes,
				PublishTime: msg.PublishTime,
				Ack:         msg.Ack,
				Nack:        msg.Nack,
			}:
			case <-receiveCtx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message.")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub receive loop exited with error.")
		}
		c.logger.Info().Msg("Pub/Sub receive loop stopped.")
	}()
	return nil
}

// Stop cancels the receive loop and waits for it to exit or for ctx to expire.
func (c *PubsubConsumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancelSubscription
		c.mu.Unlock()
		if cancel == nil {
			return
		}
		cancel()
		select {
		case <-c.doneChan:
		case <-ctx.Done():
			c.logger.Error().Msg("Timeout waiting for Pub/Sub receive loop to stop.")
			err = ctx.Err()
		}
	})
	return err
}
