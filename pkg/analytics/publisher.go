package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubsubTracker publishes events as JSON to a Pub/Sub topic. Track returns as
// soon as the message is queued; the publish result is logged asynchronously.
type PubsubTracker struct {
	topic  *pubsub.Topic
	now    func() time.Time
	logger zerolog.Logger
}

var _ Tracker = (*PubsubTracker)(nil)

// NewPubsubTracker creates a tracker. It verifies that the topic exists,
// respecting the context's deadline.
func NewPubsubTracker(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*PubsubTracker, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	return &PubsubTracker{
		topic:  topic,
		now:    time.Now,
		logger: logger.With().Str("component", "PubsubTracker").Str("topic_id", topicID).Logger(),
	}, nil
}

// Track publishes e.
func (p *PubsubTracker) Track(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e = e.stamp(p.now())
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": string(e.Type),
		},
	})

	go func() {
		// A fresh context: the request that tracked the event is usually gone by now.
		getCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Str("event_id", e.ID).Msg("Failed to publish event.")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Str("event_id", e.ID).Msg("Event published.")
	}()
	return nil
}

// Stop flushes pending messages, respecting the context's timeout.
func (p *PubsubTracker) Stop(ctx context.Context) error {
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
