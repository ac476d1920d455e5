package analytics_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-storefront/pkg/analytics"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// setupPubsub creates an in-memory Pub/Sub server with one topic and one
// subscription attached to it.
func setupPubsub(t *testing.T, projectID, topicID, subID string) *pubsub.Client {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
	return client
}

// mockConsumer feeds messages to an IngestService.
type mockConsumer struct {
	msgChan  chan analytics.Message
	doneChan chan struct{}
	stopOnce sync.Once
}

func newMockConsumer(buffer int) *mockConsumer {
	return &mockConsumer{
		msgChan:  make(chan analytics.Message, buffer),
		doneChan: make(chan struct{}),
	}
}

func (m *mockConsumer) Messages() <-chan analytics.Message { return m.msgChan }
func (m *mockConsumer) Start(context.Context) error        { return nil }
func (m *mockConsumer) Done() <-chan struct{}              { return m.doneChan }

func (m *mockConsumer) Stop(context.Context) error {
	m.stopOnce.Do(func() {
		close(m.msgChan)
		close(m.doneChan)
	})
	return nil
}

// ackTracker records acknowledgment outcomes for a set of messages.
type ackTracker struct {
	acks  atomic.Int32
	nacks atomic.Int32
}

func (a *ackTracker) message(t *testing.T, id string, e any) analytics.Message {
	t.Helper()
	var data []byte
	switch v := e.(type) {
	case []byte:
		data = v
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	return analytics.Message{
		ID:   id,
		Data: data,
		Ack:  func() { a.acks.Add(1) },
		Nack: func() { a.nacks.Add(1) },
	}
}

// mockInserter collects inserted batches, optionally failing.
type mockInserter struct {
	mu      sync.Mutex
	batches [][]analytics.Event
	fail    error
}

func (m *mockInserter) InsertEvents(_ context.Context, events []analytics.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.batches = append(m.batches, events)
	return nil
}

func (m *mockInserter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func (m *mockInserter) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}
