package querycache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-storefront/pkg/querycache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type product struct {
	ID   int
	Name string
}

type fetchResult[V any] struct {
	value V
	err   error
}

// pendingCall is one invocation of a controlledFetcher. It blocks until resolved
// and ignores cancellation, like a network request that completes on the wire.
type pendingCall[V any] struct {
	ctx    context.Context
	result chan fetchResult[V]
}

func (c *pendingCall[V]) resolve(v V) { c.result <- fetchResult[V]{value: v} }

func (c *pendingCall[V]) fail(err error) { c.result <- fetchResult[V]{err: err} }

// controlledFetcher hands out pendingCalls so tests decide when and how each
// fetch completes.
type controlledFetcher[V any] struct {
	mu    sync.Mutex
	calls []*pendingCall[V]
}

func (f *controlledFetcher[V]) Fetch(ctx context.Context) (V, error) {
	call := &pendingCall[V]{ctx: ctx, result: make(chan fetchResult[V], 1)}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	r := <-call.result
	return r.value, r.err
}

func (f *controlledFetcher[V]) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// waitCall waits for the n-th call (zero based) to arrive.
func (f *controlledFetcher[V]) waitCall(t *testing.T, n int) *pendingCall[V] {
	t.Helper()
	require.Eventually(t, func() bool { return f.count() > n }, time.Second, 5*time.Millisecond, "fetch %d was never started", n)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[n]
}

// recorder collects every state delivered to a binding's OnChange.
type recorder[V any] struct {
	mu     sync.Mutex
	states []querycache.State[V]
}

func (r *recorder[V]) OnChange(s querycache.State[V]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder[V]) all() []querycache.State[V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]querycache.State[V], len(r.states))
	copy(out, r.states)
	return out
}

func (r *recorder[V]) last() querycache.State[V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return querycache.State[V]{}
	}
	return r.states[len(r.states)-1]
}

func newTestStore[V any](t *testing.T, clock *fakeClock, focus querycache.FocusSource) (*querycache.Client, *querycache.Store[V]) {
	t.Helper()
	client := querycache.NewClient(querycache.ClientConfig{
		DefaultStaleTime: time.Minute,
		Clock:            clock.Now,
	}, focus, zerolog.Nop())
	store, err := querycache.NewStore[V](client)
	require.NoError(t, err)
	return client, store
}
