package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the lifecycle position of a binding.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is what a consumer of a binding sees. Data stays populated while a
// background refresh is loading and after a refresh fails.
type State[V any] struct {
	Status  Status
	Data    V
	HasData bool
	Err     error
	IsStale bool
}

// FetchFunc performs the actual I/O for a binding. It should honour ctx, but a
// result returned after ctx is cancelled is simply ignored.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// QueryConfig configures a single binding.
type QueryConfig[V any] struct {
	// StaleTime is how long a successful result stays fresh. Zero uses the
	// client default, a negative value makes results immediately stale and
	// NeverStale keeps them fresh forever.
	StaleTime time.Duration
	// SkipFocusRefetch disables revalidation when the client's FocusSource fires.
	SkipFocusRefetch bool
	// Fallback seeds Data when the store has no entry. It is never written to the store.
	Fallback *V
	// OnChange receives every state transition in order. It may call back into
	// the Query.
	OnChange func(State[V])
}

// Query binds one consumer to one cache key.
type Query[V any] struct {
	store     *Store[V]
	key       string
	fetch     FetchFunc[V]
	staleTime time.Duration
	parent    context.Context
	onChange  func(State[V])
	logger    zerolog.Logger

	mu          sync.Mutex
	state       State[V]
	gen         uint64
	inflight    *Request
	version     uint64
	restore     Status
	restoreErr  error
	closed      bool
	unsubscribe func()
	changed     chan struct{}
	pending     []State[V]
	draining    bool
}

// Bind creates a binding for key. If the store holds a value for key, the
// binding starts in StatusSuccess with that value even when it is stale, and a
// stale or missing value triggers a fetch. An empty key yields an idle binding
// that never fetches or caches. Fetches derive their context from ctx.
func Bind[V any](ctx context.Context, store *Store[V], key string, fetch FetchFunc[V], cfg QueryConfig[V]) *Query[V] {
	staleTime := cfg.StaleTime
	if staleTime == 0 {
		staleTime = store.client.staleTime
	}

	q := &Query[V]{
		store:     store,
		key:       key,
		fetch:     fetch,
		staleTime: staleTime,
		parent:    ctx,
		onChange:  cfg.OnChange,
		logger:    store.client.logger.With().Str("cache_key", key).Logger(),
		changed:   make(chan struct{}),
	}

	needsFetch := false
	q.mu.Lock()
	switch entry, ok := store.Entry(key); {
	case key == "" || fetch == nil:
		q.state.Status = StatusIdle
		q.state.IsStale = true
		if cfg.Fallback != nil {
			q.state.Data, q.state.HasData = *cfg.Fallback, true
		}
	case ok:
		q.state = State[V]{
			Status:  StatusSuccess,
			Data:    entry.Value,
			HasData: true,
			IsStale: entry.IsStale(store.client.now()),
		}
		needsFetch = q.state.IsStale
	default:
		q.state.Status = StatusLoading
		q.state.IsStale = true
		if cfg.Fallback != nil {
			q.state.Data, q.state.HasData = *cfg.Fallback, true
		}
		needsFetch = true
	}
	q.enqueueLocked()
	q.mu.Unlock()
	q.drain()

	if key == "" || fetch == nil {
		return q
	}

	if focus := store.client.focus; focus != nil && !cfg.SkipFocusRefetch {
		unsubscribe := focus.Subscribe(q.onFocus)
		q.mu.Lock()
		q.unsubscribe = unsubscribe
		q.mu.Unlock()
	}

	if needsFetch {
		q.startFetch()
	}
	return q
}

// Key returns the binding's cache key.
func (q *Query[V]) Key() string {
	return q.key
}

// State returns the current state with staleness computed at call time.
func (q *Query[V]) State() State[V] {
	s, _, _ := q.snapshot()
	return s
}

// Refetch starts a new fetch, superseding any fetch already in flight for this
// binding.
func (q *Query[V]) Refetch() *Request {
	if q.key == "" || q.fetch == nil {
		return settledRequest(ErrInvalidKey)
	}
	return q.startFetch()
}

// Close unbinds the query. Any in-flight fetch is cancelled and no further
// state transitions are delivered. If that fetch nevertheless completes
// successfully, its result is still written to the shared store.
func (q *Query[V]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	req := q.inflight
	q.inflight = nil
	unsubscribe := q.unsubscribe
	q.unsubscribe = nil
	q.pending = nil
	close(q.changed)
	q.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if req != nil {
		req.abort(ErrUnbound)
	}
}

func (q *Query[V]) snapshot() (State[V], <-chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.state
	if q.key != "" {
		s.IsStale = q.store.IsStale(q.key)
	}
	return s, q.changed, q.closed
}

func (q *Query[V]) startFetch() *Request {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return settledRequest(ErrUnbound)
	}

	superseded := q.inflight
	if superseded == nil {
		q.restore, q.restoreErr = q.state.Status, q.state.Err
		if q.restore == StatusLoading {
			q.restore = StatusIdle
		}
	}
	q.gen++
	gen := q.gen
	version := q.store.begin(q.key)
	ctx, stop := context.WithCancel(q.parent)
	req := newRequest(stop, q.cancelRequest)
	q.inflight = req
	q.version = version

	if q.state.Status != StatusLoading || q.state.Err != nil {
		q.state.Status = StatusLoading
		q.state.Err = nil
		q.enqueueLocked()
	}
	q.mu.Unlock()

	if superseded != nil {
		q.logger.Debug().Msg("Superseding in-flight fetch.")
		superseded.abort(ErrSuperseded)
	}
	q.drain()

	go q.run(ctx, gen, version, req)
	return req
}

func (q *Query[V]) run(ctx context.Context, gen, version uint64, req *Request) {
	defer q.store.end(q.key)
	value, err := q.fetch(ctx)

	q.mu.Lock()
	if gen != q.gen {
		q.mu.Unlock()
		q.logger.Debug().Msg("Discarding result of superseded fetch.")
		req.abort(ErrSuperseded)
		return
	}
	if q.closed {
		if err == nil && q.store.commit(q.key, version, value, q.staleTime) {
			q.logger.Debug().Msg("Binding closed during fetch; result committed to store only.")
		}
		q.mu.Unlock()
		req.abort(ErrUnbound)
		return
	}

	q.inflight = nil
	if err != nil {
		q.state.Status = StatusError
		q.state.Err = err
		q.logger.Debug().Err(err).Msg("Fetch failed.")
	} else {
		if !q.store.commit(q.key, version, value, q.staleTime) {
			q.logger.Debug().Msg("Key invalidated during fetch; result not cached.")
		}
		q.state.Status = StatusSuccess
		q.state.Data = value
		q.state.HasData = true
		q.state.Err = nil
	}
	q.state.IsStale = q.store.IsStale(q.key)
	q.enqueueLocked()
	q.mu.Unlock()

	q.drain()
	req.abort(err)
}

// cancelRequest is invoked by Request.Cancel.
func (q *Query[V]) cancelRequest(req *Request) {
	q.mu.Lock()
	if q.closed || q.inflight != req {
		q.mu.Unlock()
		return
	}
	q.gen++
	q.inflight = nil
	q.state.Status, q.state.Err = q.restore, q.restoreErr
	q.enqueueLocked()
	q.mu.Unlock()
	q.drain()
}

// onFocus revalidates stale data. A fetch in flight is left alone unless the
// key was invalidated after it started, in which case it is superseded.
func (q *Query[V]) onFocus() {
	q.mu.Lock()
	closed, fetching, version := q.closed, q.inflight != nil, q.version
	q.mu.Unlock()

	switch {
	case closed:
	case fetching:
		if q.store.invalidatedSince(q.key, version) {
			q.logger.Debug().Msg("Key invalidated during fetch, revalidating.")
			q.startFetch()
		}
	case q.store.IsStale(q.key):
		q.logger.Debug().Msg("Focus regained with stale data, revalidating.")
		q.startFetch()
	}
}

// enqueueLocked records the current state for delivery. Callers hold q.mu.
func (q *Query[V]) enqueueLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
	if q.onChange != nil {
		q.pending = append(q.pending, q.state)
	}
}

// drain delivers pending states in order. Only one goroutine drains at a time;
// transitions raised by a listener are queued and delivered by the same loop.
func (q *Query[V]) drain() {
	q.mu.Lock()
	if q.draining || q.onChange == nil {
		q.mu.Unlock()
		return
	}
	q.draining = true
	for len(q.pending) > 0 && !q.closed {
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		q.onChange(next)
		q.mu.Lock()
	}
	q.pending = nil
	q.draining = false
	q.mu.Unlock()
}
