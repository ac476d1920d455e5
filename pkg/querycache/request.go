package querycache

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrSuperseded is reported by a Request whose fetch was replaced by a newer one.
	ErrSuperseded = errors.New("fetch superseded by a newer request")
	// ErrCanceled is reported by a Request cancelled through Request.Cancel.
	ErrCanceled = errors.New("fetch canceled")
	// ErrUnbound is reported by a Request whose binding was closed before it settled.
	ErrUnbound = errors.New("binding closed")
	// ErrInvalidKey is reported by Refetch on a binding with an empty key.
	ErrInvalidKey = errors.New("empty cache key")
)

// Request is a handle to a single fetch started by a binding.
type Request struct {
	done   chan struct{}
	once   sync.Once
	err    error
	stop   context.CancelFunc
	cancel func(*Request)
}

func newRequest(stop context.CancelFunc, cancel func(*Request)) *Request {
	return &Request{
		done:   make(chan struct{}),
		stop:   stop,
		cancel: cancel,
	}
}

// settledRequest returns a Request that is already finished with err.
func settledRequest(err error) *Request {
	r := newRequest(nil, nil)
	r.finish(err)
	return r
}

// Done is closed once the request has settled.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Err returns nil if the fetch result was applied, the fetch error if it failed,
// or one of ErrSuperseded, ErrCanceled or ErrUnbound if its result was discarded.
// It is only meaningful after Done is closed.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the request settles or ctx is done.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel abandons the fetch. Its result, whenever it arrives, is discarded.
func (r *Request) Cancel() {
	if r.cancel != nil {
		r.cancel(r)
	}
	r.abort(ErrCanceled)
}

// abort signals the fetch's context and settles the request with err.
func (r *Request) abort(err error) {
	if r.stop != nil {
		r.stop()
	}
	r.finish(err)
}

func (r *Request) finish(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}
