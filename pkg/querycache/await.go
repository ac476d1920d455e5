package querycache

import "context"

// Await blocks until q holds a settled state: success, error or idle. With
// allowStale, a loading state that already carries data also counts, which is
// how a request handler serves stale data while revalidation continues.
func Await[V any](ctx context.Context, q *Query[V], allowStale bool) (State[V], error) {
	for {
		s, changed, closed := q.snapshot()
		if closed {
			return s, ErrUnbound
		}
		switch {
		case s.Status != StatusLoading:
			return s, nil
		case allowStale && s.HasData:
			return s, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}
