package storefront

import (
	"context"
	"errors"

	"github.com/illmade-knight/go-storefront/pkg/analytics"
	"github.com/illmade-knight/go-storefront/pkg/catalog"
	"github.com/illmade-knight/go-storefront/pkg/querycache"
)

// ErrStatsUnavailable is returned when no analytics Reporter is configured.
var ErrStatsUnavailable = errors.New("analytics reporting is not configured")

// Result is data served to a single request. Stale is set when the data came
// from an expired entry, or when its latest refresh failed, and a refresh is
// under way or will be on the next request.
type Result[V any] struct {
	Data  V
	Stale bool
}

// serve answers one request from q. Cached data is returned at once even if
// stale; q then stays bound until its revalidation settles so the refreshed
// value lands in the query cache for the next request.
func serve[V any](ctx context.Context, s *Storefront, q *querycache.Query[V]) (Result[V], error) {
	st, err := querycache.Await(ctx, q, true)
	if err != nil {
		q.Close()
		return Result[V]{}, err
	}

	if st.Status == querycache.StatusLoading {
		go func() {
			bg, cancel := context.WithTimeout(s.lifetime, s.cfg.RevalidateTimeout)
			defer cancel()
			if _, err := querycache.Await(bg, q, false); err != nil {
				s.logger.Debug().Err(err).Str("cache_key", q.Key()).Msg("Background revalidation did not settle.")
			}
			q.Close()
		}()
	} else {
		q.Close()
	}

	switch {
	case st.Status == querycache.StatusIdle:
		return Result[V]{}, querycache.ErrInvalidKey
	case st.Status == querycache.StatusError && !st.HasData:
		return Result[V]{}, st.Err
	}
	return Result[V]{Data: st.Data, Stale: st.IsStale || st.Status == querycache.StatusError}, nil
}

// Products serves a product listing.
func (s *Storefront) Products(ctx context.Context, f catalog.Filter) (Result[[]catalog.Product], error) {
	return serve(ctx, s, s.bindList(s.lifetime, f, ViewOptions{SkipFocusRefetch: true}))
}

// Product serves a single product.
func (s *Storefront) Product(ctx context.Context, id string) (Result[catalog.Product], error) {
	if id == "" {
		return Result[catalog.Product]{}, catalog.ErrNotFound
	}
	return serve(ctx, s, s.bindProduct(s.lifetime, id, ViewOptions{SkipFocusRefetch: true}))
}

// Similar serves up to limit products similar to id.
func (s *Storefront) Similar(ctx context.Context, id string, limit int) (Result[[]catalog.Product], error) {
	if id == "" {
		return Result[[]catalog.Product]{}, catalog.ErrNotFound
	}
	return serve(ctx, s, s.bindSimilar(s.lifetime, id, limit, ViewOptions{SkipFocusRefetch: true}))
}

// Categories serves the category list.
func (s *Storefront) Categories(ctx context.Context) (Result[[]string], error) {
	return serve(ctx, s, s.bindCategories(s.lifetime, ViewOptions{SkipFocusRefetch: true}))
}

// Stats serves the admin analytics summary.
func (s *Storefront) Stats(ctx context.Context) (Result[analytics.Summary], error) {
	if s.reporter == nil {
		return Result[analytics.Summary]{}, ErrStatsUnavailable
	}
	return serve(ctx, s, s.bindStats(s.lifetime, ViewOptions{SkipFocusRefetch: true}))
}
