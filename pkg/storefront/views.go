package storefront

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-storefront/pkg/analytics"
	"github.com/illmade-knight/go-storefront/pkg/catalog"
	"github.com/illmade-knight/go-storefront/pkg/currency"
	"github.com/illmade-knight/go-storefront/pkg/querycache"
	"golang.org/x/sync/errgroup"
)

const statsKey = "admin:stats"

// ViewOptions configures the bindings behind a view.
type ViewOptions struct {
	SkipFocusRefetch bool
	// OnChange is called after any of the view's bindings changes state.
	OnChange func()
}

func notify[V any](fn func()) func(querycache.State[V]) {
	if fn == nil {
		return nil
	}
	return func(querycache.State[V]) { fn() }
}

func similarKey(id string, limit int) string {
	if id == "" {
		return ""
	}
	return fmt.Sprintf("%s?limit=%d", catalog.SimilarKey(id), limit)
}

func (s *Storefront) bindList(ctx context.Context, f catalog.Filter, opts ViewOptions) *querycache.Query[[]catalog.Product] {
	f = f.Normalize()
	return querycache.Bind(ctx, s.lists, catalog.ListKey(f), func(ctx context.Context) ([]catalog.Product, error) {
		return s.catalog.List(ctx, f)
	}, querycache.QueryConfig[[]catalog.Product]{
		StaleTime:        s.cfg.ListStaleTime,
		SkipFocusRefetch: opts.SkipFocusRefetch,
		OnChange:         notify[[]catalog.Product](opts.OnChange),
	})
}

func (s *Storefront) bindProduct(ctx context.Context, id string, opts ViewOptions) *querycache.Query[catalog.Product] {
	return querycache.Bind(ctx, s.products, catalog.ProductKey(id), func(ctx context.Context) (catalog.Product, error) {
		return s.catalog.Get(ctx, id)
	}, querycache.QueryConfig[catalog.Product]{
		StaleTime:        s.cfg.ProductStaleTime,
		SkipFocusRefetch: opts.SkipFocusRefetch,
		OnChange:         notify[catalog.Product](opts.OnChange),
	})
}

func (s *Storefront) bindSimilar(ctx context.Context, id string, limit int, opts ViewOptions) *querycache.Query[[]catalog.Product] {
	if limit <= 0 {
		limit = catalog.DefaultSimilarLimit
	}
	return querycache.Bind(ctx, s.similar, similarKey(id, limit), func(ctx context.Context) ([]catalog.Product, error) {
		return s.catalog.Similar(ctx, id, limit)
	}, querycache.QueryConfig[[]catalog.Product]{
		StaleTime:        s.cfg.ProductStaleTime,
		SkipFocusRefetch: opts.SkipFocusRefetch,
		OnChange:         notify[[]catalog.Product](opts.OnChange),
	})
}

func (s *Storefront) bindCategories(ctx context.Context, opts ViewOptions) *querycache.Query[[]string] {
	return querycache.Bind(ctx, s.categories, catalog.CategoriesKey(), s.catalog.Categories, querycache.QueryConfig[[]string]{
		StaleTime:        s.cfg.ListStaleTime,
		SkipFocusRefetch: opts.SkipFocusRefetch,
		OnChange:         notify[[]string](opts.OnChange),
	})
}

// bindStats yields an idle binding when no Reporter is configured.
func (s *Storefront) bindStats(ctx context.Context, opts ViewOptions) *querycache.Query[analytics.Summary] {
	key, fetch := "", querycache.FetchFunc[analytics.Summary](nil)
	if s.reporter != nil {
		key = statsKey
		fetch = func(ctx context.Context) (analytics.Summary, error) {
			return s.reporter.Summarize(ctx, s.now().Add(-s.cfg.StatsWindow), s.cfg.TopProducts)
		}
	}
	return querycache.Bind(ctx, s.stats, key, fetch, querycache.QueryConfig[analytics.Summary]{
		StaleTime:        s.cfg.StatsStaleTime,
		SkipFocusRefetch: opts.SkipFocusRefetch,
		OnChange:         notify[analytics.Summary](opts.OnChange),
	})
}

// ListView is a product listing page bound to one filter.
type ListView struct {
	Filter catalog.Filter
	query  *querycache.Query[[]catalog.Product]
}

// OpenList binds a listing for f. ctx bounds the view's fetches.
func (s *Storefront) OpenList(ctx context.Context, f catalog.Filter, opts ViewOptions) *ListView {
	return &ListView{Filter: f.Normalize(), query: s.bindList(ctx, f, opts)}
}

func (v *ListView) State() querycache.State[[]catalog.Product] { return v.query.State() }
func (v *ListView) Refetch() *querycache.Request { return v.query.Refetch() }
func (v *ListView) Close() { v.query.Close() }

// Await waits for the listing to settle.
func (v *ListView) Await(ctx context.Context, allowStale bool) (querycache.State[[]catalog.Product], error) {
	return querycache.Await(ctx, v.query, allowStale)
}

// DetailState is everything a product page shows.
type DetailState struct {
	Product querycache.State[catalog.Product]
	Similar querycache.State[[]catalog.Product]
}

// DetailView is a product page: the product and its similar products.
type DetailView struct {
	ID        string
	product   *querycache.Query[catalog.Product]
	similar   *querycache.Query[[]catalog.Product]
	converter *currency.Converter
}

// OpenDetail binds the product page for id. An empty id yields idle bindings.
func (s *Storefront) OpenDetail(ctx context.Context, id string, opts ViewOptions) *DetailView {
	return &DetailView{
		ID:        id,
		product:   s.bindProduct(ctx, id, opts),
		similar:   s.bindSimilar(ctx, id, catalog.DefaultSimilarLimit, opts),
		converter: s.converter,
	}
}

func (v *DetailView) State() DetailState {
	return DetailState{Product: v.product.State(), Similar: v.similar.State()}
}

// Refetch revalidates both bindings.
func (v *DetailView) Refetch() (product, similar *querycache.Request) {
	return v.product.Refetch(), v.similar.Refetch()
}

func (v *DetailView) Close() {
	v.product.Close()
	v.similar.Close()
}

// Await waits for both bindings to settle.
func (v *DetailView) Await(ctx context.Context, allowStale bool) (DetailState, error) {
	var st DetailState
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		st.Product, err = querycache.Await(gctx, v.product, allowStale)
		return err
	})
	g.Go(func() (err error) {
		st.Similar, err = querycache.Await(gctx, v.similar, allowStale)
		return err
	})
	err := g.Wait()
	return st, err
}

// Price shows the bound product's price in the given currency. ok is false
// until the product has loaded.
func (v *DetailView) Price(ctx context.Context, target string) (price currency.Price, ok bool) {
	st := v.product.State()
	if !st.HasData {
		return currency.Price{}, false
	}
	return localize(ctx, v.converter, st.Data, target), true
}

func localize(ctx context.Context, c *currency.Converter, p catalog.Product, target string) currency.Price {
	if c == nil || target == "" {
		return currency.Price{Amount: p.Price, Currency: p.Currency, Formatted: currency.Format(p.Price, p.Currency)}
	}
	return c.Price(ctx, p.Price, p.Currency, target)
}

// DashboardState is what the admin dashboard shows.
type DashboardState struct {
	Stats    querycache.State[analytics.Summary]
	Products querycache.State[[]catalog.Product]
}

// Dashboard is the admin overview: analytics summary and the full catalog.
type Dashboard struct {
	stats    *querycache.Query[analytics.Summary]
	products *querycache.Query[[]catalog.Product]
}

// OpenDashboard binds the admin dashboard.
func (s *Storefront) OpenDashboard(ctx context.Context, opts ViewOptions) *Dashboard {
	return &Dashboard{
		stats:    s.bindStats(ctx, opts),
		products: s.bindList(ctx, catalog.Filter{Sort: catalog.SortNewest, Limit: catalog.MaxPageSize}, opts),
	}
}

func (d *Dashboard) State() DashboardState {
	return DashboardState{Stats: d.stats.State(), Products: d.products.State()}
}

// Refetch revalidates both bindings.
func (d *Dashboard) Refetch() (stats, products *querycache.Request) {
	return d.stats.Refetch(), d.products.Refetch()
}

func (d *Dashboard) Close() {
	d.stats.Close()
	d.products.Close()
}
