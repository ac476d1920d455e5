// Package storefront composes the catalog, currency, analytics and media
// packages into the operations the storefront's pages and admin dashboard
// perform. Page data is read through a stale-while-revalidate query cache.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/illmade-knight/go-storefront/pkg/analytics"
	"github.com/illmade-knight/go-storefront/pkg/cache"
	"github.com/illmade-knight/go-storefront/pkg/catalog"
	"github.com/illmade-knight/go-storefront/pkg/currency"
	"github.com/illmade-knight/go-storefront/pkg/querycache"
	"github.com/rs/zerolog"
)

// Config tunes page freshness and checkout behaviour.
type Config struct {
	ListStaleTime    time.Duration `yaml:"list_stale_time"`
	ProductStaleTime time.Duration `yaml:"product_stale_time"`
	StatsStaleTime   time.Duration `yaml:"stats_stale_time"`
	// RevalidateTimeout bounds a background refresh started by a request that
	// was answered with stale data.
	RevalidateTimeout time.Duration `yaml:"revalidate_timeout"`
	// StatsWindow is how far back the dashboard summary reaches.
	StatsWindow time.Duration `yaml:"stats_window"`
	TopProducts int           `yaml:"top_products"`
	// UTMSource is appended to affiliate links on checkout.
	UTMSource string `yaml:"utm_source"`
}

func (c *Config) applyDefaults() {
	if c.ListStaleTime == 0 {
		c.ListStaleTime = 30 * time.Second
	}
	if c.ProductStaleTime == 0 {
		c.ProductStaleTime = 2 * time.Minute
	}
	if c.StatsStaleTime == 0 {
		c.StatsStaleTime = 15 * time.Second
	}
	if c.RevalidateTimeout <= 0 {
		c.RevalidateTimeout = 30 * time.Second
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = 30 * 24 * time.Hour
	}
	if c.TopProducts <= 0 {
		c.TopProducts = 10
	}
	if c.UTMSource == "" {
		c.UTMSource = "storefront"
	}
}

// ImageStore stores product images.
type ImageStore interface {
	Upload(ctx context.Context, productID, contentType string, r io.Reader) (string, error)
	Delete(ctx context.Context, imageURL string) error
}

// Deps are the collaborators a Storefront reads and writes through.
type Deps struct {
	Catalog   *catalog.Service
	Tracker   analytics.Tracker
	Reporter  analytics.Reporter
	Converter *currency.Converter
	Images    ImageStore

	// Revalidate, when set, is called after a local write so that open views
	// refetch. With a Redis revalidator the broadcast does this instead.
	Revalidate func()
}

// Storefront owns the query cache shared by every page and request.
type Storefront struct {
	cfg        Config
	client     *querycache.Client
	catalog    *catalog.Service
	tracker    analytics.Tracker
	reporter   analytics.Reporter
	converter  *currency.Converter
	images     ImageStore
	revalidate func()
	logger     zerolog.Logger

	lists      *querycache.Store[[]catalog.Product]
	products   *querycache.Store[catalog.Product]
	similar    *querycache.Store[[]catalog.Product]
	categories *querycache.Store[[]string]
	stats      *querycache.Store[analytics.Summary]

	// lifetime parents every binding, so revalidation outlives the request
	// that triggered it but not the Storefront.
	lifetime context.Context
	stop     context.CancelFunc
	now      func() time.Time
}

// New creates a Storefront. deps.Catalog is required; a nil Tracker drops
// events, a nil Reporter disables stats, a nil Converter shows prices in their
// stored currency and a nil ImageStore disables uploads.
func New(cfg Config, client *querycache.Client, deps Deps, logger zerolog.Logger) (*Storefront, error) {
	if client == nil {
		return nil, errors.New("query cache client cannot be nil")
	}
	if deps.Catalog == nil {
		return nil, errors.New("catalog service cannot be nil")
	}
	cfg.applyDefaults()

	s := &Storefront{
		cfg:        cfg,
		client:     client,
		catalog:    deps.Catalog,
		tracker:    deps.Tracker,
		reporter:   deps.Reporter,
		converter:  deps.Converter,
		images:     deps.Images,
		revalidate: deps.Revalidate,
		logger:     logger.With().Str("component", "Storefront").Logger(),
		now:        time.Now,
	}
	var err error
	if s.lists, err = querycache.NewStore[[]catalog.Product](client); err != nil {
		return nil, fmt.Errorf("failed to create list store: %w", err)
	}
	if s.products, err = querycache.NewStore[catalog.Product](client); err != nil {
		return nil, fmt.Errorf("failed to create product store: %w", err)
	}
	if s.similar, err = querycache.NewStore[[]catalog.Product](client); err != nil {
		return nil, fmt.Errorf("failed to create similar store: %w", err)
	}
	if s.categories, err = querycache.NewStore[[]string](client); err != nil {
		return nil, fmt.Errorf("failed to create categories store: %w", err)
	}
	if s.stats, err = querycache.NewStore[analytics.Summary](client); err != nil {
		return nil, fmt.Errorf("failed to create stats store: %w", err)
	}
	s.lifetime, s.stop = context.WithCancel(context.Background())
	return s, nil
}

// Close cancels every binding's in-flight fetch.
func (s *Storefront) Close() {
	s.stop()
}

// HandleInvalidation drops query cache entries made stale by a catalog write.
// Any write can change any listing or similar-products strip, so those stores
// are cleared wholesale; single products are invalidated by key.
func (s *Storefront) HandleInvalidation(inv cache.Invalidation) {
	for _, key := range inv.Keys {
		if _, ok := catalog.IsProductKey(key); ok {
			s.products.Invalidate(key)
		}
	}
	s.lists.Clear()
	s.similar.Clear()
	s.categories.Invalidate(catalog.CategoriesKey())
	s.logger.Debug().Strs("keys", inv.Keys).Str("origin", inv.Origin).Msg("Applied catalog invalidation.")
}

// ClearCache resets every query cache store and the catalog's shared cache.
func (s *Storefront) ClearCache(ctx context.Context) error {
	s.client.Clear()
	if err := s.catalog.Invalidate(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Storefront) track(ctx context.Context, e analytics.Event) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.Track(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to track event.")
	}
}
