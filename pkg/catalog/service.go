package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-storefront/pkg/cache"
	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the catalog Service.
type ServiceConfig struct {
	LoadTimeout       time.Duration `yaml:"load_timeout"`
	CacheWriteTimeout time.Duration `yaml:"cache_write_timeout"`
	// BaseCurrency is stamped on products created without one.
	BaseCurrency string `yaml:"base_currency"`

	// Now overrides time.Now for timestamps, mainly for tests.
	Now func() time.Time `yaml:"-"`
}

// Service fronts a Repository with a shared cache. Reads of the same key are
// collapsed into one repository call and the encoded result is kept in the
// cache. Admin writes invalidate what they affect and announce it to every
// replica through publisher.
type Service struct {
	repo         Repository
	fetcher      *cache.FallbackFetcher[string, []byte]
	publisher    cache.InvalidationPublisher
	baseCurrency string
	now          func() time.Time
	logger       zerolog.Logger
}

// NewService creates a Service. publisher may be nil for a single replica.
func NewService(
	cfg ServiceConfig,
	repo Repository,
	shared cache.Cache[string, []byte],
	publisher cache.InvalidationPublisher,
	logger zerolog.Logger,
) (*Service, error) {
	if repo == nil {
		return nil, errors.New("catalog repository cannot be nil")
	}
	fetcher, err := cache.NewFallbackFetcher[string, []byte](cache.FallbackConfig{
		CacheWriteTimeout: cfg.CacheWriteTimeout,
		LoadTimeout:       cfg.LoadTimeout,
	}, shared, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog fetcher: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "USD"
	}
	return &Service{
		repo:         repo,
		fetcher:      fetcher,
		publisher:    publisher,
		baseCurrency: strings.ToUpper(cfg.BaseCurrency),
		now:          cfg.Now,
		logger:       logger.With().Str("component", "CatalogService").Logger(),
	}, nil
}

// cachedRead loads key through the shared cache, calling load on a miss.
func cachedRead[T any](ctx context.Context, s *Service, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := s.fetcher.FetchWith(ctx, key, func(ctx context.Context, _ string) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return v, nil
}

// List returns a filtered, sorted page of products.
func (s *Service) List(ctx context.Context, f Filter) ([]Product, error) {
	f = f.Normalize()
	return cachedRead(ctx, s, ListKey(f), func(ctx context.Context) ([]Product, error) {
		return s.repo.List(ctx, f)
	})
}

// Get returns a single product.
func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	if id == "" {
		return Product{}, ErrNotFound
	}
	return cachedRead(ctx, s, ProductKey(id), func(ctx context.Context) (Product, error) {
		return s.repo.Get(ctx, id)
	})
}

// Similar returns up to limit products in the same category as id.
func (s *Service) Similar(ctx context.Context, id string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s?limit=%d", SimilarKey(id), limit)
	return cachedRead(ctx, s, key, func(ctx context.Context) ([]Product, error) {
		return s.repo.Similar(ctx, p, limit)
	})
}

// Categories returns every category with at least one product.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return cachedRead(ctx, s, CategoriesKey(), s.repo.Categories)
}

// Create validates p, assigns its id and timestamps and stores it.
func (s *Service) Create(ctx context.Context, p Product) (Product, error) {
	if err := p.Validate(); err != nil {
		return Product{}, err
	}
	now := s.now().UTC()
	p.Category = CanonicalCategory(p.Category)
	p.ID = uuid.NewString()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Currency == "" {
		p.Currency = s.baseCurrency
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return Product{}, err
	}
	s.logger.Info().Str("product_id", p.ID).Str("category", p.Category).Msg("Product created.")
	s.afterWrite(ctx, p.ID)
	return p, nil
}

// Update replaces the editable fields of product id with those of p.
func (s *Service) Update(ctx context.Context, id string, p Product) (Product, error) {
	if err := p.Validate(); err != nil {
		return Product{}, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	p.ID = id
	p.Category = CanonicalCategory(p.Category)
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now().UTC()
	if p.Currency == "" {
		p.Currency = existing.Currency
	}
	if p.ImageURL == "" {
		p.ImageURL = existing.ImageURL
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return Product{}, err
	}
	s.logger.Info().Str("product_id", id).Msg("Product updated.")
	s.afterWrite(ctx, id)
	return p, nil
}

// SetImage points product id at a newly uploaded image.
func (s *Service) SetImage(ctx context.Context, id, imageURL string) (Product, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	p.ImageURL = imageURL
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return Product{}, err
	}
	s.afterWrite(ctx, id)
	return p, nil
}

// Delete removes product id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("product_id", id).Msg("Product deleted.")
	s.afterWrite(ctx, id)
	return nil
}

// Invalidate drops every cached read. It is what the admin cache-clear hook calls.
func (s *Service) Invalidate(ctx context.Context) error {
	if err := s.fetcher.Purge(ctx); err != nil {
		return fmt.Errorf("failed to purge catalog cache: %w", err)
	}
	return nil
}

// afterWrite invalidates cached reads affected by a write to product id and
// announces the change. Any product write can move it in or out of any
// listing, so listings are purged wholesale. Failures are logged: the write
// itself has already succeeded and cached reads expire on their own.
func (s *Service) afterWrite(ctx context.Context, id string) {
	if err := s.fetcher.Invalidate(ctx, ProductKey(id)); err != nil {
		s.logger.Warn().Err(err).Str("product_id", id).Msg("Failed to invalidate cached product.")
	}
	if err := s.fetcher.Purge(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to purge cached listings.")
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ProductKey(id), SimilarKey(id), CategoriesKey()); err != nil {
		s.logger.Warn().Err(err).Str("product_id", id).Msg("Failed to publish invalidation.")
	}
}

// Close releases the shared cache.
func (s *Service) Close() error {
	return s.fetcher.Close()
}
