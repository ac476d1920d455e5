package catalog

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore product collection.
type FirestoreConfig struct {
	ProjectID      string `yaml:"project_id"`
	CollectionName string `yaml:"collection_name"`
}

// FirestoreRepository stores products as documents keyed by product id.
// Equality constraints are pushed down to Firestore; search, price range,
// ordering and paging are applied in memory so no composite indexes are needed.
// Categories are written in canonical form so the pushed-down category
// filter matches the way Filter.Matches does.
type FirestoreRepository struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreRepository creates a FirestoreRepository over an existing client.
func NewFirestoreRepository(
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreRepository, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg == nil || cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreRepository initialized.")

	return &FirestoreRepository{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreRepository").Logger(),
	}, nil
}

func (r *FirestoreRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(r.collectionName)
}

func (r *FirestoreRepository) List(ctx context.Context, f Filter) ([]Product, error) {
	f = f.Normalize()
	q := r.collection().Query
	if f.Category != "" {
		q = q.Where("category", "==", f.Category)
	}
	if f.FeaturedOnly {
		q = q.Where("featured", "==", true)
	}
	products, err := r.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	return applyFilter(products, f), nil
}

func (r *FirestoreRepository) Get(ctx context.Context, id string) (Product, error) {
	snap, err := r.collection().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			r.logger.Debug().Str("product_id", id).Msg("Product not found in Firestore.")
			return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
		}
		r.logger.Error().Err(err).Str("product_id", id).Msg("Failed to get product from Firestore.")
		return Product{}, fmt.Errorf("firestore get for %s: %w", id, err)
	}
	var p Product
	if err := snap.DataTo(&p); err != nil {
		return Product{}, fmt.Errorf("firestore DataTo for %s: %w", id, err)
	}
	p.ID = snap.Ref.ID
	return p, nil
}

func (r *FirestoreRepository) Similar(ctx context.Context, p Product, limit int) ([]Product, error) {
	candidates, err := r.List(ctx, Filter{Category: p.Category, Sort: SortRating})
	if err != nil {
		return nil, err
	}
	return excludeAndCap(candidates, p.ID, limit), nil
}

func (r *FirestoreRepository) Categories(ctx context.Context) ([]string, error) {
	iter := r.collection().Select("category").Documents(ctx)
	defer iter.Stop()

	seen := make(map[string]struct{})
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore categories iteration: %w", err)
		}
		if c, ok := snap.Data()["category"].(string); ok {
			seen[c] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

func (r *FirestoreRepository) Create(ctx context.Context, p Product) error {
	p.Category = CanonicalCategory(p.Category)
	if _, err := r.collection().Doc(p.ID).Create(ctx, p); err != nil {
		r.logger.Error().Err(err).Str("product_id", p.ID).Msg("Failed to create product in Firestore.")
		return fmt.Errorf("firestore create for %s: %w", p.ID, err)
	}
	r.logger.Debug().Str("product_id", p.ID).Msg("Created product in Firestore.")
	return nil
}

func (r *FirestoreRepository) Update(ctx context.Context, p Product) error {
	p.Category = CanonicalCategory(p.Category)
	ref := r.collection().Doc(p.ID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, p)
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("product %s: %w", p.ID, ErrNotFound)
		}
		r.logger.Error().Err(err).Str("product_id", p.ID).Msg("Failed to update product in Firestore.")
		return fmt.Errorf("firestore update for %s: %w", p.ID, err)
	}
	return nil
}

func (r *FirestoreRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.collection().Doc(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("product %s: %w", id, ErrNotFound)
		}
		r.logger.Error().Err(err).Str("product_id", id).Msg("Failed to delete product from Firestore.")
		return fmt.Errorf("firestore delete for %s: %w", id, err)
	}
	return nil
}

func (r *FirestoreRepository) collect(ctx context.Context, q firestore.Query) ([]Product, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var products []Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore query iteration: %w", err)
		}
		var p Product
		if err := snap.DataTo(&p); err != nil {
			r.logger.Warn().Err(err).Str("product_id", snap.Ref.ID).Msg("Skipping malformed product document.")
			continue
		}
		p.ID = snap.Ref.ID
		products = append(products, p)
	}
	return products, nil
}
