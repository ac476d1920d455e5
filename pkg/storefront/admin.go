package storefront

import (
	"context"
	"errors"
	"io"

	"github.com/illmade-knight/go-storefront/pkg/cache"
	"github.com/illmade-knight/go-storefront/pkg/catalog"
)

// ErrUploadsDisabled is returned when no ImageStore is configured.
var ErrUploadsDisabled = errors.New("image uploads are not configured")

// CreateProduct adds a product and drops the query cache entries it affects.
func (s *Storefront) CreateProduct(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	created, err := s.catalog.Create(ctx, p)
	if err != nil {
		return catalog.Product{}, err
	}
	s.invalidateLocal(created.ID)
	return created, nil
}

// UpdateProduct replaces product id.
func (s *Storefront) UpdateProduct(ctx context.Context, id string, p catalog.Product) (catalog.Product, error) {
	updated, err := s.catalog.Update(ctx, id, p)
	if err != nil {
		return catalog.Product{}, err
	}
	s.invalidateLocal(id)
	return updated, nil
}

// DeleteProduct removes product id and, best-effort, its image.
func (s *Storefront) DeleteProduct(ctx context.Context, id string) error {
	existing, err := s.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.catalog.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateLocal(id)
	s.deleteImage(ctx, existing.ImageURL)
	return nil
}

// UploadImage stores a new image for product id and points the product at it.
// The replaced image, if any, is deleted.
func (s *Storefront) UploadImage(ctx context.Context, id, contentType string, r io.Reader) (catalog.Product, error) {
	if s.images == nil {
		return catalog.Product{}, ErrUploadsDisabled
	}
	existing, err := s.catalog.Get(ctx, id)
	if err != nil {
		return catalog.Product{}, err
	}
	imageURL, err := s.images.Upload(ctx, id, contentType, r)
	if err != nil {
		return catalog.Product{}, err
	}
	updated, err := s.catalog.SetImage(ctx, id, imageURL)
	if err != nil {
		s.deleteImage(ctx, imageURL)
		return catalog.Product{}, err
	}
	s.invalidateLocal(id)
	s.deleteImage(ctx, existing.ImageURL)
	return updated, nil
}

// invalidateLocal applies a write's invalidation to this replica at once;
// other replicas learn of it through the catalog's publisher.
func (s *Storefront) invalidateLocal(id string) {
	s.HandleInvalidation(cache.Invalidation{Keys: []string{catalog.ProductKey(id), catalog.SimilarKey(id), catalog.CategoriesKey()}})
	if s.revalidate != nil {
		s.revalidate()
	}
}

func (s *Storefront) deleteImage(ctx context.Context, imageURL string) {
	if s.images == nil || imageURL == "" {
		return
	}
	if err := s.images.Delete(ctx, imageURL); err != nil {
		s.logger.Warn().Err(err).Str("image_url", imageURL).Msg("Failed to delete replaced image.")
	}
}
