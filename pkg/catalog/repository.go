package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Repository is the source of truth for products.
type Repository interface {
	List(ctx context.Context, f Filter) ([]Product, error)
	Get(ctx context.Context, id string) (Product, error)
	// Similar returns up to limit products sharing p's category, excluding p.
	Similar(ctx context.Context, p Product, limit int) ([]Product, error)
	Categories(ctx context.Context) ([]string, error)
	Create(ctx context.Context, p Product) error
	// Update replaces an existing product and fails with ErrNotFound otherwise.
	Update(ctx context.Context, p Product) error
	Delete(ctx context.Context, id string) error
}

// sortProducts orders products in place. Ties fall back to id so that pages
// are stable.
func sortProducts(products []Product, s Sort) {
	sort.SliceStable(products, func(i, j int) bool {
		a, b := products[i], products[j]
		switch s {
		case SortPriceAsc:
			if a.Price != b.Price {
				return a.Price < b.Price
			}
		case SortPriceDesc:
			if a.Price != b.Price {
				return a.Price > b.Price
			}
		case SortRating:
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
		case SortName:
			if an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name); an != bn {
				return an < bn
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	})
}

// applyFilter filters, sorts and pages candidates according to f.
func applyFilter(candidates []Product, f Filter) []Product {
	f = f.Normalize()
	matched := make([]Product, 0, len(candidates))
	for _, p := range candidates {
		if f.Matches(p) {
			matched = append(matched, p)
		}
	}
	sortProducts(matched, f.Sort)
	if f.Offset >= len(matched) {
		return []Product{}
	}
	end := f.Offset + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[f.Offset:end]
}

// MemoryRepository keeps products in a map. It backs local development and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewMemoryRepository creates a repository seeded with products.
func NewMemoryRepository(products ...Product) *MemoryRepository {
	r := &MemoryRepository{products: make(map[string]Product, len(products))}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		all = append(all, p)
	}
	return applyFilter(all, f), nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepository) Similar(ctx context.Context, p Product, limit int) ([]Product, error) {
	candidates, err := r.List(ctx, Filter{Category: p.Category, Sort: SortRating})
	if err != nil {
		return nil, err
	}
	return excludeAndCap(candidates, p.ID, limit), nil
}

func (r *MemoryRepository) Categories(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, p := range r.products {
		seen[p.Category] = struct{}{}
	}
	return sortedKeys(seen), nil
}

func (r *MemoryRepository) Create(_ context.Context, p Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, p Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; !ok {
		return ErrNotFound
	}
	r.products[p.ID] = p
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return ErrNotFound
	}
	delete(r.products, id)
	return nil
}

func excludeAndCap(products []Product, id string, limit int) []Product {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	out := make([]Product, 0, limit)
	for _, p := range products {
		if p.ID == id {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
