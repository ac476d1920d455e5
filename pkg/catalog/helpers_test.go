package catalog_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-storefront/pkg/catalog"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedProducts() []catalog.Product {
	return []catalog.Product{
		{ID: "p1", Name: "Walnut Desk", Category: "furniture", Price: 420, Rating: 4.6, Featured: true, CreatedAt: baseTime, AffiliateLink: "https://shop.example.com/desk"},
		{ID: "p2", Name: "Oak Shelf", Category: "furniture", Price: 180, Rating: 4.1, CreatedAt: baseTime.Add(time.Hour)},
		{ID: "p3", Name: "Desk Lamp", Category: "lighting", Price: 45, Rating: 4.8, Featured: true, CreatedAt: baseTime.Add(2 * time.Hour)},
		{ID: "p4", Name: "Bar Stool", Category: "furniture", Price: 95, Rating: 3.9, CreatedAt: baseTime.Add(3 * time.Hour)},
		{ID: "p5", Name: "Floor Lamp", Category: "lighting", Price: 130, Rating: 4.3, CreatedAt: baseTime.Add(4 * time.Hour)},
	}
}

// countingRepository wraps a MemoryRepository and counts reads.
type countingRepository struct {
	*catalog.MemoryRepository
	lists atomic.Int32
	gets  atomic.Int32
	// gate, when set, blocks Get until closed.
	gate chan struct{}
}

func newCountingRepository() *countingRepository {
	return &countingRepository{MemoryRepository: catalog.NewMemoryRepository(seedProducts()...)}
}

func (r *countingRepository) List(ctx context.Context, f catalog.Filter) ([]catalog.Product, error) {
	r.lists.Add(1)
	return r.MemoryRepository.List(ctx, f)
}

func (r *countingRepository) Get(ctx context.Context, id string) (catalog.Product, error) {
	r.gets.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	return r.MemoryRepository.Get(ctx, id)
}

// recordingPublisher captures published invalidations.
type recordingPublisher struct {
	mu   sync.Mutex
	keys [][]string
}

func (p *recordingPublisher) Publish(_ context.Context, keys ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, keys)
	return nil
}

func (p *recordingPublisher) calls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.keys))
	copy(out, p.keys)
	return out
}
