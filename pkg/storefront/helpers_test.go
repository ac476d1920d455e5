package storefront_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-storefront/pkg/analytics"
	"github.com/illmade-knight/go-storefront/pkg/cache"
	"github.com/illmade-knight/go-storefront/pkg/catalog"
	"github.com/illmade-knight/go-storefront/pkg/querycache"
	"github.com/illmade-knight/go-storefront/pkg/storefront"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func seedProducts() []catalog.Product {
	return []catalog.Product{
		{ID: "desk", Name: "Walnut Desk", Category: "furniture", Price: 420, Currency: "USD", Rating: 4.6, CreatedAt: baseTime, AffiliateLink: "https://shop.example.com/desk?ref=abc"},
		{ID: "shelf", Name: "Oak Shelf", Category: "furniture", Price: 180, Currency: "USD", Rating: 4.1, CreatedAt: baseTime.Add(time.Hour)},
		{ID: "lamp", Name: "Desk Lamp", Category: "lighting", Price: 45, Currency: "USD", Rating: 4.8, CreatedAt: baseTime.Add(2 * time.Hour), AffiliateLink: "https://shop.example.com/lamp?utm_source=partner"},
	}
}

// gatedRepository counts product reads and, while held, blocks them until
// released.
type gatedRepository struct {
	*catalog.MemoryRepository
	gets atomic.Int32

	mu   sync.Mutex
	gate chan struct{}
}

func (g *gatedRepository) Get(ctx context.Context, id string) (catalog.Product, error) {
	g.gets.Add(1)
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return catalog.Product{}, ctx.Err()
		}
	}
	return g.MemoryRepository.Get(ctx, id)
}

// hold blocks reads until the returned func is called.
func (g *gatedRepository) hold() (release func()) {
	ch := make(chan struct{})
	g.mu.Lock()
	g.gate = ch
	g.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.gate = nil
			g.mu.Unlock()
			close(ch)
		})
	}
}

// fakeImages is an in-memory storefront.ImageStore.
type fakeImages struct {
	mu      sync.Mutex
	uploads map[string][]byte
	deleted []string
	fail    error
}

func (f *fakeImages) Upload(_ context.Context, productID, _ string, r io.Reader) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	url := "https://cdn.example.com/" + productID + ".png"
	f.uploads[url] = data
	return url, nil
}

func (f *fakeImages) Delete(_ context.Context, imageURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, imageURL)
	return nil
}

type fixture struct {
	sf      *storefront.Storefront
	repo    *gatedRepository
	shared  *cache.LRU[string, []byte]
	catalog *catalog.Service
	tracker *analytics.MemoryTracker
	images  *fakeImages
	clock   *fakeClock
	focus   *querycache.Signal
}

type fixtureOption func(*storefront.Deps)

func withoutReporter() fixtureOption {
	return func(d *storefront.Deps) { d.Reporter = nil }
}

func withoutImages() fixtureOption {
	return func(d *storefront.Deps) { d.Images = nil }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		repo:    &gatedRepository{MemoryRepository: catalog.NewMemoryRepository(seedProducts()...)},
		tracker: analytics.NewMemoryTracker(),
		images:  &fakeImages{},
		clock:   &fakeClock{now: baseTime},
		focus:   querycache.NewSignal(),
	}
	var err error
	f.shared, err = cache.NewLRU[string, []byte](100, 0, nil)
	require.NoError(t, err)
	f.catalog, err = catalog.NewService(catalog.ServiceConfig{Now: f.clock.Now}, f.repo, f.shared, nil, zerolog.Nop())
	require.NoError(t, err)

	client := querycache.NewClient(querycache.ClientConfig{Clock: f.clock.Now}, f.focus, zerolog.Nop())
	deps := storefront.Deps{
		Catalog:    f.catalog,
		Tracker:    f.tracker,
		Reporter:   f.tracker,
		Images:     f.images,
		Revalidate: f.focus.Notify,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.sf, err = storefront.New(storefront.Config{
		ListStaleTime:    time.Minute,
		ProductStaleTime: time.Minute,
		StatsStaleTime:   time.Minute,
	}, client, deps, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(f.sf.Close)
	return f
}

func pngBody() io.Reader {
	return bytes.NewReader([]byte("\x89PNG\r\n\x1a\n"))
}

// settleShared waits for the catalog's background write-backs so a later purge
// cannot race them.
func (f *fixture) settleShared(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.shared.Len() >= n }, time.Second, 5*time.Millisecond)
}

var errUpload = errors.New("upload failed")
