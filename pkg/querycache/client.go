// Package querycache implements a stale-while-revalidate query cache.
//
// A Client owns one or more typed Stores. Consumers Bind a cache key and a fetch
// function to a Store and receive a Query, which serves cached data immediately,
// revalidates it in the background when it has gone stale, and discards results
// from fetches that were superseded or whose binding has been closed.
package querycache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultStaleTime is used when neither the binding nor the client specify one.
	DefaultStaleTime = 30 * time.Second
	// DefaultMaxEntries bounds each typed store.
	DefaultMaxEntries = 1024
)

// ClientConfig holds the defaults shared by every store and binding of a Client.
type ClientConfig struct {
	DefaultStaleTime time.Duration `yaml:"default_stale_time"`
	MaxEntries       int           `yaml:"max_entries"`

	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time `yaml:"-"`
}

// Client is the process-wide owner of cached query state. Clear resets every
// store created from it, which is what a sign-out or cache-busting event calls.
type Client struct {
	staleTime  time.Duration
	maxEntries int
	now        func() time.Time
	focus      FocusSource
	logger     zerolog.Logger

	mu     sync.Mutex
	stores []clearable
}

type clearable interface {
	Clear()
}

// NewClient creates a Client. focus may be nil, in which case bindings never
// revalidate on regained focus.
func NewClient(cfg ClientConfig, focus FocusSource, logger zerolog.Logger) *Client {
	if cfg.DefaultStaleTime <= 0 {
		cfg.DefaultStaleTime = DefaultStaleTime
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Client{
		staleTime:  cfg.DefaultStaleTime,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Clock,
		focus:      focus,
		logger:     logger.With().Str("component", "QueryCache").Logger(),
	}
}

// Clear removes every entry from every store owned by the client.
func (c *Client) Clear() {
	c.mu.Lock()
	stores := make([]clearable, len(c.stores))
	copy(stores, c.stores)
	c.mu.Unlock()

	for _, s := range stores {
		s.Clear()
	}
	c.logger.Info().Int("store_count", len(stores)).Msg("Query cache cleared.")
}

// DefaultStaleTime returns the stale time applied to bindings that do not set one.
func (c *Client) DefaultStaleTime() time.Duration {
	return c.staleTime
}

func (c *Client) register(s clearable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores = append(c.stores, s)
}
