package analytics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryTracker keeps events in memory and reports on them. It serves local
// development, where no Pub/Sub topic or BigQuery table exists, and tests.
type MemoryTracker struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

var (
	_ Tracker  = (*MemoryTracker)(nil)
	_ Reporter = (*MemoryTracker)(nil)
)

// NewMemoryTracker creates an empty MemoryTracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{now: time.Now}
}

// Track records e.
func (m *MemoryTracker) Track(_ context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e.stamp(m.now()))
	return nil
}

// Events returns a copy of everything tracked so far.
func (m *MemoryTracker) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Summarize aggregates events at or after since.
func (m *MemoryTracker) Summarize(_ context.Context, since time.Time, top int) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{Since: since, TopProducts: []ProductStat{}}
	visitors := make(map[string]struct{})
	clicks := make(map[string]int64)
	for _, e := range m.events {
		if e.OccurredAt.Before(since) {
			continue
		}
		if e.VisitorID != "" {
			visitors[e.VisitorID] = struct{}{}
		}
		switch e.Type {
		case EventVisit:
			s.Visits++
		case EventClick:
			s.Clicks++
			clicks[e.ProductID]++
		}
	}
	s.UniqueVisitors = int64(len(visitors))
	for id, n := range clicks {
		s.TopProducts = append(s.TopProducts, ProductStat{ProductID: id, Clicks: n})
	}
	sort.Slice(s.TopProducts, func(i, j int) bool {
		a, b := s.TopProducts[i], s.TopProducts[j]
		if a.Clicks != b.Clicks {
			return a.Clicks > b.Clicks
		}
		return a.ProductID < b.ProductID
	})
	if top > 0 && len(s.TopProducts) > top {
		s.TopProducts = s.TopProducts[:top]
	}
	return s, nil
}
