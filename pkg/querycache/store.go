package querycache

import (
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// NeverStale marks an entry as fresh forever.
const NeverStale time.Duration = math.MaxInt64

// Entry is a cached value together with its freshness window.
type Entry[V any] struct {
	Key      string
	Value    V
	StoredAt time.Time
	// FreshUntil is meaningless when Forever reports true.
	FreshUntil time.Time

	forever bool
}

// Forever reports whether the entry was stored with NeverStale.
func (e Entry[V]) Forever() bool {
	return e.forever
}

// IsStale reports whether the entry's freshness window has elapsed at now. An
// entry is already stale at the instant FreshUntil is reached.
func (e Entry[V]) IsStale(now time.Time) bool {
	if e.forever {
		return false
	}
	return !now.Before(e.FreshUntil)
}

// Store holds the latest successful result per key for one value type.
// Going stale never removes an entry; only Invalidate, Clear and capacity
// eviction do.
type Store[V any] struct {
	client  *Client
	entries *lru.Cache[string, Entry[V]]

	// mu orders writes against invalidations. versions only tracks keys with
	// a fetch in flight.
	mu       sync.Mutex
	versions map[string]*keyVersion
}

type keyVersion struct {
	n    uint64
	refs int
}

// NewStore creates a typed store owned by client. The store is cleared along
// with every other store when client.Clear is called.
func NewStore[V any](client *Client) (*Store[V], error) {
	if client == nil {
		return nil, fmt.Errorf("query cache client cannot be nil")
	}
	entries, err := lru.New[string, Entry[V]](client.maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	s := &Store[V]{client: client, entries: entries, versions: make(map[string]*keyVersion)}
	client.register(s)
	return s, nil
}

// Set stores value under key, replacing any previous entry. A negative
// staleTime is treated as zero, which makes the entry immediately stale.
func (s *Store[V]) Set(key string, value V, staleTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, staleTime)
}

func (s *Store[V]) setLocked(key string, value V, staleTime time.Duration) {
	now := s.client.now()
	if staleTime < 0 {
		staleTime = 0
	}
	entry := Entry[V]{Key: key, Value: value, StoredAt: now}
	if staleTime == NeverStale {
		entry.forever = true
		entry.FreshUntil = now
	} else {
		entry.FreshUntil = now.Add(staleTime)
	}
	s.entries.Add(key, entry)
}

// Get returns the cached value for key, stale or not.
func (s *Store[V]) Get(key string) (V, bool) {
	entry, ok := s.entries.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Entry returns the full entry for key without affecting recency.
func (s *Store[V]) Entry(key string) (Entry[V], bool) {
	return s.entries.Peek(key)
}

// IsStale is true when key has no entry or its freshness window has elapsed.
func (s *Store[V]) IsStale(key string) bool {
	entry, ok := s.entries.Peek(key)
	if !ok {
		return true
	}
	return entry.IsStale(s.client.now())
}

// Invalidate removes the entry for key. Invalidating a missing key is a no-op.
// Fetches for key that started before the call will not write their result.
func (s *Store[V]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.versions[key]; ok {
		v.n++
	}
	s.entries.Remove(key)
}

// Clear removes every entry. No fetch started before the call will write its
// result.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		v.n++
	}
	s.entries.Purge()
}

// begin registers a fetch for key and returns the version it must commit
// against. Every begin is paired with an end.
func (s *Store[V]) begin(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[key]
	if !ok {
		v = &keyVersion{}
		s.versions[key] = v
	}
	v.refs++
	return v.n
}

func (s *Store[V]) end(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[key]
	if !ok {
		return
	}
	if v.refs--; v.refs == 0 {
		delete(s.versions, key)
	}
}

// invalidatedSince reports whether key was invalidated after begin returned
// version.
func (s *Store[V]) invalidatedSince(key string, version uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[key]
	return ok && v.n != version
}

// commit stores value unless key was invalidated after begin returned version.
func (s *Store[V]) commit(key string, version uint64, value V, staleTime time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.versions[key]; ok && v.n != version {
		return false
	}
	s.setLocked(key, value, staleTime)
	return true
}

// Len returns the number of entries currently held.
func (s *Store[V]) Len() int {
	return s.entries.Len()
}
