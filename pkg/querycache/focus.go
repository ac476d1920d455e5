package querycache

import "sync"

// FocusSource delivers "regained focus" notifications: any event after which
// stale bindings should revalidate, such as a window regaining focus or a
// broadcast that the underlying data changed.
type FocusSource interface {
	// Subscribe registers fn and returns a function that deregisters it.
	Subscribe(fn func()) (unsubscribe func())
}

// Signal is an in-process FocusSource.
type Signal struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]func()
}

// NewSignal creates an empty Signal.
func NewSignal() *Signal {
	return &Signal{subs: make(map[uint64]func())}
}

// Subscribe implements FocusSource.
func (s *Signal) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Notify calls every current subscriber on the caller's goroutine.
func (s *Signal) Notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribers returns the number of registered subscribers.
func (s *Signal) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
