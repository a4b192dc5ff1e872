package settings

import "sync/atomic"

// Store is the atomically swappable home of the current snapshot.
// The zero value holds the empty snapshot.
type Store struct {
	cur atomic.Pointer[Map]
}

// NewStore creates a store holding m, or the empty snapshot when m is nil.
func NewStore(m *Map) *Store {
	s := &Store{}
	if m != nil {
		s.cur.Store(m)
	}
	return s
}

// Load returns the current snapshot. It never returns nil.
func (s *Store) Load() *Map {
	if m := s.cur.Load(); m != nil {
		return m
	}
	return empty
}

// CompareAndSwap installs next only if the current snapshot is still old
// (pointer identity). It reports whether the swap happened.
func (s *Store) CompareAndSwap(old, next *Map) bool {
	if old == empty && s.cur.CompareAndSwap(nil, next) {
		return true
	}
	return s.cur.CompareAndSwap(old, next)
}

// Replace installs next unconditionally.
func (s *Store) Replace(next *Map) {
	if next == nil {
		next = empty
	}
	s.cur.Store(next)
}

// Update applies fn to the current snapshot and swaps the result in,
// re-reading and retrying whenever another writer committed first. It
// returns the committed snapshot and the number of attempts it took.
// fn may run several times and must be free of side effects.
func (s *Store) Update(fn func(*Map) *Map) (*Map, int) {
	for attempts := 1; ; attempts++ {
		old := s.Load()
		next := fn(old)
		if s.CompareAndSwap(old, next) {
			return next, attempts
		}
	}
}

// Set stores v under key through Update.
func (s *Store) Set(key string, v Value) *Map {
	m, _ := s.Update(func(old *Map) *Map { return old.With(key, v) })
	return m
}

// Delete removes key through Update.
func (s *Store) Delete(key string) *Map {
	m, _ := s.Update(func(old *Map) *Map { return old.Without(key) })
	return m
}
