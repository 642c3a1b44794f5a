// Package shard provides a lock-striped map. Keys hash onto a fixed set of
// stripes with xxhash, so concurrent access to unrelated keys rarely
// contends on the same mutex.
package shard

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 64

type stripe[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// Map is a concurrent map from string keys to V values.
type Map[V any] struct {
	stripes []stripe[V]
	mask    uint64
}

// New returns a Map with n stripes rounded up to a power of two.
// n <= 0 selects a default.
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = defaultStripes
	}
	size := 1
	for size < n {
		size <<= 1
	}

	m := &Map[V]{
		stripes: make([]stripe[V], size),
		mask:    uint64(size - 1),
	}
	for i := range m.stripes {
		m.stripes[i].items = make(map[string]V)
	}
	return m
}

func (m *Map[V]) stripeFor(key string) *stripe[V] {
	return &m.stripes[xxhash.Sum64String(key)&m.mask]
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores v under key.
func (m *Map[V]) Set(key string, v V) {
	s := m.stripeFor(key)
	s.mu.Lock()
	s.items[key] = v
	s.mu.Unlock()
}

// Delete removes key.
func (m *Map[V]) Delete(key string) {
	s := m.stripeFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Update runs fn under the key's stripe lock. fn receives the current value
// and whether it exists; it returns the new value and whether to keep it.
// Returning keep=false deletes the key.
func (m *Map[V]) Update(key string, fn func(cur V, ok bool) (next V, keep bool)) V {
	s := m.stripeFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[key]
	next, keep := fn(cur, ok)
	if keep {
		s.items[key] = next
	} else {
		delete(s.items, key)
	}
	return next
}

// DeleteFunc removes every entry for which drop returns true, one stripe at
// a time, and returns the number removed.
func (m *Map[V]) DeleteFunc(drop func(key string, v V) bool) int {
	removed := 0
	for i := range m.stripes {
		s := &m.stripes[i]
		s.mu.Lock()
		for k, v := range s.items {
			if drop(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of entries. The count is not a consistent
// snapshot under concurrent writes.
func (m *Map[V]) Len() int {
	n := 0
	for i := range m.stripes {
		s := &m.stripes[i]
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}
