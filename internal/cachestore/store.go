// Package cachestore implements the byte-budgeted LRU that backs the
// cache: entries are charged by their CachedEntry.Size() rather than
// counted, and eviction proceeds least-recently-used first until the
// store is back under budget.
package cachestore

import (
	"container/list"
	"sync"

	"github.com/kestrelcache/edgecache/internal/cacheobject"
)

// Store is a byte-budgeted LRU cache of RequestKey -> CachedEntry. It is
// safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	order    *list.List // front = most recently used
	index    map[string]*list.Element
	maxBytes int64
	used     int64
}

type node struct {
	key   string
	entry *cacheobject.CachedEntry
	size  int64
}

// New creates a store with the given byte budget.
func New(maxBytes int64) *Store {
	return &Store{
		order:    list.New(),
		index:    make(map[string]*list.Element),
		maxBytes: maxBytes,
	}
}

// Get returns the entry for key and marks it most-recently-used, even if
// the caller considers it stale -- staleness is a freshness-policy
// concept owned by the SWR engine, not the store.
func (s *Store) Get(key string) (*cacheobject.CachedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.index[key]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*node).entry, true
}

// Set replaces any prior entry for key atomically and evicts
// least-recently-used entries until the store is within budget.
func (s *Store) Set(key string, entry *cacheobject.CachedEntry) {
	size := entry.Size()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[key]; ok {
		n := el.Value.(*node)
		s.used += size - n.size
		n.entry = entry
		n.size = size
		s.order.MoveToFront(el)
	} else {
		n := &node{key: key, entry: entry, size: size}
		el := s.order.PushFront(n)
		s.index[key] = el
		s.used += size
	}

	s.evictLocked()
}

func (s *Store) evictLocked() {
	for s.used > s.maxBytes {
		back := s.order.Back()
		if back == nil {
			return
		}
		n := s.order.Remove(back).(*node)
		delete(s.index, n.key)
		s.used -= n.size
	}
}

// Delete removes key from the store. It is a no-op if key is absent.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.index[key]
	if !ok {
		return
	}
	n := s.order.Remove(el).(*node)
	delete(s.index, n.key)
	s.used -= n.size
}

// Len returns the number of entries currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// UsedBytes returns the current charged byte footprint.
func (s *Store) UsedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// DumpEntry pairs a key with its entry for persistence.
type DumpEntry struct {
	Key   string
	Entry *cacheobject.CachedEntry
}

// Dump returns a snapshot of every (key, entry) pair currently stored, in
// most-recently-used-first order.
func (s *Store) Dump() []DumpEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DumpEntry, 0, len(s.index))
	for el := s.order.Front(); el != nil; el = el.Next() {
		n := el.Value.(*node)
		out = append(out, DumpEntry{Key: n.key, Entry: n.entry})
	}
	return out
}

// Load seeds the store from a previously dumped sequence, most recent
// first. It does not evict based on source order beyond the usual budget
// enforcement of Set.
func (s *Store) Load(entries []DumpEntry) {
	for _, e := range entries {
		s.Set(e.Key, e.Entry)
	}
}
