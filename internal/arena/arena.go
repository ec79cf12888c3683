// Package arena provides a sharded, concurrency safe map of per-identity
// state with an idle index, so memory stays bounded by the number of
// recently active identities.
//
// Each shard keeps a recency list next to its map. Touching an entry moves
// it to the front in O(1); Reap walks from the back and stops at the first
// entry that is still fresh.
package arena

import (
	"container/list"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is used when a non-positive shard count is requested.
const DefaultShards = 32

type entry[V any] struct {
	key     string
	value   V
	touched time.Time
	elem    *list.Element
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]*entry[V]
	lru   *list.List
}

// Store maps identities to values of type V. Callbacks run under the
// owning shard's lock, so operations on one identity never interleave.
// Callbacks must not call back into the same Store.
type Store[V any] struct {
	shards []*shard[V]
}

// New creates a store with n shards.
func New[V any](n int) *Store[V] {
	if n <= 0 {
		n = DefaultShards
	}
	s := &Store[V]{shards: make([]*shard[V], n)}
	for i := range s.shards {
		s.shards[i] = &shard[V]{
			items: make(map[string]*entry[V]),
			lru:   list.New(),
		}
	}
	return s
}

func (s *Store[V]) shardFor(key string) *shard[V] {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Upsert runs fn on the value for key, creating it with create when absent,
// and marks the entry as touched at now. created reports whether the value
// was new.
func (s *Store[V]) Upsert(key string, now time.Time, create func() V, fn func(v V, created bool)) (created bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if !ok {
		e = &entry[V]{key: key, value: create(), touched: now}
		e.elem = sh.lru.PushFront(e)
		sh.items[key] = e
		created = true
	} else {
		// Never move touched backwards; the reaper relies on it.
		if now.After(e.touched) {
			e.touched = now
		}
		sh.lru.MoveToFront(e.elem)
	}

	if fn != nil {
		fn(e.value, created)
	}
	return created
}

// Update runs fn on an existing value and touches it. It reports whether
// key was present.
func (s *Store[V]) Update(key string, now time.Time, fn func(v V)) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if !ok {
		return false
	}
	if now.After(e.touched) {
		e.touched = now
	}
	sh.lru.MoveToFront(e.elem)
	fn(e.value)
	return true
}

// View runs fn on the value for key without touching it.
func (s *Store[V]) View(key string, fn func(v V)) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if !ok {
		return false
	}
	fn(e.value)
	return true
}

// Delete removes key and reports whether it was present.
func (s *Store[V]) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if !ok {
		return false
	}
	sh.lru.Remove(e.elem)
	delete(sh.items, key)
	return true
}

// Range calls fn for every entry, one shard at a time, until fn returns false.
// The view is consistent per shard, not across shards.
func (s *Store[V]) Range(fn func(key string, v V) bool) {
	for _, sh := range s.shards {
		if !sh.rangeLocked(fn) {
			return
		}
	}
}

func (sh *shard[V]) rangeLocked(fn func(key string, v V) bool) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for k, e := range sh.items {
		if !fn(k, e.value) {
			return false
		}
	}
	return true
}

// Len returns the number of entries.
func (s *Store[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// Reap evicts entries last touched before cutoff and returns how many were
// removed. A non-nil keep may veto eviction of an individual entry, which is
// then treated as freshly touched at cutoff.
func (s *Store[V]) Reap(cutoff time.Time, keep func(key string, v V) bool) int {
	removed := 0
	for _, sh := range s.shards {
		removed += sh.reap(cutoff, keep)
	}
	return removed
}

func (sh *shard[V]) reap(cutoff time.Time, keep func(key string, v V) bool) int {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	removed := 0
	// Bound the walk so vetoed entries moved to the front are not revisited.
	for n := sh.lru.Len(); n > 0; n-- {
		back := sh.lru.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry[V])
		if !e.touched.Before(cutoff) {
			break
		}
		if keep != nil && keep(e.key, e.value) {
			e.touched = cutoff
			sh.lru.MoveToFront(back)
			continue
		}
		sh.lru.Remove(back)
		delete(sh.items, e.key)
		removed++
	}
	return removed
}

// DeleteIf removes every entry for which fn returns true and returns how
// many were removed.
func (s *Store[V]) DeleteIf(fn func(key string, v V) bool) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.items {
			if fn(k, e.value) {
				sh.lru.Remove(e.elem)
				delete(sh.items, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Clear removes every entry.
func (s *Store[V]) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.items = make(map[string]*entry[V])
		sh.lru.Init()
		sh.mu.Unlock()
	}
}
