// Package store implements the unified store: a flat key→value map and a
// key→sorted-set map that share one capacity bound and one LRU eviction
// order, per the tagged cache-entry design.
package store

import (
	"sync"

	"github.com/r2kv/kvserver/pkg/lru"
	"github.com/r2kv/kvserver/pkg/skiplist"
	"github.com/r2kv/kvserver/pkg/sortedset"
)

// Appender receives a record for every successful mutation so it can be
// durably logged. A nil Appender (or one returning no error) never blocks
// the mutation itself: the store applies the change in memory regardless.
type Appender interface {
	AppendSet(key string, value []byte) error
	AppendDel(key string) error
	AppendZAdd(key string, score float64, member string) error
	AppendZRem(key string, member string) error
}

type kind int

const (
	kindValue kind = iota
	kindSortedSet
)

// cacheEntry is the tagged variant spec.md §9 calls for: value entries and
// sorted-set entries share the same LRU linkage through an embedded
// lru.Node, so one list can order both without either knowing about the
// other's shape.
type cacheEntry struct {
	lru.Node
	kind  kind
	key   string
	value []byte
	set   *sortedset.SortedSet
}

// Store is the unified store. It is safe for concurrent use: every
// operation runs under a single mutex, following spec.md §5's own
// observation that per-command work is short enough not to need finer
// granularity.
type Store struct {
	mu       sync.Mutex
	capacity int
	values   map[string]*cacheEntry
	sets     map[string]*cacheEntry
	lru      *lru.List
	appender Appender
}

// New returns an empty store bounded to capacity entries (combined across
// both key spaces). An Appender may be nil, e.g. while replaying the AOF
// on startup, when records must not be re-logged.
func New(capacity int, appender Appender) *Store {
	return &Store{
		capacity: capacity,
		values:   make(map[string]*cacheEntry),
		sets:     make(map[string]*cacheEntry),
		lru:      lru.New(),
		appender: appender,
	}
}

// SetAppender swaps the store's appender, used to attach the AOF after a
// replay-only construction.
func (s *Store) SetAppender(a Appender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appender = a
}

// Len returns the combined number of value and sorted-set entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values) + len(s.sets)
}

// Cardinality is a point-in-time snapshot of store size, used only for
// diagnostics (the snapshot store) and never for recovery.
type Cardinality struct {
	Values     int
	Sets       int
	SetMembers map[string]int
}

// Cardinality reports the current size of the store.
func (s *Store) Cardinality() Cardinality {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Cardinality{
		Values:     len(s.values),
		Sets:       len(s.sets),
		SetMembers: make(map[string]int, len(s.sets)),
	}
	for key, e := range s.sets {
		c.SetMembers[key] = e.set.Len()
	}
	return c
}

func (s *Store) evictIfNeeded() {
	for len(s.values)+len(s.sets) > s.capacity {
		n := s.lru.PopTail()
		if n == nil {
			return
		}
		e := n.Value.(*cacheEntry)
		switch e.kind {
		case kindValue:
			delete(s.values, e.key)
		case kindSortedSet:
			delete(s.sets, e.key)
		}
	}
}

// Set stores value under key, updating it in place if key is already
// present. A newly inserted key may trigger eviction of whatever entry is
// currently least-recently-used if the store is over capacity; at
// capacity 0 this means the key is evicted again immediately, leaving the
// store empty.
func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.values[key]; ok {
		e.value = value
		s.lru.MoveToFront(&e.Node)
	} else {
		e := &cacheEntry{kind: kindValue, key: key, value: value}
		e.Node.Value = e
		s.values[key] = e
		s.lru.AddToFront(&e.Node)
		s.evictIfNeeded()
	}
	if s.appender != nil {
		return s.appender.AppendSet(key, value)
	}
	return nil
}

// Get returns the value stored under key, and whether it was present.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.values[key]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(&e.Node)
	return e.value, true
}

// Delete removes key from the value map, reporting whether it was present.
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.values[key]
	if !ok {
		return false, nil
	}
	s.lru.Remove(&e.Node)
	delete(s.values, key)
	if s.appender != nil {
		if err := s.appender.AppendDel(key); err != nil {
			return true, err
		}
	}
	return true, nil
}

// ZAdd adds or re-prices member in the sorted set at key, creating the set
// if it does not exist. Reports whether member was newly added.
func (s *Store) ZAdd(key string, score float64, member string) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sets[key]
	if ok {
		s.lru.MoveToFront(&e.Node)
	} else {
		e = &cacheEntry{kind: kindSortedSet, key: key, set: sortedset.New()}
		e.Node.Value = e
		s.sets[key] = e
		s.lru.AddToFront(&e.Node)
		s.evictIfNeeded()
	}
	added = e.set.Add(member, score)
	if s.appender != nil {
		err = s.appender.AppendZAdd(key, score, member)
	}
	return added, err
}

// ZRange returns the members of the sorted set at key with score in [lo,
// hi], and whether the set exists.
func (s *Store) ZRange(key string, lo, hi float64) ([]skiplist.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sets[key]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(&e.Node)
	return e.set.Range(lo, hi), true
}

// ZRank returns member's 0-based rank within the sorted set at key, and
// whether both the set and member exist.
func (s *Store) ZRank(key, member string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sets[key]
	if !ok {
		return 0, false
	}
	s.lru.MoveToFront(&e.Node)
	return e.set.Rank(member)
}

// ZRem removes member from the sorted set at key. Per spec.md §9's
// resolved open question, the set itself is only unlinked from the LRU
// (and dropped from the map) once it becomes empty — not on every removal.
func (s *Store) ZRem(key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sets[key]
	if !ok {
		return false, nil
	}
	if !e.set.Remove(member) {
		return false, nil
	}
	if e.set.Len() == 0 {
		s.lru.Remove(&e.Node)
		delete(s.sets, key)
	} else {
		s.lru.MoveToFront(&e.Node)
	}
	if s.appender != nil {
		if err := s.appender.AppendZRem(key, member); err != nil {
			return true, err
		}
	}
	return true, nil
}
