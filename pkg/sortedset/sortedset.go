// Package sortedset implements the sorted-set data model: a map from member
// to score paired with a skip list ordered by (score, member), giving O(1)
// score lookup alongside O(log n) rank and range queries.
package sortedset

import "github.com/r2kv/kvserver/pkg/skiplist"

// SortedSet is a single ZADD/ZRANGE/ZRANK/ZREM-addressable sorted set.
// It is not safe for concurrent use; callers (pkg/store) serialize access.
type SortedSet struct {
	scores map[string]float64
	sl     *skiplist.SkipList
}

// New returns an empty sorted set.
func New() *SortedSet {
	return &SortedSet{
		scores: make(map[string]float64),
		sl:     skiplist.New(),
	}
}

// Len returns the number of members in the set.
func (s *SortedSet) Len() int {
	return len(s.scores)
}

// Add sets member's score, inserting it if new or re-pricing it (removing
// the stale skip-list entry first) if it already exists. It reports
// whether member was newly added.
func (s *SortedSet) Add(member string, score float64) (added bool) {
	if old, ok := s.scores[member]; ok {
		if old == score {
			return false
		}
		s.sl.Remove(old, member)
	} else {
		added = true
	}
	s.scores[member] = score
	s.sl.Insert(score, member)
	return added
}

// Score returns member's score and whether it is present.
func (s *SortedSet) Score(member string) (float64, bool) {
	score, ok := s.scores[member]
	return score, ok
}

// Rank returns member's 0-based rank in ascending score order.
func (s *SortedSet) Rank(member string) (int, bool) {
	score, ok := s.scores[member]
	if !ok {
		return 0, false
	}
	return s.sl.Rank(score, member)
}

// Remove deletes member from the set, reporting whether it was present.
func (s *SortedSet) Remove(member string) bool {
	score, ok := s.scores[member]
	if !ok {
		return false
	}
	delete(s.scores, member)
	s.sl.Remove(score, member)
	return true
}

// Range returns the members with score in [lo, hi], inclusive, in
// ascending (score, member) order.
func (s *SortedSet) Range(lo, hi float64) []skiplist.Entry {
	return s.sl.RangeByScore(lo, hi)
}
