package skiplist

import (
	"math/rand"
	"sort"
	"testing"
)

func TestInsertRankOrder(t *testing.T) {
	sl := New()
	members := []struct {
		score  float64
		member string
	}{
		{3, "c"}, {1, "a"}, {2, "b"}, {1, "z"}, {2, "a"},
	}
	for _, m := range members {
		sl.Insert(m.score, m.member)
	}
	if sl.Len() != len(members) {
		t.Fatalf("Len() = %d, want %d", sl.Len(), len(members))
	}

	want := []Entry{{1, "a"}, {1, "z"}, {2, "a"}, {2, "b"}, {3, "c"}}
	got := sl.RangeByRank(0, sl.Len()-1)
	if len(got) != len(want) {
		t.Fatalf("RangeByRank len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	for i, e := range want {
		rank, ok := sl.Rank(e.Score, e.Member)
		if !ok || rank != i {
			t.Fatalf("Rank(%v, %q) = %d, %v, want %d, true", e.Score, e.Member, rank, ok, i)
		}
		score, member, ok := sl.GetByRank(i)
		if !ok || score != e.Score || member != e.Member {
			t.Fatalf("GetByRank(%d) = %v, %q, %v, want %v, %q", i, score, member, ok, e.Score, e.Member)
		}
	}
}

func TestRemove(t *testing.T) {
	sl := New()
	sl.Insert(1, "a")
	sl.Insert(2, "b")
	sl.Insert(3, "c")

	if !sl.Remove(2, "b") {
		t.Fatalf("Remove(2, b) = false, want true")
	}
	if sl.Remove(2, "b") {
		t.Fatalf("second Remove(2, b) = true, want false")
	}
	if sl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", sl.Len())
	}
	if _, ok := sl.Rank(2, "b"); ok {
		t.Fatalf("Rank(2, b) found after removal")
	}
	rank, ok := sl.Rank(3, "c")
	if !ok || rank != 1 {
		t.Fatalf("Rank(3, c) = %d, %v, want 1, true", rank, ok)
	}
}

func TestRangeByScoreContainment(t *testing.T) {
	sl := New()
	sl.Insert(1, "x")
	sl.Insert(2, "y")
	sl.Insert(1.5, "z")

	got := sl.RangeByScore(1, 2)
	want := []Entry{{1, "x"}, {1.5, "z"}, {2, "y"}}
	if len(got) != len(want) {
		t.Fatalf("RangeByScore len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	sl.Insert(10, "x2")
	if got := sl.RangeByScore(0, 100); len(got) != 4 {
		t.Fatalf("RangeByScore(0,100) len = %d, want 4", len(got))
	}
	if got := sl.RangeByScore(3, 9); got != nil {
		t.Fatalf("RangeByScore(3,9) = %v, want nil", got)
	}
}

func TestRangeByRankBounds(t *testing.T) {
	sl := New()
	for i := 0; i < 5; i++ {
		sl.Insert(float64(i), string(rune('a'+i)))
	}
	if got := sl.RangeByRank(10, 20); got != nil {
		t.Fatalf("out-of-range RangeByRank = %v, want nil", got)
	}
	if got := sl.RangeByRank(3, 100); len(got) != 2 {
		t.Fatalf("clamped RangeByRank len = %d, want 2", len(got))
	}
}

func TestSpanConsistencyAgainstSortedSlice(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sl := New()
	type kv struct {
		score  float64
		member string
	}
	var model []kv
	seen := map[kv]bool{}

	for i := 0; i < 500; i++ {
		score := float64(rng.Intn(50))
		member := string(rune('a' + rng.Intn(26)))
		k := kv{score, member}
		if seen[k] {
			continue
		}
		seen[k] = true
		model = append(model, k)
		sl.Insert(score, member)
	}

	sort.Slice(model, func(i, j int) bool {
		return Less(model[i].score, model[i].member, model[j].score, model[j].member)
	})

	if sl.Len() != len(model) {
		t.Fatalf("Len() = %d, want %d", sl.Len(), len(model))
	}
	for i, e := range model {
		rank, ok := sl.Rank(e.score, e.member)
		if !ok || rank != i {
			t.Fatalf("Rank(%v,%q) = %d,%v want %d", e.score, e.member, rank, ok, i)
		}
		score, member, ok := sl.GetByRank(i)
		if !ok || score != e.score || member != e.member {
			t.Fatalf("GetByRank(%d) = %v,%q want %v,%q", i, score, member, e.score, e.member)
		}
	}
}
