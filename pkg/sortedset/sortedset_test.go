package sortedset

import "testing"

func TestAddIdempotentAndReprice(t *testing.T) {
	s := New()
	if added := s.Add("m", 1); !added {
		t.Fatalf("first Add should report added=true")
	}
	if added := s.Add("m", 1); added {
		t.Fatalf("re-adding the same score should report added=false")
	}
	if added := s.Add("m", 2); added {
		t.Fatalf("repricing should report added=false")
	}
	score, ok := s.Score("m")
	if !ok || score != 2 {
		t.Fatalf("Score(m) = %v, %v, want 2, true", score, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestRankAndRange(t *testing.T) {
	s := New()
	s.Add("c", 3)
	s.Add("a", 1)
	s.Add("b", 2)

	rank, ok := s.Rank("b")
	if !ok || rank != 1 {
		t.Fatalf("Rank(b) = %d, %v, want 1, true", rank, ok)
	}

	entries := s.Range(0, 100)
	want := []string{"a", "b", "c"}
	if len(entries) != len(want) {
		t.Fatalf("Range len = %d, want %d", len(entries), len(want))
	}
	for i, m := range want {
		if entries[i].Member != m {
			t.Fatalf("entry %d = %q, want %q", i, entries[i].Member, m)
		}
	}
}

func TestRemove(t *testing.T) {
	s := New()
	s.Add("a", 1)
	if !s.Remove("a") {
		t.Fatalf("Remove(a) = false, want true")
	}
	if s.Remove("a") {
		t.Fatalf("second Remove(a) = true, want false")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
	if _, ok := s.Score("a"); ok {
		t.Fatalf("Score(a) found after removal")
	}
}
