package lru

import "testing"

func TestAddMoveRemovePopTail(t *testing.T) {
	l := New()
	a := &Node{Value: 1}
	b := &Node{Value: 2}
	c := &Node{Value: 3}

	l.AddToFront(a)
	l.AddToFront(b)
	l.AddToFront(c)
	assertOrder(t, l, []int{3, 2, 1})

	l.MoveToFront(b)
	assertOrder(t, l, []int{2, 3, 1})

	l.Remove(c)
	assertOrder(t, l, []int{2, 1})

	popped := l.PopTail()
	if popped != a {
		t.Fatalf("PopTail returned wrong node")
	}
	assertOrder(t, l, []int{2})

	l.PopTail()
	if l.PopTail() != nil {
		t.Fatalf("PopTail on empty list should return nil")
	}
}

func assertOrder(t *testing.T, l *List, want []int) {
	t.Helper()
	var got []int
	for n := l.head.next; n != &l.tail; n = n.next {
		got = append(got, n.Value.(int))
	}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
