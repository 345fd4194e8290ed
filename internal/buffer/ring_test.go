package buffer

import "testing"

func TestRingKeepsNewestEntries(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		ring.Add(i)
	}
	if ring.Len() != 3 {
		t.Fatalf("expected len 3, got %d", ring.Len())
	}
	got := ring.List()
	want := []int{3, 4, 5}
	for i, value := range want {
		if got[i] != value {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRingPartialFill(t *testing.T) {
	ring := NewRing[string](4)
	ring.Add("a")
	ring.Add("b")
	if ring.Len() != 2 {
		t.Fatalf("expected len 2, got %d", ring.Len())
	}
	got := ring.List()
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestRingZeroCapacityClampsToOne(t *testing.T) {
	ring := NewRing[int](0)
	ring.Add(1)
	ring.Add(2)
	if ring.Cap() != 1 {
		t.Fatalf("expected cap 1, got %d", ring.Cap())
	}
	if got := ring.List(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected [2], got %v", got)
	}
}
