package util

import (
	"math/rand"
	"testing"
)

func TestMapHeapOrder(t *testing.T) {
	h := NewMapHeap()
	for _, p := range []struct{ key, priority uint64 }{{5, 50}, {3, 30}, {1, 10}, {4, 40}, {2, 20}} {
		h.Set(p.key, p.priority)
	}

	for want := uint64(1); want <= 5; want++ {
		it, ok := h.PopDue(^uint64(0))
		if !ok {
			t.Fatalf("PopDue() returned nothing, want key %d", want)
		}
		if it.Key != want || it.Priority != want*10 {
			t.Errorf("PopDue() = (%d, %d), want (%d, %d)", it.Key, it.Priority, want, want*10)
		}
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d after popping everything", h.Len())
	}
}

func TestMapHeapSetMovesExistingKey(t *testing.T) {
	h := NewMapHeap()
	h.Set(1, 100)
	h.Set(2, 200)
	h.Set(1, 300)

	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.Len())
	}
	if it, _ := h.Peek(); it.Key != 2 {
		t.Errorf("Peek() key = %d, want 2", it.Key)
	}
	if it, ok := h.Get(1); !ok || it.Priority != 300 {
		t.Errorf("Get(1) = %+v, %v", it, ok)
	}

	h.Set(1, 50)
	if it, _ := h.Peek(); it.Key != 1 || it.Priority != 50 {
		t.Errorf("Peek() = (%d, %d), want (1, 50)", it.Key, it.Priority)
	}
}

func TestMapHeapPopDue(t *testing.T) {
	h := NewMapHeap()
	h.Set(1, 100)
	h.Set(2, 200)

	if _, ok := h.PopDue(99); ok {
		t.Fatal("PopDue(99) returned an item that is not due")
	}
	if it, ok := h.PopDue(150); !ok || it.Key != 1 {
		t.Fatalf("PopDue(150) = %+v, %v", it, ok)
	}
	if _, ok := h.PopDue(150); ok {
		t.Fatal("PopDue(150) returned key 2")
	}
	if h.Contains(1) || !h.Contains(2) {
		t.Fatal("Contains() does not follow PopDue()")
	}
}

func TestMapHeapRemove(t *testing.T) {
	h := NewMapHeap()
	h.Set(1, 100)
	h.Set(2, 200)
	h.Set(3, 300)

	if p, ok := h.Remove(2); !ok || p != 200 {
		t.Fatalf("Remove(2) = %d, %v", p, ok)
	}
	if _, ok := h.Remove(2); ok {
		t.Fatal("Remove(2) succeeded twice")
	}
	if _, ok := h.Peek(); !ok {
		t.Fatal("Peek() on a non-empty heap failed")
	}

	h.Remove(1)
	h.Remove(3)
	if _, ok := h.Peek(); ok {
		t.Fatal("Peek() on an empty heap returned an item")
	}
}

func TestMapHeapEqualPrioritiesPopByKey(t *testing.T) {
	h := NewMapHeap()
	for _, k := range []uint64{9, 3, 7, 1} {
		h.Set(k, 10)
	}
	for _, want := range []uint64{1, 3, 7, 9} {
		if it, _ := h.PopDue(10); it.Key != want {
			t.Fatalf("PopDue() key = %d, want %d", it.Key, want)
		}
	}
}

func TestMapHeapRandomized(t *testing.T) {
	h := NewMapHeap()
	rng := rand.New(rand.NewSource(1))
	priorities := make(map[uint64]uint64)

	for i := 0; i < 2000; i++ {
		key := uint64(rng.Intn(200))
		switch rng.Intn(3) {
		case 0, 1:
			p := uint64(rng.Intn(1000))
			h.Set(key, p)
			priorities[key] = p
		case 2:
			_, ok := h.Remove(key)
			if _, want := priorities[key]; ok != want {
				t.Fatalf("Remove(%d) = %v, want %v", key, ok, want)
			}
			delete(priorities, key)
		}
	}

	last := uint64(0)
	for h.Len() > 0 {
		it, _ := h.PopDue(^uint64(0))
		if it.Priority < last {
			t.Fatalf("priority %d popped after %d", it.Priority, last)
		}
		if priorities[it.Key] != it.Priority {
			t.Fatalf("key %d has priority %d, want %d", it.Key, it.Priority, priorities[it.Key])
		}
		delete(priorities, it.Key)
		last = it.Priority
	}
	if len(priorities) != 0 {
		t.Fatalf("%d keys missing from the heap", len(priorities))
	}
}
