package util

import (
	"container/heap"
)

// HeapItem is an entry of a MapHeap.
type HeapItem struct {
	Key      uint64
	Priority uint64
	index    int
}

// MapHeap is a min-heap ordered by priority whose items can also be found
// and removed by key. Every key is in the heap at most once. It is used to
// schedule work by deadline, with the deadline as priority.
//
// MapHeap is not safe for concurrent use.
type MapHeap struct {
	items []*HeapItem
	byKey map[uint64]*HeapItem
}

// NewMapHeap creates an empty heap.
func NewMapHeap() *MapHeap {
	return &MapHeap{byKey: make(map[uint64]*HeapItem)}
}

// Len implements heap.Interface.
func (h *MapHeap) Len() int { return len(h.items) }

// Less implements heap.Interface.
func (h *MapHeap) Less(i, j int) bool {
	if h.items[i].Priority == h.items[j].Priority {
		return h.items[i].Key < h.items[j].Key
	}
	return h.items[i].Priority < h.items[j].Priority
}

// Swap implements heap.Interface.
func (h *MapHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push implements heap.Interface, use Set instead.
func (h *MapHeap) Push(x interface{}) {
	it := x.(*HeapItem)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.byKey[it.Key] = it
}

// Pop implements heap.Interface, use PopDue instead.
func (h *MapHeap) Pop() interface{} {
	n := len(h.items)
	it := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	it.index = -1
	delete(h.byKey, it.Key)
	return it
}

// Set adds key with the given priority or moves it if it is already present.
func (h *MapHeap) Set(key, priority uint64) {
	if it, ok := h.byKey[key]; ok {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &HeapItem{Key: key, Priority: priority})
}

// Remove deletes key and returns its priority.
func (h *MapHeap) Remove(key uint64) (uint64, bool) {
	it, ok := h.byKey[key]
	if !ok {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Peek returns the item with the lowest priority.
func (h *MapHeap) Peek() (HeapItem, bool) {
	if len(h.items) == 0 {
		return HeapItem{}, false
	}
	return *h.items[0], true
}

// PopDue removes and returns the item with the lowest priority if that
// priority is at most limit.
func (h *MapHeap) PopDue(limit uint64) (HeapItem, bool) {
	if len(h.items) == 0 || h.items[0].Priority > limit {
		return HeapItem{}, false
	}
	return *heap.Pop(h).(*HeapItem), true
}

// Contains reports whether key is in the heap.
func (h *MapHeap) Contains(key uint64) bool {
	_, ok := h.byKey[key]
	return ok
}

// Get returns the item of key.
func (h *MapHeap) Get(key uint64) (HeapItem, bool) {
	it, ok := h.byKey[key]
	if !ok {
		return HeapItem{}, false
	}
	return *it, true
}
