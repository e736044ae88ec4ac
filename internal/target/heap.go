package target

import "container/heap"

// entry is a queued target plus its position in the heap.
type entry struct {
	target Target
	seq    uint64
	index  int
}

// targetHeap orders entries by priority, then creation time, then
// insertion order.
type targetHeap []*entry

var _ heap.Interface = (*targetHeap)(nil)

func (h targetHeap) Len() int { return len(h) }

func (h targetHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.target.Priority != b.target.Priority {
		return a.target.Priority < b.target.Priority
	}
	if !a.target.CreatedAt.Equal(b.target.CreatedAt) {
		return a.target.CreatedAt.Before(b.target.CreatedAt)
	}

	return a.seq < b.seq
}

func (h targetHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *targetHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *targetHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]

	return e
}
