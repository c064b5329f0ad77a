package event

// entry is one pending scheduled event.
//
// Invariant: index is the entry's position in the owning heap, or -1 once popped.
type entry[K comparable] struct {
	id    K
	due   int64
	seq   uint64
	group Group
	phase Phase
	index int
}

// entryHeap orders entries by ascending due time, ties by ascending seq.
// It implements container/heap.Interface.
type entryHeap[K comparable] []*entry[K]

func (h entryHeap[K]) Len() int { return len(h) }

func (h entryHeap[K]) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap[K]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap[K]) Push(x any) {
	e := x.(*entry[K])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap[K]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
