package semantic

import "container/heap"

type scored struct {
	id    string
	score float32
}

// worse orders by score, breaking ties by ID so results are deterministic.
func (a scored) worse(b scored) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.id > b.id
}

type minHeap []scored

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].worse(h[j]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) {
	*h = append(*h, x.(scored))
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK keeps track of the k best scoring items.
type topK struct {
	k    int
	heap minHeap
}

func newTopK(k int) *topK {
	t := &topK{k: k, heap: make(minHeap, 0, k)}
	heap.Init(&t.heap)
	return t
}

func (t *topK) add(id string, score float32) {
	if t.k <= 0 {
		return
	}
	item := scored{id, score}
	if len(t.heap) < t.k {
		heap.Push(&t.heap, item)
		return
	}
	if t.heap[0].worse(item) {
		heap.Pop(&t.heap)
		heap.Push(&t.heap, item)
	}
}

// sorted returns the tracked items best first.
func (t *topK) sorted() []scored {
	tmp := make(minHeap, len(t.heap))
	copy(tmp, t.heap)

	out := make([]scored, len(tmp))
	for i := len(tmp) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&tmp).(scored)
	}
	return out
}
