package caravel

// Top-N fusion: ORDER BY + small LIMIT replaces the radix passes with one
// scan through the encoded keys per worker, each keeping a bounded
// max-heap of the smallest `limit` keys seen. Heaps merge and heap-sort
// into the final ascending index order.

type topNEntry struct {
	key uint64
	idx int64
}

// topNHeap is a bounded max-heap ordered by (key, idx): the root is the
// worst entry currently kept. The idx tiebreak keeps the fused path
// consistent with the stable radix order.
type topNHeap struct {
	entries []topNEntry
	bound   int
}

func (h *topNHeap) worse(a, b topNEntry) bool {
	if a.key != b.key {
		return a.key > b.key
	}
	return a.idx > b.idx
}

// push offers an entry, displacing the root when full and better.
func (h *topNHeap) push(e topNEntry) {
	if len(h.entries) < h.bound {
		h.entries = append(h.entries, e)
		h.siftUp(len(h.entries) - 1)
		return
	}
	if !h.worse(h.entries[0], e) {
		return
	}
	h.entries[0] = e
	h.siftDown(0)
}

func (h *topNHeap) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.worse(h.entries[i], h.entries[p]) {
			return
		}
		h.entries[i], h.entries[p] = h.entries[p], h.entries[i]
		i = p
	}
}

func (h *topNHeap) siftDown(i int) {
	n := len(h.entries)
	for {
		l, r := 2*i+1, 2*i+2
		worst := i
		if l < n && h.worse(h.entries[l], h.entries[worst]) {
			worst = l
		}
		if r < n && h.worse(h.entries[r], h.entries[worst]) {
			worst = r
		}
		if worst == i {
			return
		}
		h.entries[i], h.entries[worst] = h.entries[worst], h.entries[i]
		i = worst
	}
}

// topNIndices scans encoded keys once per worker and returns the sorted
// indices of the smallest `limit` keys.
func topNIndices(keys []uint64, limit int) []int64 {
	n := len(keys)
	pool := poolGet()
	nw := pool.TotalWorkers()

	heaps := make([]topNHeap, nw)
	for w := range heaps {
		heaps[w].bound = limit
	}
	pool.Dispatch(n, func(w, start, end int) {
		h := &heaps[w]
		for i := start; i < end; i++ {
			h.push(topNEntry{key: keys[i], idx: int64(i)})
		}
	})

	// Merge worker heaps into one, then sort ascending.
	merged := topNHeap{bound: limit}
	for w := range heaps {
		for _, e := range heaps[w].entries {
			merged.push(e)
		}
	}
	out := merged.entries
	// Heap-sort in place: repeatedly move the worst to the back.
	for size := len(out); size > 1; size-- {
		sub := topNHeap{entries: out[:size], bound: limit}
		out[0], out[size-1] = out[size-1], out[0]
		sub.entries = out[: size-1 : size-1]
		sub.siftDown(0)
	}
	idx := make([]int64, len(out))
	for i, e := range out {
		idx[i] = e.idx
	}
	return idx
}
