package caravel

import "math"

// Sort strategy selection:
//   n <= 64                   -> insertion sort on row indices
//   all keys radix-encodable  -> LSB radix sort on packed u64 keys,
//                                or the top-N heap when a small limit
//                                makes a full sort wasteful
//   otherwise                 -> parallel comparator merge sort
// After the index permutation is built the result materializes through the
// fused multi-column gather.

const (
	sortInsertionMax = 64
	topNMaxLimit     = 8192
	topNRatio        = 8
)

type sortSpec struct {
	cols       []*Column
	desc       []bool
	nullsFirst []bool
}

// resolveSortSpec binds key names against a table, materializing parted
// keys. Returns nil when a key is missing.
func resolveSortSpec(t *Table, names []string, desc, nullsFirst []bool) *sortSpec {
	spec := &sortSpec{
		cols:       make([]*Column, len(names)),
		desc:       make([]bool, len(names)),
		nullsFirst: make([]bool, len(names)),
	}
	for i, name := range names {
		c := t.GetColNamed(name)
		if c == nil {
			return nil
		}
		if c.isParted() {
			c = c.materialize()
		} else {
			c.Retain()
		}
		spec.cols[i] = c
		if desc != nil {
			spec.desc[i] = desc[i]
		}
		if nullsFirst != nil {
			spec.nullsFirst[i] = nullsFirst[i]
		}
	}
	return spec
}

func (s *sortSpec) release() {
	for _, c := range s.cols {
		c.Release()
	}
}

// radixable reports whether every key kind has a u64 lexicographic
// encoding.
func (s *sortSpec) radixable() bool {
	for _, c := range s.cols {
		switch c.Kind() {
		case KindI64, KindF64, KindI32, KindI16, KindU8, KindBool,
			KindDate, KindTime, KindTimestamp, KindSym:
		default:
			return false
		}
	}
	return true
}

// cmpRows is the comparator fallback: compares two rows under the full key
// list, honoring desc and the nulls-first policy for doubles. Symbols
// compare by their string values.
func (s *sortSpec) cmpRows(a, b int64) int {
	for k, c := range s.cols {
		var r int
		if c.Kind() == KindF64 {
			x, y := c.F64At(int(a)), c.F64At(int(b))
			xn, yn := math.IsNaN(x), math.IsNaN(y)
			if xn || yn {
				// NaN is null; its position is absolute, not desc-relative.
				if xn && yn {
					continue
				}
				if xn == s.nullsFirst[k] {
					return -1
				}
				return 1
			}
			switch {
			case x < y:
				r = -1
			case x > y:
				r = 1
			}
		} else if c.Kind() == KindSym {
			x, y := SymStr(c.I64At(int(a))), SymStr(c.I64At(int(b)))
			switch {
			case x < y:
				r = -1
			case x > y:
				r = 1
			}
		} else {
			x, y := c.I64At(int(a)), c.I64At(int(b))
			switch {
			case x < y:
				r = -1
			case x > y:
				r = 1
			}
		}
		if s.desc[k] {
			r = -r
		}
		if r != 0 {
			return r
		}
	}
	return 0
}

// insertionSortIdx sorts idx in place by the comparator; stable.
func insertionSortIdx(idx []int64, cmp func(a, b int64) int) {
	for i := 1; i < len(idx); i++ {
		v := idx[i]
		j := i - 1
		for j >= 0 && cmp(idx[j], v) > 0 {
			idx[j+1] = idx[j]
			j--
		}
		idx[j+1] = v
	}
}

// mergeSortIdx is the comparator path: per-worker sorted chunks, then
// log2-level balanced merges through a tmp buffer. Stable.
func mergeSortIdx(idx []int64, cmp func(a, b int64) int) {
	n := len(idx)
	pool := poolGet()
	nw := pool.TotalWorkers()
	if n <= sortInsertionMax || nw <= 1 {
		chunkSortIdx(idx, cmp)
		return
	}

	// Phase 1: sort each worker's contiguous chunk.
	type chunk struct{ start, end int }
	var chunks []chunk
	for w := 0; w < nw; w++ {
		start, end := workerRange(n, nw, w)
		if start >= end {
			break
		}
		chunks = append(chunks, chunk{start, end})
	}
	pool.DispatchN(len(chunks), func(_, t int) {
		chunkSortIdx(idx[chunks[t].start:chunks[t].end], cmp)
	})

	// Phase 2: pairwise merges until one run remains.
	tmp := make([]int64, n)
	for len(chunks) > 1 {
		var next []chunk
		pairs := len(chunks) / 2
		pool.DispatchN(pairs, func(_, t int) {
			a, b := chunks[2*t], chunks[2*t+1]
			mergeRuns(idx, tmp, a.start, a.end, b.end, cmp)
		})
		for t := 0; t < pairs; t++ {
			next = append(next, chunk{chunks[2*t].start, chunks[2*t+1].end})
		}
		if len(chunks)%2 == 1 {
			next = append(next, chunks[len(chunks)-1])
		}
		chunks = next
	}
}

// chunkSortIdx sorts one run with bottom-up merges over an insertion base.
func chunkSortIdx(idx []int64, cmp func(a, b int64) int) {
	n := len(idx)
	if n <= sortInsertionMax {
		insertionSortIdx(idx, cmp)
		return
	}
	for at := 0; at < n; at += sortInsertionMax {
		hi := at + sortInsertionMax
		if hi > n {
			hi = n
		}
		insertionSortIdx(idx[at:hi], cmp)
	}
	tmp := make([]int64, n)
	for width := sortInsertionMax; width < n; width *= 2 {
		for at := 0; at+width < n; at += 2 * width {
			hi := at + 2*width
			if hi > n {
				hi = n
			}
			mergeRuns(idx, tmp, at, at+width, hi, cmp)
		}
	}
}

// mergeRuns merges idx[lo:mid) and idx[mid:hi) through tmp; stable.
func mergeRuns(idx, tmp []int64, lo, mid, hi int, cmp func(a, b int64) int) {
	copy(tmp[lo:hi], idx[lo:hi])
	i, j := lo, mid
	for k := lo; k < hi; k++ {
		switch {
		case i >= mid:
			idx[k] = tmp[j]
			j++
		case j >= hi:
			idx[k] = tmp[i]
			i++
		case cmp(tmp[j], tmp[i]) < 0:
			idx[k] = tmp[j]
			j++
		default:
			idx[k] = tmp[i]
			i++
		}
	}
}

// sortedIndices computes the row permutation for a sort spec. limit > 0
// enables the top-N fusion; the returned slice may be shorter than n.
func sortedIndices(spec *sortSpec, n int, limit int) ([]int64, ErrKind) {
	idx := make([]int64, n)
	for i := range idx {
		idx[i] = int64(i)
	}
	if n <= 1 {
		return idx, ErrNone
	}

	if n <= sortInsertionMax {
		insertionSortIdx(idx, spec.cmpRows)
		if limit > 0 && limit < n {
			idx = idx[:limit]
		}
		return idx, ErrNone
	}

	if spec.radixable() {
		keys, ok := encodeSortKeys(spec, n)
		if ok {
			if limit > 0 && limit <= topNMaxLimit && n > topNRatio*limit {
				return topNIndices(keys, limit), ErrNone
			}
			if poolGet().Cancelled() {
				return nil, ErrCancel
			}
			radixSortIdx(keys, idx)
			if limit > 0 && limit < n {
				idx = idx[:limit]
			}
			return idx, ErrNone
		}
	}

	mergeSortIdx(idx, spec.cmpRows)
	if limit > 0 && limit < n {
		idx = idx[:limit]
	}
	return idx, ErrNone
}

// execSort sorts a table by named keys and materializes the permuted rows.
// limit > 0 is the SORT+LIMIT fusion.
func execSort(t *Table, names []string, desc, nullsFirst []bool, limit int) (*Table, ErrKind) {
	spec := resolveSortSpec(t, names, desc, nullsFirst)
	if spec == nil {
		return nil, ErrSchema
	}
	defer spec.release()

	n := t.NumRows()
	idx, ek := sortedIndices(spec, n, limit)
	if ek != ErrNone {
		return nil, ek
	}
	if poolGet().Cancelled() {
		return nil, ErrCancel
	}

	// Parted columns cannot take an unsorted gather; flatten them first.
	src := t
	if t.hasParted() {
		src = NewTable(t.NumCols())
		for i := 0; i < t.NumCols(); i++ {
			src.AddCol(t.ColName(i), t.Col(i).materialize())
		}
		defer src.Release()
	}
	return gatherTable(src, idx, false), ErrNone
}
