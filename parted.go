package caravel

// Parted dispatch: segmented columns either run per-partition
// sub-executions whose partials merge, or concatenate zero-copy into plain
// vectors when an operator needs flat input.

// colView returns a zero-copy window [start, end) over a plain vector.
func colView(c *Column, start, end int) *Column {
	esz := c.elemSize()
	v := &Column{
		typ:    c.typ,
		attrs:  c.attrs,
		length: end - start,
		data:   c.data[start*esz : end*esz],
	}
	v.refs.Store(1)
	return v
}

// broadcastVec builds a vector of n copies of a map-common partition value.
func broadcastVec(val *Column, part int, n int) *Column {
	k := val.Kind()
	var out *Column
	if k == KindSym {
		out = NewSymVec(val.attrs, n)
	} else {
		out = NewVec(k, n)
	}
	if k == KindF64 {
		v := val.F64At(part)
		dst := out.F64s()
		for i := range dst {
			dst[i] = v
		}
	} else {
		v := val.I64At(part)
		for i := 0; i < n; i++ {
			writeColI64(out.data, i, k, out.attrs, v)
		}
	}
	return out
}

// partitionShape describes the segment layout shared by a table's parted
// columns: per-partition row counts and start offsets.
type partitionShape struct {
	counts []int
	starts []int
}

// partedShape derives the partition layout from the first segmented
// column. Returns nil when column layouts disagree.
func partedShape(cols []*Column) *partitionShape {
	var ref *Column
	for _, c := range cols {
		if c != nil && c.isParted() {
			ref = c
			break
		}
	}
	if ref == nil {
		return nil
	}
	var counts []int
	if ref.Kind() == KindParted {
		for _, seg := range ref.parts {
			counts = append(counts, seg.Len())
		}
	} else {
		for _, c := range ref.parts[1].I64s() {
			counts = append(counts, int(c))
		}
	}
	shape := &partitionShape{counts: counts, starts: make([]int, len(counts)+1)}
	for i, c := range counts {
		shape.starts[i+1] = shape.starts[i] + c
	}
	for _, c := range cols {
		if c == nil || !c.isParted() {
			continue
		}
		if c.Kind() == KindParted {
			if len(c.parts) != len(counts) {
				return nil
			}
			for i, seg := range c.parts {
				if seg.Len() != counts[i] {
					return nil
				}
			}
		} else if c.parts[0].Len() != len(counts) {
			return nil
		}
	}
	return shape
}

// partitionOf extracts partition `part` of a column as a plain vector:
// zero-copy for segments and plain windows, broadcast for map-common.
func partitionOf(c *Column, shape *partitionShape, part int) *Column {
	switch c.Kind() {
	case KindParted:
		return c.parts[part].Retain()
	case KindMapCommon:
		return broadcastVec(c.parts[0], part, shape.counts[part])
	default:
		return colView(c, shape.starts[part], shape.starts[part+1])
	}
}

// concatCols appends plain vectors of a common kind into one.
func concatCols(cols []*Column) *Column {
	n := 0
	for _, c := range cols {
		n += c.Len()
	}
	base := cols[0].Kind()
	var out *Column
	if base == KindSym {
		out = NewSymVec(3, n)
	} else {
		out = NewVec(base, n)
	}
	at := 0
	for _, c := range cols {
		if base == KindF64 {
			copy(out.F64s()[at:], c.F64s())
		} else {
			for i := 0; i < c.Len(); i++ {
				writeColI64(out.data, at+i, base, out.attrs, c.I64At(i))
			}
		}
		at += c.Len()
	}
	return out
}

// concatTables appends the rows of b to a; schemas must match. Consumes
// neither input.
func concatTables(a, b *Table) *Table {
	out := NewTable(a.NumCols())
	for i := 0; i < a.NumCols(); i++ {
		out.AddCol(a.ColName(i), concatCols([]*Column{a.Col(i), b.Col(i)}))
	}
	return out
}

// ============================================================================
// Per-partition decomposed group-by
// ============================================================================

const (
	partedBatch = 8
	// The decomposition only pays when the per-partition group count is a
	// small fraction of the partition size.
	partedCardinalityDiv    = 4
	partedCardinalitySample = 65536
)

// partedDecomposable checks the aggregate list against the decomposition:
// every op must have a merge form.
func partedDecomposable(aggs []aggRt) bool {
	for i := range aggs {
		switch aggs[i].op {
		case OpSum, OpCount, OpMin, OpMax, OpAvg, OpFirst, OpLast,
			OpStddev, OpStddevPop, OpVar, OpVarPop:
		default:
			return false
		}
	}
	return true
}

// estimatePartedGroups estimates distinct key tuples from a sample of the
// first partition. Beyond 4M interned symbols the estimate degrades to the
// row count.
func estimatePartedGroups(keys []*Column, shape *partitionShape) int {
	if len(keys) == 0 {
		return 1
	}
	for _, k := range keys {
		if k.Kind() == KindSym && SymCount() > 4<<20 {
			return shape.counts[0]
		}
	}
	n := shape.counts[0]
	if n > partedCardinalitySample {
		n = partedCardinalitySample
	}
	seen := make(map[uint64]struct{}, 1024)
	parts := make([]*Column, len(keys))
	for i, k := range keys {
		parts[i] = partitionOf(k, shape, 0)
	}
	defer func() {
		for _, p := range parts {
			p.Release()
		}
	}()
	for row := 0; row < n; row++ {
		h := hashColAt(parts[0], row)
		for k := 1; k < len(parts); k++ {
			h = hashCombine(h, hashColAt(parts[k], row))
		}
		seen[h] = struct{}{}
	}
	return len(seen)
}

// decomposedAggs rewrites the user aggregate list into partition-phase and
// merge-phase forms: AVG becomes SUM, the variance family becomes SUM plus
// an appended SUM(x*x) slot, and every aggregate appends a COUNT. The
// merge phase turns COUNT into SUM and keeps everything else.
type decomposedAgg struct {
	user     aggRt
	partOp   Opcode
	mergeOp  Opcode
	sqSlot   int // partial column index of the x*x sum, -1
	cntSlot  int // partial column index of the count
	partSlot int // partial column index of the main partial
}

func decomposeAggs(aggs []aggRt) []decomposedAgg {
	out := make([]decomposedAgg, len(aggs))
	next := 0
	for i := range aggs {
		d := decomposedAgg{user: aggs[i], sqSlot: -1}
		switch aggs[i].op {
		case OpAvg:
			d.partOp = OpSum
		case OpStddev, OpStddevPop, OpVar, OpVarPop:
			d.partOp = OpSum
		case OpCount:
			d.partOp = OpCount
		default:
			d.partOp = aggs[i].op
		}
		d.mergeOp = d.partOp
		if d.partOp == OpCount {
			d.mergeOp = OpSum
		}
		d.partSlot = next
		next++
		out[i] = d
	}
	for i := range aggs {
		switch aggs[i].op {
		case OpStddev, OpStddevPop, OpVar, OpVarPop:
			out[i].sqSlot = next
			next++
		}
	}
	for i := range out {
		out[i].cntSlot = next
		next++
	}
	return out
}
