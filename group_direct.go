package caravel

import "math"

// Direct-array group-by: when every key is integer-representable and
// low-cardinality, a dense slot = sum(stride_k * (key_k - min_k)) indexing
// scheme replaces hashing entirely. Per-worker flat accumulator arrays are
// merged slot-disjoint in parallel, then the sparse slot space compacts to
// dense groups.

const (
	daMaxSlots       = 262144
	daMaxWorkerBytes = 6 << 20
	daMaxTotalBytes  = 256 << 20
	daParallelMerge  = 1024
	daPrefetchSlots  = 4096
)

type daPlan struct {
	mins    []int64
	sizes   []int64 // range+1 per key
	strides []int64
	slots   int
	seq     bool // accumulate on one worker only
}

// planDirectArray decides DA eligibility with a parallel per-key min/max
// prescan. Returns nil when the slot space or memory caps are exceeded.
func planDirectArray(p *groupPlan, sel *Sel) *daPlan {
	nk := len(p.keyCols)
	if nk == 0 {
		return nil
	}
	for _, c := range p.keyCols {
		if c.isParted() || !c.Kind().IsInteger() {
			return nil
		}
	}

	pool := poolGet()
	nw := pool.TotalWorkers()
	mins := make([][]int64, nw)
	maxs := make([][]int64, nw)
	any := make([]bool, nw)
	for w := 0; w < nw; w++ {
		mins[w] = make([]int64, nk)
		maxs[w] = make([]int64, nk)
		for k := 0; k < nk; k++ {
			mins[w][k] = math.MaxInt64
			maxs[w][k] = math.MinInt64
		}
	}
	pool.Dispatch(p.n, func(w, start, end int) {
		row := start
		for row < end {
			if sel != nil {
				seg := row / morselElems
				if sel.segs[seg] == segNone {
					row = (seg + 1) * morselElems
					continue
				}
				if sel.segs[seg] == segMix && !selBitTest(sel.bits, row) {
					row++
					continue
				}
			}
			any[w] = true
			for k := 0; k < nk; k++ {
				v := p.keyCols[k].I64At(row)
				if v < mins[w][k] {
					mins[w][k] = v
				}
				if v > maxs[w][k] {
					maxs[w][k] = v
				}
			}
			row++
		}
	})

	da := &daPlan{mins: make([]int64, nk), sizes: make([]int64, nk), strides: make([]int64, nk)}
	slots := int64(1)
	for k := 0; k < nk; k++ {
		lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
		for w := 0; w < nw; w++ {
			if !any[w] {
				continue
			}
			if mins[w][k] < lo {
				lo = mins[w][k]
			}
			if maxs[w][k] > hi {
				hi = maxs[w][k]
			}
		}
		if lo > hi {
			lo, hi = 0, 0
		}
		da.mins[k] = lo
		da.sizes[k] = hi - lo + 1
		if da.sizes[k] <= 0 {
			return nil // range overflow
		}
		slots *= da.sizes[k]
		if slots > daMaxSlots {
			return nil
		}
	}
	// Row-major strides: first key varies slowest.
	stride := int64(1)
	for k := nk - 1; k >= 0; k-- {
		da.strides[k] = stride
		stride *= da.sizes[k]
	}
	da.slots = int(slots)

	valWords := 1 + p.nSum + p.nMin + p.nMax + p.nSq
	perWorker := int64(da.slots) * int64(valWords) * 8
	if perWorker > daMaxWorkerBytes {
		return nil
	}
	if perWorker*int64(nw) > daMaxTotalBytes {
		da.seq = true
	}
	return da
}

// daAcc is one worker's accumulator block set.
type daAcc struct {
	hdr   *scratchHdr
	count []uint64
	sum   []uint64
	min   []uint64
	max   []uint64
	sq    []uint64
}

func newDAAcc(p *groupPlan, slots int) (*daAcc, bool) {
	total := slots * (1 + p.nSum + p.nMin + p.nMax + p.nSq)
	hdr, buf := scratchCalloc(total * 8)
	if hdr == nil {
		return nil, false
	}
	words := bytesAsU64(buf)
	a := &daAcc{hdr: hdr}
	a.count, words = words[:slots], words[slots:]
	a.sum, words = words[:slots*p.nSum], words[slots*p.nSum:]
	a.min, words = words[:slots*p.nMin], words[slots*p.nMin:]
	a.max, words = words[:slots*p.nMax], words[slots*p.nMax:]
	a.sq = words[:slots*p.nSq]
	return a, true
}

func (a *daAcc) free() { scratchFree(a.hdr) }

// daSlotAt computes the dense slot of one row.
func daSlotAt(p *groupPlan, da *daPlan, row int) int {
	slot := int64(0)
	for k := range p.keyCols {
		slot += da.strides[k] * (p.keyCols[k].I64At(row) - da.mins[k])
	}
	return int(slot)
}

// daAccumRow folds one row into the accumulator blocks.
func daAccumRow(p *groupPlan, acc *daAcc, slot, row int) {
	fresh := acc.count[slot] == 0
	acc.count[slot]++
	for ai := range p.aggs {
		rt := &p.aggs[ai]
		if rt.valIdx < 0 {
			continue
		}
		v := aggValBits(p.aggCols[rt.valIdx], row)
		switch rt.op {
		case OpSum, OpAvg:
			at := slot*p.nSum + rt.sumSlot
			acc.sum[at] = addBits(acc.sum[at], v, rt.isF64)
		case OpFirst:
			if fresh {
				acc.sum[slot*p.nSum+rt.sumSlot] = v
			}
		case OpLast:
			acc.sum[slot*p.nSum+rt.sumSlot] = v
		case OpMin:
			at := slot*p.nMin + rt.minSlot
			if fresh || lessBits(v, acc.min[at], rt.isF64) {
				acc.min[at] = v
			}
		case OpMax:
			at := slot*p.nMax + rt.maxSlot
			if fresh || lessBits(acc.max[at], v, rt.isF64) {
				acc.max[at] = v
			}
		case OpStddev, OpStddevPop, OpVar, OpVarPop:
			at := slot*p.nSum + rt.sumSlot
			acc.sum[at] = addBits(acc.sum[at], v, rt.isF64)
			f := bitsToF64(v, rt.isF64)
			sq := slot*p.nSq + rt.sqSlot
			acc.sq[sq] = math.Float64bits(math.Float64frombits(acc.sq[sq]) + f*f)
		}
	}
}

// daScanRange is the accumulation loop over one worker's rows. The key
// element-size dispatch for the single-key shape is hoisted out of the row
// loop; the all-sum shape skips the per-agg op switch.
func daScanRange(p *groupPlan, da *daPlan, acc *daAcc, sel *Sel, start, end int) {
	nk := len(p.keyCols)
	singleKey := nk == 1
	var k0 *Column
	var k0data []byte
	var k0kind Kind
	var k0attrs uint8
	if singleKey {
		k0 = p.keyCols[0]
		k0data, k0kind, k0attrs = k0.data, k0.Kind(), k0.attrs
	}

	row := start
	for row < end {
		if sel != nil {
			seg := row / morselElems
			segEnd := (seg + 1) * morselElems
			if segEnd > end {
				segEnd = end
			}
			switch sel.segs[seg] {
			case segNone:
				row = segEnd
				continue
			case segMix:
				if !selBitTest(sel.bits, row) {
					row++
					continue
				}
			}
		}
		var slot int
		if singleKey {
			slot = int(readColI64(k0data, row, k0kind, k0attrs) - da.mins[0])
		} else {
			slot = daSlotAt(p, da, row)
		}
		if p.allSum {
			acc.count[slot]++
			base := slot * p.nSum
			for ai := range p.aggs {
				rt := &p.aggs[ai]
				if rt.valIdx < 0 {
					continue
				}
				v := aggValBits(p.aggCols[rt.valIdx], row)
				acc.sum[base+rt.sumSlot] = addBits(acc.sum[base+rt.sumSlot], v, rt.isF64)
			}
		} else {
			daAccumRow(p, acc, slot, row)
		}
		row++
	}
}

// daMergeSlot folds worker acc b's slot into a's.
func daMergeSlot(p *groupPlan, a, b *daAcc, slot int) {
	if b.count[slot] == 0 {
		return
	}
	fresh := a.count[slot] == 0
	a.count[slot] += b.count[slot]
	for ai := range p.aggs {
		rt := &p.aggs[ai]
		if rt.valIdx < 0 {
			continue
		}
		switch rt.op {
		case OpSum, OpAvg:
			at := slot*p.nSum + rt.sumSlot
			a.sum[at] = addBits(a.sum[at], b.sum[at], rt.isF64)
		case OpFirst:
			if fresh {
				a.sum[slot*p.nSum+rt.sumSlot] = b.sum[slot*p.nSum+rt.sumSlot]
			}
		case OpLast:
			a.sum[slot*p.nSum+rt.sumSlot] = b.sum[slot*p.nSum+rt.sumSlot]
		case OpMin:
			at := slot*p.nMin + rt.minSlot
			if fresh || lessBits(b.min[at], a.min[at], rt.isF64) {
				a.min[at] = b.min[at]
			}
		case OpMax:
			at := slot*p.nMax + rt.maxSlot
			if fresh || lessBits(a.max[at], b.max[at], rt.isF64) {
				a.max[at] = b.max[at]
			}
		case OpStddev, OpStddevPop, OpVar, OpVarPop:
			at := slot*p.nSum + rt.sumSlot
			a.sum[at] = addBits(a.sum[at], b.sum[at], rt.isF64)
			sq := slot*p.nSq + rt.sqSlot
			a.sq[sq] = math.Float64bits(math.Float64frombits(a.sq[sq]) + math.Float64frombits(b.sq[sq]))
		}
	}
}

// execGroupDirect runs the full direct-array path.
func execGroupDirect(p *groupPlan, da *daPlan, sel *Sel) (*Table, ErrKind) {
	pool := poolGet()
	nw := pool.TotalWorkers()
	if da.seq || !pool.shouldParallelize(p.n) {
		nw = 1
	}

	accs := make([]*daAcc, nw)
	for w := 0; w < nw; w++ {
		a, ok := newDAAcc(p, da.slots)
		if !ok {
			for _, pa := range accs {
				if pa != nil {
					pa.free()
				}
			}
			return nil, ErrOOM
		}
		accs[w] = a
	}
	defer func() {
		for _, a := range accs {
			a.free()
		}
	}()

	if nw == 1 {
		daScanRange(p, da, accs[0], sel, 0, p.n)
	} else {
		pool.Dispatch(p.n, func(w, start, end int) {
			daScanRange(p, da, accs[w], sel, start, end)
		})
	}

	if poolGet().Cancelled() {
		return nil, ErrCancel
	}

	// Merge worker accumulators into worker 0, ordered. FIRST/LAST force
	// the sequential ordered merge; large slot counts merge slot-disjoint
	// in parallel.
	hasOrdered := false
	for ai := range p.aggs {
		if p.aggs[ai].op == OpFirst || p.aggs[ai].op == OpLast {
			hasOrdered = true
		}
	}
	if nw > 1 {
		if !hasOrdered && da.slots >= daParallelMerge {
			pool.Dispatch(da.slots, func(_, start, end int) {
				for slot := start; slot < end; slot++ {
					for w := 1; w < nw; w++ {
						daMergeSlot(p, accs[0], accs[w], slot)
					}
				}
			})
		} else {
			for w := 1; w < nw; w++ {
				for slot := 0; slot < da.slots; slot++ {
					daMergeSlot(p, accs[0], accs[w], slot)
				}
			}
		}
	}

	// Sparse slot array -> dense groups: skip empty slots, decompose each
	// live slot back to its key values.
	acc := accs[0]
	ngroups := 0
	for slot := 0; slot < da.slots; slot++ {
		if acc.count[slot] != 0 {
			ngroups++
		}
	}

	out := NewTable(len(p.keyCols) + len(p.aggs))
	keyOuts := make([]*Column, len(p.keyCols))
	for k := range p.keyCols {
		keyOuts[k] = newKeyOut(p.keyCols[k], ngroups)
		out.AddColNamed(p.keyNames[k], keyOuts[k])
	}
	aggOuts := make([]*Column, len(p.aggs))
	for a := range p.aggs {
		aggOuts[a] = NewVec(p.aggs[a].outKind, ngroups)
		out.AddColNamed(p.aggs[a].name, aggOuts[a])
	}

	o := p.offsets()
	rowBuf := make([]uint64, p.rowWords())
	at := 0
	for slot := 0; slot < da.slots; slot++ {
		if acc.count[slot] == 0 {
			continue
		}
		for k := range p.keyCols {
			keyVal := da.mins[k] + (int64(slot)/da.strides[k])%da.sizes[k]
			writeColI64(keyOuts[k].data, at, keyOuts[k].Kind(), keyOuts[k].attrs, keyVal)
		}
		// Rebuild a row-layout view so the shared emitter applies the
		// final transforms.
		rowBuf[0] = acc.count[slot]
		for s := 0; s < p.nSum; s++ {
			rowBuf[o.sum+s] = acc.sum[slot*p.nSum+s]
		}
		for s := 0; s < p.nMin; s++ {
			rowBuf[o.min+s] = acc.min[slot*p.nMin+s]
		}
		for s := 0; s < p.nMax; s++ {
			rowBuf[o.max+s] = acc.max[slot*p.nMax+s]
		}
		for s := 0; s < p.nSq; s++ {
			rowBuf[o.sq+s] = acc.sq[slot*p.nSq+s]
		}
		for a := range p.aggs {
			emitAggValue(&p.aggs[a], aggOuts[a], at, rowBuf, o)
		}
		at++
	}
	return out, ErrNone
}
