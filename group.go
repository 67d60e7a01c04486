package caravel

import "math"

// Group-by routing. Four strategies share the agg layout below:
//
//   scalar      n_keys == 0, per-worker accumulators       (reduce.go)
//   direct      dense slot array over low-cardinality
//               integer keys                               (group_direct.go)
//   radix hash  fat-entry partition + per-partition
//               row-layout hash table                      (group_hash.go)
//   parted      per-partition decompose + merge            (group_parted.go)

const (
	groupMaxKeys = 8
	groupMaxAggs = 8
	// Decomposed partition plans append SUM(x*x) and COUNT slots past the
	// user-facing limit; the internal cap bounds those.
	groupMaxSlots = 3 * groupMaxAggs
)

// aggRt is the runtime shape of one aggregate: which accumulator block
// slots it owns and whether its values are doubles.
type aggRt struct {
	op      Opcode
	isF64   bool
	valIdx  int // index into the fat entry's agg values, -1 for COUNT
	sumSlot int // -1 when the block is unused
	minSlot int
	maxSlot int
	sqSlot  int
	name    string
	outKind Kind
}

// groupPlan carries the evaluated inputs of one grouping.
type groupPlan struct {
	keyNames []string
	keyCols  []*Column
	aggs     []aggRt
	aggCols  []*Column // indexed by valIdx; nil-free
	n        int

	nVals  int // fat-entry agg value count
	nSum   int
	nMin   int
	nMax   int
	nSq    int
	allSum bool // every op is SUM/AVG/COUNT: no per-row op dispatch
}

// rowWords is the group-row size: count + inline keys + accumulator blocks.
func (p *groupPlan) rowWords() int {
	return 1 + len(p.keyCols) + p.nSum + p.nMin + p.nMax + p.nSq
}

// entryWords is the fat-entry size: hash + inline keys + agg values.
func (p *groupPlan) entryWords() int {
	return 1 + len(p.keyCols) + p.nVals
}

// buildGroupPlan lays out accumulator blocks for the requested aggregates.
func buildGroupPlan(keyNames []string, keyCols []*Column, specs []AggSpec, aggInputs []*Column) (*groupPlan, ErrKind) {
	if len(keyCols) > groupMaxKeys || len(specs) > groupMaxSlots {
		return nil, ErrNYI
	}
	p := &groupPlan{keyNames: keyNames, keyCols: keyCols, allSum: true}
	if len(keyCols) > 0 {
		p.n = keyCols[0].Len()
	} else if len(aggInputs) > 0 && aggInputs[0] != nil {
		p.n = aggInputs[0].Len()
	}
	for i, spec := range specs {
		rt := aggRt{op: spec.Op, valIdx: -1, sumSlot: -1, minSlot: -1, maxSlot: -1, sqSlot: -1, name: spec.Name}
		in := aggInputs[i]
		if spec.Op != OpCount {
			if in == nil {
				return nil, ErrSchema
			}
			kind := in.Kind()
			if in.isParted() {
				kind = in.partedBase()
			}
			if !kind.IsNumeric() && kind != KindSym {
				return nil, ErrNYI
			}
			rt.isF64 = kind == KindF64
			rt.valIdx = len(p.aggCols)
			p.aggCols = append(p.aggCols, in)
			p.nVals++
		}
		switch spec.Op {
		case OpSum, OpAvg, OpFirst, OpLast:
			rt.sumSlot = p.nSum
			p.nSum++
		case OpMin:
			rt.minSlot = p.nMin
			p.nMin++
		case OpMax:
			rt.maxSlot = p.nMax
			p.nMax++
		case OpStddev, OpStddevPop, OpVar, OpVarPop:
			rt.sumSlot = p.nSum
			p.nSum++
			rt.sqSlot = p.nSq
			p.nSq++
		case OpCount:
		default:
			return nil, ErrNYI
		}
		switch spec.Op {
		case OpSum, OpAvg, OpCount:
		default:
			p.allSum = false
		}
		switch spec.Op {
		case OpCount:
			rt.outKind = KindI64
		case OpAvg, OpStddev, OpStddevPop, OpVar, OpVarPop:
			rt.outKind = KindF64
		default:
			if rt.isF64 {
				rt.outKind = KindF64
			} else {
				rt.outKind = KindI64
			}
		}
		p.aggs = append(p.aggs, rt)
	}
	return p, ErrNone
}

// keyBits reads a key value as raw u64 bits: float bits for F64 keys,
// sign-extended integer bits otherwise.
func keyBits(c *Column, row int) uint64 {
	if c.Kind() == KindF64 {
		return math.Float64bits(c.F64At(row))
	}
	return uint64(c.I64At(row))
}

// aggValBits reads one agg input value as u64 bits in its computational
// domain.
func aggValBits(c *Column, row int) uint64 {
	if c.Kind() == KindF64 {
		return math.Float64bits(c.F64s()[row])
	}
	return uint64(c.I64At(row))
}

// ============================================================================
// Group-row accumulation
// ============================================================================

// rowOffsets locates the accumulator blocks inside a group row.
type rowOffsets struct {
	keys int
	sum  int
	min  int
	max  int
	sq   int
}

func (p *groupPlan) offsets() rowOffsets {
	o := rowOffsets{keys: 1}
	o.sum = o.keys + len(p.keyCols)
	o.min = o.sum + p.nSum
	o.max = o.min + p.nMin
	o.sq = o.max + p.nMax
	return o
}

// initRow loads a fresh group row from a fat entry's keys and agg values.
func (p *groupPlan) initRow(row []uint64, o rowOffsets, keys []uint64, vals []uint64) {
	row[0] = 1
	copy(row[o.keys:o.keys+len(p.keyCols)], keys)
	for a := range p.aggs {
		rt := &p.aggs[a]
		if rt.valIdx < 0 {
			continue
		}
		v := vals[rt.valIdx]
		if rt.sumSlot >= 0 {
			row[o.sum+rt.sumSlot] = v
		}
		if rt.minSlot >= 0 {
			row[o.min+rt.minSlot] = v
		}
		if rt.maxSlot >= 0 {
			row[o.max+rt.maxSlot] = v
		}
		if rt.sqSlot >= 0 {
			f := bitsToF64(v, rt.isF64)
			row[o.sq+rt.sqSlot] = math.Float64bits(f * f)
		}
	}
}

// updateRow folds one fat entry's agg values into an existing group row.
func (p *groupPlan) updateRow(row []uint64, o rowOffsets, vals []uint64) {
	row[0]++
	for a := range p.aggs {
		rt := &p.aggs[a]
		if rt.valIdx < 0 {
			continue
		}
		v := vals[rt.valIdx]
		switch rt.op {
		case OpSum, OpAvg:
			row[o.sum+rt.sumSlot] = addBits(row[o.sum+rt.sumSlot], v, rt.isF64)
		case OpFirst:
			// value fixed at insert
		case OpLast:
			row[o.sum+rt.sumSlot] = v
		case OpMin:
			if lessBits(v, row[o.min+rt.minSlot], rt.isF64) {
				row[o.min+rt.minSlot] = v
			}
		case OpMax:
			if lessBits(row[o.max+rt.maxSlot], v, rt.isF64) {
				row[o.max+rt.maxSlot] = v
			}
		case OpStddev, OpStddevPop, OpVar, OpVarPop:
			row[o.sum+rt.sumSlot] = addBits(row[o.sum+rt.sumSlot], v, rt.isF64)
			f := bitsToF64(v, rt.isF64)
			sq := math.Float64frombits(row[o.sq+rt.sqSlot]) + f*f
			row[o.sq+rt.sqSlot] = math.Float64bits(sq)
		}
	}
}

// mergeRows folds group row b into a; b covers later input rows.
func (p *groupPlan) mergeRows(a, b []uint64, o rowOffsets) {
	if b[0] == 0 {
		return
	}
	empty := a[0] == 0
	a[0] += b[0]
	for ag := range p.aggs {
		rt := &p.aggs[ag]
		if rt.valIdx < 0 {
			continue
		}
		switch rt.op {
		case OpSum, OpAvg:
			a[o.sum+rt.sumSlot] = addBits(a[o.sum+rt.sumSlot], b[o.sum+rt.sumSlot], rt.isF64)
		case OpFirst:
			if empty {
				a[o.sum+rt.sumSlot] = b[o.sum+rt.sumSlot]
			}
		case OpLast:
			a[o.sum+rt.sumSlot] = b[o.sum+rt.sumSlot]
		case OpMin:
			if empty || lessBits(b[o.min+rt.minSlot], a[o.min+rt.minSlot], rt.isF64) {
				a[o.min+rt.minSlot] = b[o.min+rt.minSlot]
			}
		case OpMax:
			if empty || lessBits(a[o.max+rt.maxSlot], b[o.max+rt.maxSlot], rt.isF64) {
				a[o.max+rt.maxSlot] = b[o.max+rt.maxSlot]
			}
		case OpStddev, OpStddevPop, OpVar, OpVarPop:
			a[o.sum+rt.sumSlot] = addBits(a[o.sum+rt.sumSlot], b[o.sum+rt.sumSlot], rt.isF64)
			sq := math.Float64frombits(a[o.sq+rt.sqSlot]) + math.Float64frombits(b[o.sq+rt.sqSlot])
			a[o.sq+rt.sqSlot] = math.Float64bits(sq)
		}
	}
	if empty {
		copy(a[o.keys:o.keys+len(p.keyCols)], b[o.keys:o.keys+len(p.keyCols)])
	}
}

func bitsToF64(v uint64, isF64 bool) float64 {
	if isF64 {
		return math.Float64frombits(v)
	}
	return float64(int64(v))
}

func addBits(a, b uint64, isF64 bool) uint64 {
	if isF64 {
		return math.Float64bits(math.Float64frombits(a) + math.Float64frombits(b))
	}
	return uint64(int64(a) + int64(b))
}

func lessBits(a, b uint64, isF64 bool) bool {
	if isF64 {
		return math.Float64frombits(a) < math.Float64frombits(b)
	}
	return int64(a) < int64(b)
}

// ============================================================================
// Output emission
// ============================================================================

// newKeyOut allocates an output key column matching the input key's type.
func newKeyOut(src *Column, n int) *Column {
	if src.Kind() == KindSym {
		return NewSymVec(src.attrs, n)
	}
	k := src.Kind()
	if k == KindParted || k == KindMapCommon {
		k = src.partedBase()
	}
	return NewVec(k, n)
}

// writeKeyBits stores a raw key image into an output key column.
func writeKeyBits(dst *Column, row int, bits uint64) {
	if dst.Kind() == KindF64 {
		dst.F64s()[row] = math.Float64frombits(bits)
		return
	}
	writeColI64(dst.data, row, dst.Kind(), dst.attrs, int64(bits))
}

// emitAggValue finalizes one aggregate from a group row into its output
// column: straight copy for SUM/MIN/MAX/FIRST/LAST, sum/count for AVG,
// sum and sum-of-squares for the variance family.
func emitAggValue(rt *aggRt, dst *Column, at int, row []uint64, o rowOffsets) {
	count := int64(row[0])
	switch rt.op {
	case OpCount:
		dst.I64s()[at] = count
	case OpSum, OpFirst, OpLast:
		v := row[o.sum+rt.sumSlot]
		if rt.isF64 {
			dst.F64s()[at] = math.Float64frombits(v)
		} else {
			dst.I64s()[at] = int64(v)
		}
	case OpAvg:
		sum := bitsToF64(row[o.sum+rt.sumSlot], rt.isF64)
		dst.F64s()[at] = sum / float64(count)
	case OpMin:
		v := row[o.min+rt.minSlot]
		if rt.isF64 {
			dst.F64s()[at] = math.Float64frombits(v)
		} else {
			dst.I64s()[at] = int64(v)
		}
	case OpMax:
		v := row[o.max+rt.maxSlot]
		if rt.isF64 {
			dst.F64s()[at] = math.Float64frombits(v)
		} else {
			dst.I64s()[at] = int64(v)
		}
	case OpStddev, OpStddevPop, OpVar, OpVarPop:
		sum := bitsToF64(row[o.sum+rt.sumSlot], rt.isF64)
		sq := math.Float64frombits(row[o.sq+rt.sqSlot])
		v := varianceOf(sum, sq, count, rt.op == OpStddev || rt.op == OpVar)
		if rt.op == OpStddev || rt.op == OpStddevPop {
			v = math.Sqrt(v)
		}
		dst.F64s()[at] = v
	}
}

// emptyGroupResult returns a zero-row result with the declared schema.
func (p *groupPlan) emptyGroupResult() *Table {
	out := NewTable(len(p.keyCols) + len(p.aggs))
	for k, name := range p.keyNames {
		out.AddColNamed(name, newKeyOut(p.keyCols[k], 0))
	}
	for a := range p.aggs {
		out.AddColNamed(p.aggs[a].name, NewVec(p.aggs[a].outKind, 0))
	}
	return out
}

// execGroupPlan routes a grouping to a strategy.
func execGroupPlan(p *groupPlan, sel *Sel) (*Table, ErrKind) {
	if poolGet().Cancelled() {
		return nil, ErrCancel
	}
	if p.n == 0 {
		return p.emptyGroupResult(), ErrNone
	}
	if da := planDirectArray(p, sel); da != nil {
		return execGroupDirect(p, da, sel)
	}
	if poolGet().shouldParallelize(p.n) {
		return execGroupHash(p, sel)
	}
	return execGroupHashSeq(p, sel)
}
