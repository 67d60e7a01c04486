package caravel

import (
	"fmt"
	"math"
)

// Per-partition decomposed group-by. Each partition aggregates on its own
// (zero-copy segment references), partials concatenate with the running
// result, and a merge grouping folds them. AVG and the variance family
// decompose into (SUM, SUM(x*x), COUNT) and reconstruct after the final
// merge.

// execGroupParted routes a grouping whose inputs carry segmented columns.
// groupLimit > 0 truncates the partition loop when every key is
// map-common (the HEAD(GROUP) fusion).
func execGroupParted(p *groupPlan, groupLimit int) (*Table, ErrKind) {
	all := make([]*Column, 0, len(p.keyCols)+len(p.aggCols))
	all = append(all, p.keyCols...)
	all = append(all, p.aggCols...)
	shape := partedShape(all)
	if shape == nil || len(shape.counts) == 0 {
		return execGroupConcat(p)
	}

	if !partedDecomposable(p.aggs) {
		return execGroupConcat(p)
	}
	est := estimatePartedGroups(p.keyCols, shape)
	if len(p.keyCols) > 0 && est*len(p.keyCols) >= shape.counts[0]/partedCardinalityDiv {
		return execGroupConcat(p)
	}

	dec := decomposeAggs(p.aggs)
	allMapCommon := len(p.keyCols) > 0
	for _, k := range p.keyCols {
		if k.Kind() != KindMapCommon {
			allMapCommon = false
		}
	}

	var running *Table
	nparts := len(shape.counts)
	for batchStart := 0; batchStart < nparts; batchStart += partedBatch {
		if poolGet().Cancelled() {
			if running != nil {
				running.Release()
			}
			return nil, ErrCancel
		}
		batchEnd := batchStart + partedBatch
		if batchEnd > nparts {
			batchEnd = nparts
		}

		partials := make([]*Table, 0, partedBatch)
		for part := batchStart; part < batchEnd; part++ {
			if shape.counts[part] == 0 {
				continue
			}
			partial, ek := groupOnePartition(p, dec, shape, part)
			if ek != ErrNone {
				for _, t := range partials {
					t.Release()
				}
				if running != nil {
					running.Release()
				}
				return nil, ek
			}
			partials = append(partials, partial)
		}

		for _, partial := range partials {
			if running == nil {
				running = partial
				continue
			}
			merged := concatTables(running, partial)
			running.Release()
			partial.Release()
			running = merged
		}
		if running != nil && len(partials) > 0 {
			merged, ek := mergePartials(p, dec, running)
			running.Release()
			if ek != ErrNone {
				return nil, ek
			}
			running = merged
		}

		if groupLimit > 0 && allMapCommon && running != nil && running.NumRows() >= groupLimit {
			break
		}
	}

	if running == nil {
		return p.emptyGroupResult(), ErrNone
	}
	out := reconstructParted(p, dec, running, groupLimit)
	running.Release()
	return out, ErrNone
}

// partialName is the ephemeral column name of one partial slot.
func partialName(slot int) string { return fmt.Sprintf("__g%d", slot) }

// groupOnePartition aggregates one partition with the decomposed ops.
func groupOnePartition(p *groupPlan, dec []decomposedAgg, shape *partitionShape, part int) (*Table, ErrKind) {
	nk := len(p.keyCols)
	subKeys := make([]*Column, nk)
	for k := range p.keyCols {
		subKeys[k] = partitionOf(p.keyCols[k], shape, part)
	}
	release := append([]*Column{}, subKeys...)
	defer func() {
		for _, c := range release {
			c.Release()
		}
	}()

	specs := make([]AggSpec, 0, len(dec)*3)
	inputs := make([]*Column, 0, len(dec)*3)
	addSlot := func(op Opcode, in *Column, slot int) {
		specs = append(specs, AggSpec{Op: op, Name: partialName(slot)})
		inputs = append(inputs, in)
	}
	for i := range dec {
		d := &dec[i]
		var in *Column
		if d.user.valIdx >= 0 {
			in = partitionOf(p.aggCols[d.user.valIdx], shape, part)
			release = append(release, in)
		}
		addSlot(d.partOp, in, d.partSlot)
	}
	for i := range dec {
		d := &dec[i]
		if d.sqSlot < 0 {
			continue
		}
		seg := partitionOf(p.aggCols[d.user.valIdx], shape, part)
		sq := execElementwiseBinary(OpMul, seg, seg)
		seg.Release()
		if isErr(sq) {
			return nil, ErrOf(sq)
		}
		release = append(release, sq)
		addSlot(OpSum, sq, d.sqSlot)
	}
	for i := range dec {
		addSlot(OpCount, nil, dec[i].cntSlot)
	}

	sub, ek := buildGroupPlan(p.keyNames, subKeys, specs, inputs)
	if ek != ErrNone {
		return nil, ek
	}
	return execGroupPlan(sub, nil)
}

// mergePartials re-groups the concatenated partials with the merge ops.
func mergePartials(p *groupPlan, dec []decomposedAgg, concat *Table) (*Table, ErrKind) {
	nk := len(p.keyCols)
	keys := make([]*Column, nk)
	for k := 0; k < nk; k++ {
		keys[k] = concat.Col(k)
	}

	nslots := concat.NumCols() - nk
	specs := make([]AggSpec, 0, nslots)
	inputs := make([]*Column, 0, nslots)
	mergeOpOf := func(slot int) Opcode {
		for i := range dec {
			if dec[i].partSlot == slot {
				return dec[i].mergeOp
			}
			if dec[i].sqSlot == slot || dec[i].cntSlot == slot {
				return OpSum
			}
		}
		return OpSum
	}
	for slot := 0; slot < nslots; slot++ {
		specs = append(specs, AggSpec{Op: mergeOpOf(slot), Name: partialName(slot)})
		inputs = append(inputs, concat.Col(nk+slot))
	}

	sub, ek := buildGroupPlan(p.keyNames, keys, specs, inputs)
	if ek != ErrNone {
		return nil, ek
	}
	return execGroupPlan(sub, nil)
}

// reconstructParted rebuilds the user-facing aggregates from the merged
// partials and trims the ephemeral columns.
func reconstructParted(p *groupPlan, dec []decomposedAgg, merged *Table, groupLimit int) *Table {
	nk := len(p.keyCols)
	n := merged.NumRows()
	if groupLimit > 0 && groupLimit < n {
		n = groupLimit
	}
	out := NewTable(nk + len(dec))
	for k := 0; k < nk; k++ {
		src := merged.Col(k)
		if n == src.Len() {
			out.AddColNamed(p.keyNames[k], src.Retain())
		} else {
			out.AddColNamed(p.keyNames[k], colView(src, 0, n).materialize())
		}
	}
	for i := range dec {
		d := &dec[i]
		main := merged.GetColNamed(partialName(d.partSlot))
		cnt := merged.GetColNamed(partialName(d.cntSlot))
		switch d.user.op {
		case OpAvg:
			col := NewVec(KindF64, n)
			dst := col.F64s()
			for r := 0; r < n; r++ {
				dst[r] = main.F64At(r) / cnt.F64At(r)
			}
			out.AddColNamed(d.user.name, col)
		case OpStddev, OpStddevPop, OpVar, OpVarPop:
			sq := merged.GetColNamed(partialName(d.sqSlot))
			col := NewVec(KindF64, n)
			dst := col.F64s()
			sample := d.user.op == OpStddev || d.user.op == OpVar
			for r := 0; r < n; r++ {
				v := varianceOf(main.F64At(r), sq.F64At(r), cnt.I64At(r), sample)
				if d.user.op == OpStddev || d.user.op == OpStddevPop {
					v = math.Sqrt(v)
				}
				dst[r] = v
			}
			out.AddColNamed(d.user.name, col)
		default:
			if n == main.Len() {
				out.AddColNamed(d.user.name, main.Retain())
			} else {
				out.AddColNamed(d.user.name, colView(main, 0, n).materialize())
			}
		}
	}
	return out
}

// execGroupConcat is the rejection path: flatten only the needed columns,
// then run the standard grouping.
func execGroupConcat(p *groupPlan) (*Table, ErrKind) {
	keys := make([]*Column, len(p.keyCols))
	for i, c := range p.keyCols {
		keys[i] = c.materialize()
	}
	inputs := make([]*Column, len(p.aggCols))
	for i, c := range p.aggCols {
		inputs[i] = c.materialize()
	}
	defer func() {
		for _, c := range keys {
			c.Release()
		}
		for _, c := range inputs {
			c.Release()
		}
	}()
	specs := make([]AggSpec, len(p.aggs))
	ins := make([]*Column, len(p.aggs))
	for i := range p.aggs {
		specs[i] = AggSpec{Op: p.aggs[i].op, Name: p.aggs[i].name}
		if p.aggs[i].valIdx >= 0 {
			ins[i] = inputs[p.aggs[i].valIdx]
		}
	}
	flat, ek := buildGroupPlan(p.keyNames, keys, specs, ins)
	if ek != ErrNone {
		return nil, ek
	}
	return execGroupPlan(flat, nil)
}
