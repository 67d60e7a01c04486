package caravel

// Filter paths. A boolean predicate over a table does not execute eagerly:
// the executor AND-merges a SEL into the graph's selection slot and passes
// the table through. Vector inputs and the fused HEAD(FILTER) shape
// materialize here.

// execFilterVec compacts a vector by a boolean predicate of equal length.
func execFilterVec(in *Column, pred *Column) *Column {
	if in.Len() != pred.Len() {
		return errVal(ErrLength)
	}
	src := in
	if in.isParted() {
		src = in.materialize()
		defer src.Release()
	}
	pd := pred.Bools()
	idx := make([]int64, 0, len(pd))
	for i, v := range pd {
		if v != 0 {
			idx = append(idx, int64(i))
		}
	}
	return gatherCol(src, idx, false)
}

// execFilterTable is the eager path: compact every column by the predicate.
func execFilterTable(t *Table, pred *Column) *Table {
	if t.NumRows() != pred.Len() {
		return nil
	}
	sel := selFromPred(pred)
	return selCompact(t, sel)
}

// execFilterHead is the fused HEAD(FILTER) path: scan the predicate
// collecting match indices, stop at n, then gather.
func execFilterHead(t *Table, pred *Column, n int64) *Table {
	if int64(t.NumRows()) != int64(pred.Len()) {
		return nil
	}
	pd := pred.Bools()
	idx := make([]int64, 0, n)
	for i, v := range pd {
		if int64(len(idx)) >= n {
			break
		}
		if v != 0 {
			idx = append(idx, int64(i))
		}
	}
	return gatherTable(t, idx, false)
}
