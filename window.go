package caravel

import "math"

// Window functions: sort by (partition keys, order keys), detect partition
// boundaries in the sorted order, then run a sequential accumulate per
// partition, dispatched in parallel. Results are written back at the
// original row index so the result table stays row-aligned.

// WinOp identifies a window function.
type WinOp uint8

const (
	WinRowNumber WinOp = iota
	WinRank
	WinDenseRank
	WinNTile
	WinCount
	WinSum
	WinAvg
	WinMin
	WinMax
	WinLag
	WinLead
	WinFirstValue
	WinLastValue
	WinNthValue
)

// winOutKind picks the result column type: F64 for AVG always, and for
// value-carrying functions when their input is F64; I64 otherwise.
func winOutKind(op WinOp, in *Column) Kind {
	switch op {
	case WinAvg:
		return KindF64
	case WinSum, WinMin, WinMax, WinLag, WinLead, WinFirstValue, WinLastValue, WinNthValue:
		if in != nil && in.Kind() == KindF64 {
			return KindF64
		}
		return KindI64
	default:
		return KindI64
	}
}

// execWindow evaluates window functions over a table.
func execWindow(t *Table, partKeys, orderKeys []string, funcs []WinFunc, wholeFrame bool) (*Table, ErrKind) {
	n := t.NumRows()

	// Step 1: sort by (partition, order) keys with the shared machinery.
	names := append(append([]string{}, partKeys...), orderKeys...)
	var idx []int64
	if len(names) > 0 {
		spec := resolveSortSpec(t, names, nil, nil)
		if spec == nil {
			return nil, ErrSchema
		}
		var ek ErrKind
		idx, ek = sortedIndices(spec, n, 0)
		spec.release()
		if ek != ErrNone {
			return nil, ek
		}
	} else {
		idx = make([]int64, n)
		for i := range idx {
			idx[i] = int64(i)
		}
	}
	if poolGet().Cancelled() {
		return nil, ErrCancel
	}

	// Step 2: partition boundaries in sorted order. A single partition key
	// gathers into a contiguous packed array and scans sequentially;
	// multiple keys fall back to random-access comparison.
	bounds := partitionBounds(t, partKeys, idx)

	// Step 3: typed result columns, zero-initialized.
	inCols := make([]*Column, len(funcs))
	outs := make([]*Column, len(funcs))
	for f := range funcs {
		if funcs[f].Input != "" {
			c := t.GetColNamed(funcs[f].Input)
			if c == nil {
				return nil, ErrSchema
			}
			if c.isParted() {
				inCols[f] = c.materialize()
			} else {
				inCols[f] = c.Retain()
			}
		}
		outs[f] = NewVec(winOutKind(funcs[f].Op, inCols[f]), n)
	}
	defer func() {
		for _, c := range inCols {
			if c != nil {
				c.Release()
			}
		}
	}()

	// Order-key columns for RANK peer detection.
	var orderCols []*Column
	for _, name := range orderKeys {
		c := t.GetColNamed(name)
		if c == nil {
			return nil, ErrSchema
		}
		if c.isParted() {
			c = c.materialize()
			defer c.Release()
		}
		orderCols = append(orderCols, c)
	}

	// Step 4: per-partition sequential accumulate, partitions in parallel.
	pool := poolGet()
	pool.DispatchN(len(bounds)-1, func(_, part int) {
		lo, hi := bounds[part], bounds[part+1]
		for f := range funcs {
			windowAccum(&funcs[f], inCols[f], outs[f], orderCols, idx, lo, hi, wholeFrame)
		}
	})

	out := NewTable(t.NumCols() + len(funcs))
	for i := 0; i < t.NumCols(); i++ {
		out.AddCol(t.ColName(i), t.Col(i).Retain())
	}
	for f := range funcs {
		out.AddColNamed(funcs[f].Name, outs[f])
	}
	return out, ErrNone
}

// partitionBounds returns sorted-order partition start offsets, terminated
// by n.
func partitionBounds(t *Table, partKeys []string, idx []int64) []int {
	n := len(idx)
	if len(partKeys) == 0 || n == 0 {
		return []int{0, n}
	}
	bounds := []int{0}

	if len(partKeys) == 1 {
		c := t.GetColNamed(partKeys[0])
		if c.isParted() {
			c = c.materialize()
			defer c.Release()
		}
		// Contiguous packed keys: gather once, then a sequential scan with
		// no random access.
		packed := make([]uint64, n)
		for i, j := range idx {
			packed[i] = keyBits(c, int(j))
		}
		for i := 1; i < n; i++ {
			if packed[i] != packed[i-1] {
				bounds = append(bounds, i)
			}
		}
		bounds = append(bounds, n)
		return bounds
	}

	cols := make([]*Column, len(partKeys))
	for i, name := range partKeys {
		c := t.GetColNamed(name)
		if c.isParted() {
			c = c.materialize()
			defer c.Release()
		}
		cols[i] = c
	}
	for i := 1; i < n; i++ {
		if keysDiffer(cols, int(idx[i]), int(idx[i-1])) {
			bounds = append(bounds, i)
		}
	}
	bounds = append(bounds, n)
	return bounds
}

func keysDiffer(cols []*Column, a, b int) bool {
	for _, c := range cols {
		if c.Kind() == KindF64 {
			x, y := c.F64At(a), c.F64At(b)
			if x != y && !(math.IsNaN(x) && math.IsNaN(y)) {
				return true
			}
		} else if c.I64At(a) != c.I64At(b) {
			return true
		}
	}
	return false
}

// winStore writes one result at the original row index.
func winStore(out *Column, origRow int, f float64, i int64) {
	if out.Kind() == KindF64 {
		out.F64s()[origRow] = f
	} else {
		out.I64s()[origRow] = i
	}
}

// windowAccum runs one function over one partition [lo, hi) of the sorted
// order.
func windowAccum(fn *WinFunc, in, out *Column, orderCols []*Column, idx []int64, lo, hi int, wholeFrame bool) {
	count := hi - lo
	switch fn.Op {
	case WinRowNumber:
		for i := lo; i < hi; i++ {
			out.I64s()[idx[i]] = int64(i - lo + 1)
		}

	case WinRank, WinDenseRank:
		rank := int64(1)
		dense := int64(1)
		for i := lo; i < hi; i++ {
			if i > lo && keysDiffer(orderCols, int(idx[i]), int(idx[i-1])) {
				rank = int64(i - lo + 1)
				dense++
			}
			if fn.Op == WinRank {
				out.I64s()[idx[i]] = rank
			} else {
				out.I64s()[idx[i]] = dense
			}
		}

	case WinNTile:
		tiles := fn.Param
		if tiles <= 0 {
			tiles = 1
		}
		base := int64(count) / tiles
		rem := int64(count) % tiles
		at := int64(0)
		for tile := int64(1); tile <= tiles && at < int64(count); tile++ {
			size := base
			if tile <= rem {
				size++
			}
			for k := int64(0); k < size; k++ {
				out.I64s()[idx[lo+int(at)]] = tile
				at++
			}
		}

	case WinCount:
		if wholeFrame {
			for i := lo; i < hi; i++ {
				out.I64s()[idx[i]] = int64(count)
			}
		} else {
			for i := lo; i < hi; i++ {
				out.I64s()[idx[i]] = int64(i - lo + 1)
			}
		}

	case WinSum, WinAvg, WinMin, WinMax:
		windowAggregate(fn, in, out, idx, lo, hi, wholeFrame)

	case WinLag, WinLead:
		off := int(fn.Param)
		if off == 0 {
			off = 1
		}
		if fn.Op == WinLead {
			off = -off
		}
		for i := lo; i < hi; i++ {
			src := i - off
			if src < lo || src >= hi {
				winStore(out, int(idx[i]), math.NaN(), 0)
				continue
			}
			if out.Kind() == KindF64 {
				winStore(out, int(idx[i]), in.F64At(int(idx[src])), 0)
			} else {
				winStore(out, int(idx[i]), 0, in.I64At(int(idx[src])))
			}
		}

	case WinFirstValue, WinLastValue, WinNthValue:
		for i := lo; i < hi; i++ {
			var src int
			switch fn.Op {
			case WinFirstValue:
				src = lo
			case WinLastValue:
				if wholeFrame {
					src = hi - 1
				} else {
					src = i
				}
			default:
				nth := int(fn.Param)
				if nth <= 0 {
					nth = 1
				}
				src = lo + nth - 1
				if src >= hi {
					winStore(out, int(idx[i]), math.NaN(), 0)
					continue
				}
			}
			if out.Kind() == KindF64 {
				winStore(out, int(idx[i]), in.F64At(int(idx[src])), 0)
			} else {
				winStore(out, int(idx[i]), 0, in.I64At(int(idx[src])))
			}
		}
	}
}

// windowAggregate handles SUM/AVG/MIN/MAX over the whole partition or the
// running prefix.
func windowAggregate(fn *WinFunc, in, out *Column, idx []int64, lo, hi int, wholeFrame bool) {
	isF := out.Kind() == KindF64
	if wholeFrame {
		var sumF, minF, maxF float64
		var sumI, minI, maxI int64
		minF, maxF = math.Inf(1), math.Inf(-1)
		minI, maxI = math.MaxInt64, math.MinInt64
		for i := lo; i < hi; i++ {
			if isF || fn.Op == WinAvg {
				v := in.F64At(int(idx[i]))
				sumF += v
				if v < minF {
					minF = v
				}
				if v > maxF {
					maxF = v
				}
			}
			if !isF {
				v := in.I64At(int(idx[i]))
				sumI += v
				if v < minI {
					minI = v
				}
				if v > maxI {
					maxI = v
				}
			}
		}
		count := float64(hi - lo)
		for i := lo; i < hi; i++ {
			switch fn.Op {
			case WinSum:
				winStore(out, int(idx[i]), sumF, sumI)
			case WinAvg:
				winStore(out, int(idx[i]), sumF/count, 0)
			case WinMin:
				winStore(out, int(idx[i]), minF, minI)
			case WinMax:
				winStore(out, int(idx[i]), maxF, maxI)
			}
		}
		return
	}

	// Running prefix: UNBOUNDED PRECEDING to CURRENT ROW.
	var sumF, minF, maxF float64
	var sumI, minI, maxI int64
	minF, maxF = math.Inf(1), math.Inf(-1)
	minI, maxI = math.MaxInt64, math.MinInt64
	for i := lo; i < hi; i++ {
		if isF || fn.Op == WinAvg {
			v := in.F64At(int(idx[i]))
			sumF += v
			if v < minF {
				minF = v
			}
			if v > maxF {
				maxF = v
			}
		}
		if !isF {
			v := in.I64At(int(idx[i]))
			sumI += v
			if v < minI {
				minI = v
			}
			if v > maxI {
				maxI = v
			}
		}
		switch fn.Op {
		case WinSum:
			winStore(out, int(idx[i]), sumF, sumI)
		case WinAvg:
			winStore(out, int(idx[i]), sumF/float64(i-lo+1), 0)
		case WinMin:
			winStore(out, int(idx[i]), minF, minI)
		case WinMax:
			winStore(out, int(idx[i]), maxF, maxI)
		}
	}
}
