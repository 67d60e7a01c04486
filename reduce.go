package caravel

import "math"

// Full-column reductions. Each worker accumulates over its contiguous row
// range, then ranges merge in worker order — FIRST takes the lowest worker
// holding data and LAST the highest, which the pool's monotonic range
// mapping guarantees. Variance uses sum and sum-of-squares with the Bessel
// correction for the sample forms.

type reduceAcc struct {
	sumF   float64
	sumI   int64
	sumSq  float64
	prodF  float64
	prodI  int64
	minF   float64
	maxF   float64
	minI   int64
	maxI   int64
	first  float64
	last   float64
	firstI int64
	lastI  int64
	count  int64
}

func newReduceAcc() reduceAcc {
	return reduceAcc{
		prodF: 1, prodI: 1,
		minF: math.Inf(1), maxF: math.Inf(-1),
		minI: math.MaxInt64, maxI: math.MinInt64,
	}
}

// accumF64 folds one float value.
func (a *reduceAcc) accumF64(v float64) {
	if a.count == 0 {
		a.first = v
	}
	a.last = v
	a.count++
	a.sumF += v
	a.sumSq += v * v
	a.prodF *= v
	if v < a.minF {
		a.minF = v
	}
	if v > a.maxF {
		a.maxF = v
	}
}

// accumI64 folds one integer value.
func (a *reduceAcc) accumI64(v int64) {
	if a.count == 0 {
		a.firstI = v
	}
	a.lastI = v
	a.count++
	a.sumI += v
	f := float64(v)
	a.sumF += f
	a.sumSq += f * f
	a.prodI = int64(uint64(a.prodI) * uint64(v))
	if v < a.minI {
		a.minI = v
	}
	if v > a.maxI {
		a.maxI = v
	}
}

// merge folds b (a later row range) into a.
func (a *reduceAcc) merge(b *reduceAcc) {
	if b.count == 0 {
		return
	}
	if a.count == 0 {
		a.first, a.firstI = b.first, b.firstI
	}
	a.last, a.lastI = b.last, b.lastI
	a.count += b.count
	a.sumF += b.sumF
	a.sumI += b.sumI
	a.sumSq += b.sumSq
	a.prodF *= b.prodF
	a.prodI = int64(uint64(a.prodI) * uint64(b.prodI))
	if b.minF < a.minF {
		a.minF = b.minF
	}
	if b.maxF > a.maxF {
		a.maxF = b.maxF
	}
	if b.minI < a.minI {
		a.minI = b.minI
	}
	if b.maxI > a.maxI {
		a.maxI = b.maxI
	}
}

// reduceRange accumulates rows [start, end) of a column under an optional
// selection, doing segment-level skip on the SEL flags.
func reduceRange(in *Column, sel *Sel, isF64 bool, start, end int, acc *reduceAcc) {
	if sel == nil {
		if isF64 {
			src := in.F64s()
			for i := start; i < end; i++ {
				acc.accumF64(src[i])
			}
		} else {
			for i := start; i < end; i++ {
				acc.accumI64(in.I64At(i))
			}
		}
		return
	}
	row := start
	for row < end {
		seg := row / morselElems
		segEnd := (seg + 1) * morselElems
		if segEnd > end {
			segEnd = end
		}
		switch sel.segs[seg] {
		case segNone:
			row = segEnd
		case segAll:
			if isF64 {
				src := in.F64s()
				for ; row < segEnd; row++ {
					acc.accumF64(src[row])
				}
			} else {
				for ; row < segEnd; row++ {
					acc.accumI64(in.I64At(row))
				}
			}
		default:
			if isF64 {
				src := in.F64s()
				for ; row < segEnd; row++ {
					if selBitTest(sel.bits, row) {
						acc.accumF64(src[row])
					}
				}
			} else {
				for ; row < segEnd; row++ {
					if selBitTest(sel.bits, row) {
						acc.accumI64(in.I64At(row))
					}
				}
			}
		}
	}
}

// execReduce evaluates a reduction over a vector and returns the atom.
func execReduce(code Opcode, in *Column, sel *Sel) *Column {
	if isErr(in) {
		return in
	}
	if in.isParted() {
		flat := in.materialize()
		out := execReduce(code, flat, sel)
		flat.Release()
		return out
	}
	if !in.Kind().IsNumeric() && in.Kind() != KindSym {
		if code == OpCount {
			return I64Atom(int64(in.Len()))
		}
		return errVal(ErrNYI)
	}
	n := in.Len()
	isF64 := in.Kind() == KindF64

	pool := poolGet()
	nw := pool.TotalWorkers()
	accs := make([]reduceAcc, nw)
	for i := range accs {
		accs[i] = newReduceAcc()
	}
	pool.Dispatch(n, func(w, start, end int) {
		reduceRange(in, sel, isF64, start, end, &accs[w])
	})

	total := newReduceAcc()
	for w := range accs {
		total.merge(&accs[w])
	}
	return reduceFinish(code, &total, isF64)
}

// reduceFinish turns the merged accumulator into the result atom.
func reduceFinish(code Opcode, a *reduceAcc, isF64 bool) *Column {
	switch code {
	case OpCount:
		return I64Atom(a.count)
	case OpSum:
		if a.count == 0 {
			if isF64 {
				return F64Atom(0)
			}
			return I64Atom(0)
		}
		if isF64 {
			return F64Atom(a.sumF)
		}
		return I64Atom(a.sumI)
	case OpProd:
		if a.count == 0 {
			if isF64 {
				return F64Atom(1)
			}
			return I64Atom(1)
		}
		if isF64 {
			return F64Atom(a.prodF)
		}
		return I64Atom(a.prodI)
	case OpMin:
		if a.count == 0 {
			if isF64 {
				return F64Atom(0)
			}
			return I64Atom(0)
		}
		if isF64 {
			return F64Atom(a.minF)
		}
		return I64Atom(a.minI)
	case OpMax:
		if a.count == 0 {
			if isF64 {
				return F64Atom(0)
			}
			return I64Atom(0)
		}
		if isF64 {
			return F64Atom(a.maxF)
		}
		return I64Atom(a.maxI)
	case OpAvg:
		if a.count == 0 {
			return F64Atom(math.NaN())
		}
		return F64Atom(a.sumF / float64(a.count))
	case OpFirst:
		if a.count == 0 {
			if isF64 {
				return F64Atom(math.NaN())
			}
			return I64Atom(0)
		}
		if isF64 {
			return F64Atom(a.first)
		}
		return I64Atom(a.firstI)
	case OpLast:
		if a.count == 0 {
			if isF64 {
				return F64Atom(math.NaN())
			}
			return I64Atom(0)
		}
		if isF64 {
			return F64Atom(a.last)
		}
		return I64Atom(a.lastI)
	case OpVar, OpStddev, OpVarPop, OpStddevPop:
		v := varianceOf(a.sumF, a.sumSq, a.count, code == OpVar || code == OpStddev)
		if code == OpStddev || code == OpStddevPop {
			return F64Atom(math.Sqrt(v))
		}
		return F64Atom(v)
	default:
		return errVal(ErrNYI)
	}
}

// varianceOf computes variance from sum and sum-of-squares, with the
// Bessel correction when sample is true. Fewer rows than the correction
// needs yields NaN.
func varianceOf(sum, sumSq float64, n int64, sample bool) float64 {
	if n == 0 || (sample && n < 2) {
		return math.NaN()
	}
	nf := float64(n)
	mean := sum / nf
	pop := sumSq/nf - mean*mean
	if pop < 0 {
		pop = 0 // rounding can push a zero variance negative
	}
	if !sample {
		return pop
	}
	return pop * nf / (nf - 1)
}

// ============================================================================
// Linear integer expression detection
// ============================================================================

// linTerm is one c*scan term of a recognized linear integer expression.
type linTerm struct {
	col  *Column
	coef int64
}

const linMaxTerms = 8

// parseLinearExpr tries to decompose an expression tree into
// sum(c_i * scan_i) + bias over integer columns, which lets SUM and AVG
// aggregate the base scans and fold coefficients in at emit time.
func parseLinearExpr(g *Graph, op *Op) ([]linTerm, int64, bool) {
	var terms []linTerm
	bias := int64(0)
	ok := parseLinear(g, op, 1, &terms, &bias)
	if !ok || len(terms) == 0 || len(terms) > linMaxTerms {
		return nil, 0, false
	}
	return terms, bias, true
}

func parseLinear(g *Graph, op *Op, coef int64, terms *[]linTerm, bias *int64) bool {
	switch op.Code {
	case OpScan:
		ext := g.ext(op)
		if g.table == nil || ext == nil {
			return false
		}
		col := g.table.GetColNamed(ext.Name)
		if col == nil || col.isParted() || !col.Kind().IsInteger() {
			return false
		}
		*terms = append(*terms, linTerm{col: col, coef: coef})
		return true
	case OpConst:
		ext := g.ext(op)
		if ext == nil || ext.Lit == nil || !ext.Lit.Kind().IsInteger() {
			return false
		}
		*bias += coef * ext.Lit.I64At(0)
		return true
	case OpAdd:
		return parseLinear(g, op.In[0], coef, terms, bias) &&
			parseLinear(g, op.In[1], coef, terms, bias)
	case OpSub:
		return parseLinear(g, op.In[0], coef, terms, bias) &&
			parseLinear(g, op.In[1], -coef, terms, bias)
	case OpMul:
		// One side must be an integer constant.
		if c, ok := constI64(g, op.In[1]); ok {
			return parseLinear(g, op.In[0], coef*c, terms, bias)
		}
		if c, ok := constI64(g, op.In[0]); ok {
			return parseLinear(g, op.In[1], coef*c, terms, bias)
		}
		return false
	case OpNeg:
		return parseLinear(g, op.In[0], -coef, terms, bias)
	default:
		return false
	}
}

func constI64(g *Graph, op *Op) (int64, bool) {
	if op.Code != OpConst {
		return 0, false
	}
	ext := g.ext(op)
	if ext == nil || ext.Lit == nil || !ext.Lit.Kind().IsInteger() {
		return 0, false
	}
	return ext.Lit.I64At(0), true
}

// execReduceLinear aggregates a recognized linear expression: the kernel
// sums the base scans only and the emitter folds coefficients and the bias
// back in.
func execReduceLinear(code Opcode, terms []linTerm, bias int64, n int, sel *Sel) *Column {
	pool := poolGet()
	nw := pool.TotalWorkers()
	sums := make([][]int64, nw)
	counts := make([]int64, nw)
	for w := range sums {
		sums[w] = make([]int64, len(terms))
	}
	pool.Dispatch(n, func(w, start, end int) {
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
				case segAll:
					for ; row < segEnd; row++ {
						for t := range terms {
							sums[w][t] += terms[t].col.I64At(row)
						}
						counts[w]++
					}
					continue
				default:
					for ; row < segEnd; row++ {
						if !selBitTest(sel.bits, row) {
							continue
						}
						for t := range terms {
							sums[w][t] += terms[t].col.I64At(row)
						}
						counts[w]++
					}
					continue
				}
			}
			for t := range terms {
				sums[w][t] += terms[t].col.I64At(row)
			}
			counts[w]++
			row++
		}
	})

	var total int64
	var count int64
	for w := range sums {
		count += counts[w]
	}
	for t := range terms {
		var s int64
		for w := range sums {
			s += sums[w][t]
		}
		total += terms[t].coef * s
	}
	total += bias * count

	if code == OpAvg {
		if count == 0 {
			return F64Atom(math.NaN())
		}
		return F64Atom(float64(total) / float64(count))
	}
	return I64Atom(total)
}
