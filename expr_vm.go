package caravel

import "math"

// The morsel VM walks input columns in 1024-row windows. SCAN registers
// point directly at the column slice when the native type matches and are
// converted into a scratch window otherwise; CONST registers broadcast
// once per evaluation context. Each instruction's operand-type switch sits
// outside the row loop.

type exprCtx struct {
	f [exprMaxRegs][]float64
	i [exprMaxRegs][]int64
	b [exprMaxRegs][]byte

	// conversion buffers, lazily sized to one morsel
	convF [exprMaxRegs][]float64
	convI [exprMaxRegs][]int64
	convB [exprMaxRegs][]byte
}

func newExprCtx(p *exprProg) *exprCtx {
	ctx := &exprCtx{}
	for r := 0; r < p.nregs; r++ {
		reg := &p.regs[r]
		switch reg.role {
		case roleConst:
			switch reg.typ {
			case rtF64:
				buf := make([]float64, morselElems)
				for i := range buf {
					buf[i] = reg.f
				}
				ctx.f[r] = buf
			case rtI64:
				buf := make([]int64, morselElems)
				for i := range buf {
					buf[i] = reg.i
				}
				ctx.i[r] = buf
			default:
				buf := make([]byte, morselElems)
				for i := range buf {
					buf[i] = reg.b
				}
				ctx.b[r] = buf
			}
		case roleScratch:
			switch reg.typ {
			case rtF64:
				ctx.f[r] = make([]float64, morselElems)
			case rtI64:
				ctx.i[r] = make([]int64, morselElems)
			default:
				ctx.b[r] = make([]byte, morselElems)
			}
		}
	}
	return ctx
}

// bind points or converts every SCAN register at rows [start, end).
func (ctx *exprCtx) bind(p *exprProg, start, end int) {
	n := end - start
	for r := 0; r < p.nregs; r++ {
		reg := &p.regs[r]
		if reg.role != roleScan {
			continue
		}
		col := reg.col
		k := col.Kind()
		switch reg.typ {
		case rtF64:
			if k == KindF64 {
				ctx.f[r] = col.F64s()[start:end]
				continue
			}
			if ctx.convF[r] == nil {
				ctx.convF[r] = make([]float64, morselElems)
			}
			buf := ctx.convF[r][:n]
			for i := 0; i < n; i++ {
				buf[i] = col.F64At(start + i)
			}
			ctx.f[r] = buf
		case rtI64:
			if (k == KindI64 || k == KindTimestamp) && !col.IsAtom() {
				ctx.i[r] = col.I64s()[start:end]
				continue
			}
			if ctx.convI[r] == nil {
				ctx.convI[r] = make([]int64, morselElems)
			}
			buf := ctx.convI[r][:n]
			for i := 0; i < n; i++ {
				buf[i] = col.I64At(start + i)
			}
			ctx.i[r] = buf
		default:
			if k == KindBool {
				ctx.b[r] = col.Bools()[start:end]
				continue
			}
			if ctx.convB[r] == nil {
				ctx.convB[r] = make([]byte, morselElems)
			}
			buf := ctx.convB[r][:n]
			for i := 0; i < n; i++ {
				if col.I64At(start+i) != 0 {
					buf[i] = 1
				} else {
					buf[i] = 0
				}
			}
			ctx.b[r] = buf
		}
	}
}

// run executes the instruction array over one morsel of n rows.
func (ctx *exprCtx) run(p *exprProg, n int) {
	for k := 0; k < p.nins; k++ {
		ins := p.ins[k]
		dt := p.regs[ins.dst].typ
		switch ins.op {
		case OpCast:
			ctx.runCast(p, ins, n)
		case OpNeg:
			if dt == rtF64 {
				d, a := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n]
				for i := 0; i < n; i++ {
					d[i] = -a[i]
				}
			} else {
				d, a := ctx.i[ins.dst][:n], ctx.i[ins.src1][:n]
				for i := 0; i < n; i++ {
					d[i] = -a[i]
				}
			}
		case OpAbs:
			if dt == rtF64 {
				d, a := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n]
				for i := 0; i < n; i++ {
					d[i] = math.Abs(a[i])
				}
			} else {
				d, a := ctx.i[ins.dst][:n], ctx.i[ins.src1][:n]
				for i := 0; i < n; i++ {
					v := a[i]
					if v < 0 {
						v = -v
					}
					d[i] = v
				}
			}
		case OpSqrt:
			d, a := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n]
			for i := 0; i < n; i++ {
				d[i] = math.Sqrt(a[i])
			}
		case OpLog:
			d, a := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n]
			for i := 0; i < n; i++ {
				d[i] = math.Log(a[i])
			}
		case OpExp:
			d, a := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n]
			for i := 0; i < n; i++ {
				d[i] = math.Exp(a[i])
			}
		case OpCeil:
			d, a := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n]
			for i := 0; i < n; i++ {
				d[i] = math.Ceil(a[i])
			}
		case OpFloor:
			d, a := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n]
			for i := 0; i < n; i++ {
				d[i] = math.Floor(a[i])
			}
		case OpNot:
			d, a := ctx.b[ins.dst][:n], ctx.b[ins.src1][:n]
			for i := 0; i < n; i++ {
				d[i] = a[i] ^ 1
			}
		case OpIsNull:
			d := ctx.b[ins.dst][:n]
			if p.regs[ins.src1].typ == rtF64 {
				a := ctx.f[ins.src1][:n]
				for i := 0; i < n; i++ {
					if math.IsNaN(a[i]) {
						d[i] = 1
					} else {
						d[i] = 0
					}
				}
			} else {
				clear(d)
			}
		case OpAdd:
			if dt == rtF64 {
				d, a, b := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n], ctx.f[ins.src2][:n]
				for i := 0; i < n; i++ {
					d[i] = a[i] + b[i]
				}
			} else {
				d, a, b := ctx.i[ins.dst][:n], ctx.i[ins.src1][:n], ctx.i[ins.src2][:n]
				for i := 0; i < n; i++ {
					d[i] = int64(uint64(a[i]) + uint64(b[i]))
				}
			}
		case OpSub:
			if dt == rtF64 {
				d, a, b := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n], ctx.f[ins.src2][:n]
				for i := 0; i < n; i++ {
					d[i] = a[i] - b[i]
				}
			} else {
				d, a, b := ctx.i[ins.dst][:n], ctx.i[ins.src1][:n], ctx.i[ins.src2][:n]
				for i := 0; i < n; i++ {
					d[i] = int64(uint64(a[i]) - uint64(b[i]))
				}
			}
		case OpMul:
			if dt == rtF64 {
				d, a, b := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n], ctx.f[ins.src2][:n]
				for i := 0; i < n; i++ {
					d[i] = a[i] * b[i]
				}
			} else {
				d, a, b := ctx.i[ins.dst][:n], ctx.i[ins.src1][:n], ctx.i[ins.src2][:n]
				for i := 0; i < n; i++ {
					d[i] = int64(uint64(a[i]) * uint64(b[i]))
				}
			}
		case OpDiv:
			if dt == rtF64 {
				d, a, b := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n], ctx.f[ins.src2][:n]
				for i := 0; i < n; i++ {
					if b[i] == 0 {
						d[i] = 0
					} else {
						d[i] = a[i] / b[i]
					}
				}
			} else {
				d, a, b := ctx.i[ins.dst][:n], ctx.i[ins.src1][:n], ctx.i[ins.src2][:n]
				for i := 0; i < n; i++ {
					d[i] = divI64(a[i], b[i])
				}
			}
		case OpMod:
			if dt == rtF64 {
				d, a, b := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n], ctx.f[ins.src2][:n]
				for i := 0; i < n; i++ {
					if b[i] == 0 {
						d[i] = 0
					} else {
						d[i] = math.Mod(a[i], b[i])
					}
				}
			} else {
				d, a, b := ctx.i[ins.dst][:n], ctx.i[ins.src1][:n], ctx.i[ins.src2][:n]
				for i := 0; i < n; i++ {
					d[i] = modI64(a[i], b[i])
				}
			}
		case OpMin2:
			if dt == rtF64 {
				d, a, b := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n], ctx.f[ins.src2][:n]
				for i := 0; i < n; i++ {
					d[i] = math.Min(a[i], b[i])
				}
			} else {
				d, a, b := ctx.i[ins.dst][:n], ctx.i[ins.src1][:n], ctx.i[ins.src2][:n]
				for i := 0; i < n; i++ {
					if a[i] < b[i] {
						d[i] = a[i]
					} else {
						d[i] = b[i]
					}
				}
			}
		case OpMax2:
			if dt == rtF64 {
				d, a, b := ctx.f[ins.dst][:n], ctx.f[ins.src1][:n], ctx.f[ins.src2][:n]
				for i := 0; i < n; i++ {
					d[i] = math.Max(a[i], b[i])
				}
			} else {
				d, a, b := ctx.i[ins.dst][:n], ctx.i[ins.src1][:n], ctx.i[ins.src2][:n]
				for i := 0; i < n; i++ {
					if a[i] > b[i] {
						d[i] = a[i]
					} else {
						d[i] = b[i]
					}
				}
			}
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			ctx.runCompare(p, ins, n)
		case OpAnd:
			d, a, b := ctx.b[ins.dst][:n], ctx.b[ins.src1][:n], ctx.b[ins.src2][:n]
			for i := 0; i < n; i++ {
				d[i] = a[i] & b[i]
			}
		case OpOr:
			d, a, b := ctx.b[ins.dst][:n], ctx.b[ins.src1][:n], ctx.b[ins.src2][:n]
			for i := 0; i < n; i++ {
				d[i] = a[i] | b[i]
			}
		}
	}
}

func (ctx *exprCtx) runCast(p *exprProg, ins exprIns, n int) {
	st := p.regs[ins.src1].typ
	dt := p.regs[ins.dst].typ
	switch {
	case st == rtI64 && dt == rtF64:
		d, a := ctx.f[ins.dst][:n], ctx.i[ins.src1][:n]
		for i := 0; i < n; i++ {
			d[i] = float64(a[i])
		}
	case st == rtF64 && dt == rtI64:
		d, a := ctx.i[ins.dst][:n], ctx.f[ins.src1][:n]
		for i := 0; i < n; i++ {
			d[i] = int64(a[i])
		}
	case st == rtBool && dt == rtI64:
		d, a := ctx.i[ins.dst][:n], ctx.b[ins.src1][:n]
		for i := 0; i < n; i++ {
			d[i] = int64(a[i])
		}
	case st == rtBool && dt == rtF64:
		d, a := ctx.f[ins.dst][:n], ctx.b[ins.src1][:n]
		for i := 0; i < n; i++ {
			d[i] = float64(a[i])
		}
	case st == rtI64 && dt == rtBool:
		d, a := ctx.b[ins.dst][:n], ctx.i[ins.src1][:n]
		for i := 0; i < n; i++ {
			if a[i] != 0 {
				d[i] = 1
			} else {
				d[i] = 0
			}
		}
	case st == rtF64 && dt == rtBool:
		d, a := ctx.b[ins.dst][:n], ctx.f[ins.src1][:n]
		for i := 0; i < n; i++ {
			if a[i] != 0 {
				d[i] = 1
			} else {
				d[i] = 0
			}
		}
	}
}

func (ctx *exprCtx) runCompare(p *exprProg, ins exprIns, n int) {
	d := ctx.b[ins.dst][:n]
	if p.regs[ins.src1].typ == rtF64 {
		a, b := ctx.f[ins.src1][:n], ctx.f[ins.src2][:n]
		switch ins.op {
		case OpEq:
			for i := 0; i < n; i++ {
				d[i] = b2u8(a[i] == b[i])
			}
		case OpNe:
			for i := 0; i < n; i++ {
				d[i] = b2u8(a[i] != b[i])
			}
		case OpLt:
			for i := 0; i < n; i++ {
				d[i] = b2u8(a[i] < b[i])
			}
		case OpLe:
			for i := 0; i < n; i++ {
				d[i] = b2u8(a[i] <= b[i])
			}
		case OpGt:
			for i := 0; i < n; i++ {
				d[i] = b2u8(a[i] > b[i])
			}
		case OpGe:
			for i := 0; i < n; i++ {
				d[i] = b2u8(a[i] >= b[i])
			}
		}
		return
	}
	a, b := ctx.i[ins.src1][:n], ctx.i[ins.src2][:n]
	switch ins.op {
	case OpEq:
		for i := 0; i < n; i++ {
			d[i] = b2u8(a[i] == b[i])
		}
	case OpNe:
		for i := 0; i < n; i++ {
			d[i] = b2u8(a[i] != b[i])
		}
	case OpLt:
		for i := 0; i < n; i++ {
			d[i] = b2u8(a[i] < b[i])
		}
	case OpLe:
		for i := 0; i < n; i++ {
			d[i] = b2u8(a[i] <= b[i])
		}
	case OpGt:
		for i := 0; i < n; i++ {
			d[i] = b2u8(a[i] > b[i])
		}
	case OpGe:
		for i := 0; i < n; i++ {
			d[i] = b2u8(a[i] >= b[i])
		}
	}
}

func b2u8(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// modI64 is integer modulo with the zero-divisor and INT64_MIN/-1 guards.
func modI64(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	if a == math.MinInt64 && b == -1 {
		return 0
	}
	return a % b
}

// divI64 is integer division with the zero-divisor and INT64_MIN/-1 guards.
func divI64(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	if a == math.MinInt64 && b == -1 {
		return a
	}
	return a / b
}

// evalRange runs the program over rows [start, end) and stores the result
// window into out.
func (p *exprProg) evalRange(ctx *exprCtx, out *Column, start, end int) {
	it := morselInitRange(start, end)
	for ms, me, ok := it.next(); ok; ms, me, ok = it.next() {
		n := me - ms
		ctx.bind(p, ms, me)
		ctx.run(p, n)
		switch p.outKind {
		case KindF64:
			copy(out.F64s()[ms:me], ctx.f[p.out][:n])
		case KindI64:
			copy(out.I64s()[ms:me], ctx.i[p.out][:n])
		default:
			copy(out.Bools()[ms:me], ctx.b[p.out][:n])
		}
	}
}

// exprEvalFull allocates the result column and evaluates the compiled
// program, in parallel for large inputs.
func exprEvalFull(p *exprProg, n int) *Column {
	out := NewVec(p.outKind, n)
	pool := poolGet()
	if !pool.shouldParallelize(n) {
		ctx := newExprCtx(p)
		p.evalRange(ctx, out, 0, n)
		return out
	}
	pool.Dispatch(n, func(_, start, end int) {
		ctx := newExprCtx(p)
		p.evalRange(ctx, out, start, end)
	})
	return out
}

// rebindSeg returns a copy of the program with every SCAN register bound to
// the corresponding segment of its parted source, used when iterating a
// compiled expression per partition.
func (p *exprProg) rebindSeg(cols []*Column) *exprProg {
	cp := *p
	ci := 0
	for r := 0; r < cp.nregs; r++ {
		if cp.regs[r].role == roleScan {
			cp.regs[r].col = cols[ci]
			ci++
		}
	}
	return &cp
}
