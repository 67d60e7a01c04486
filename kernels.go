package caravel

import "math"

// Element-wise fallback path, used when the expression compiler rejects a
// subtree. Handles scalar broadcast (atoms and length-1 vectors), mixed
// numeric promotion and the SYM-vs-STR equality special case. Slower than
// the VM by design; correctness over speed.

// isScalarish reports whether the column broadcasts against any length.
func isScalarish(c *Column) bool { return c.IsAtom() || c.Len() == 1 }

// execElementwiseUnary evaluates a unary kernel over a plain vector.
func execElementwiseUnary(code Opcode, in *Column, target Kind) *Column {
	if isErr(in) {
		return in
	}
	if in.isParted() {
		flat := in.materialize()
		out := execElementwiseUnary(code, flat, target)
		flat.Release()
		return out
	}
	n := in.Len()
	k := in.Kind()

	switch code {
	case OpNeg, OpAbs:
		if k == KindF64 {
			out := NewVec(KindF64, n)
			src, dst := in.F64s(), out.F64s()
			if code == OpNeg {
				for i := range src {
					dst[i] = -src[i]
				}
			} else {
				for i := range src {
					dst[i] = math.Abs(src[i])
				}
			}
			return out
		}
		if !k.IsInteger() {
			return errVal(ErrNYI)
		}
		out := NewVec(KindI64, n)
		dst := out.I64s()
		for i := 0; i < n; i++ {
			v := in.I64At(i)
			if code == OpNeg {
				v = -v
			} else if v < 0 {
				v = -v
			}
			dst[i] = v
		}
		return out

	case OpSqrt, OpLog, OpExp, OpCeil, OpFloor:
		if !k.IsNumeric() {
			return errVal(ErrNYI)
		}
		out := NewVec(KindF64, n)
		dst := out.F64s()
		for i := 0; i < n; i++ {
			v := in.F64At(i)
			switch code {
			case OpSqrt:
				v = math.Sqrt(v)
			case OpLog:
				v = math.Log(v)
			case OpExp:
				v = math.Exp(v)
			case OpCeil:
				v = math.Ceil(v)
			case OpFloor:
				v = math.Floor(v)
			}
			dst[i] = v
		}
		return out

	case OpNot:
		if k != KindBool {
			return errVal(ErrNYI)
		}
		out := NewVec(KindBool, n)
		src, dst := in.Bools(), out.Bools()
		for i := range src {
			dst[i] = src[i] ^ 1
		}
		return out

	case OpIsNull:
		out := NewVec(KindBool, n)
		dst := out.Bools()
		for i := 0; i < n; i++ {
			if in.IsNullAt(i) {
				dst[i] = 1
			}
		}
		return out

	case OpCast:
		return execCast(in, target)

	default:
		return errVal(ErrNYI)
	}
}

// execCast converts between any two scalar kinds.
func execCast(in *Column, target Kind) *Column {
	if in.Kind() == target {
		return in.Retain()
	}
	n := in.Len()
	if !in.Kind().IsNumeric() && in.Kind() != KindSym {
		return errVal(ErrNYI)
	}
	switch target {
	case KindF64:
		out := NewVec(KindF64, n)
		dst := out.F64s()
		for i := 0; i < n; i++ {
			dst[i] = in.F64At(i)
		}
		return out
	case KindBool:
		out := NewVec(KindBool, n)
		dst := out.Bools()
		for i := 0; i < n; i++ {
			if in.I64At(i) != 0 {
				dst[i] = 1
			}
		}
		return out
	case KindI64, KindI32, KindI16, KindU8, KindTimestamp, KindDate, KindTime:
		out := NewVec(target, n)
		for i := 0; i < n; i++ {
			writeColI64(out.data, i, target, 0, in.I64At(i))
		}
		return out
	default:
		return errVal(ErrNYI)
	}
}

// execElementwiseBinary evaluates a binary kernel with scalar broadcast and
// type promotion.
func execElementwiseBinary(code Opcode, a, b *Column) *Column {
	if isErr(a) {
		return a
	}
	if isErr(b) {
		return b
	}
	if a.isParted() {
		flat := a.materialize()
		defer flat.Release()
		return execElementwiseBinary(code, flat, b)
	}
	if b.isParted() {
		flat := b.materialize()
		defer flat.Release()
		return execElementwiseBinary(code, a, flat)
	}

	// SYM vs STR equality: resolve the string against the intern table. An
	// unknown string can match nothing.
	if code == OpEq || code == OpNe {
		if sc, str, swapped := symStrOperands(a, b); sc != nil {
			_ = swapped
			return symStrCompare(code, sc, str)
		}
	}

	n := broadcastLen(a, b)
	if n < 0 {
		return errVal(ErrLength)
	}
	if !a.Kind().IsNumeric() && a.Kind() != KindSym {
		return errVal(ErrNYI)
	}
	if !b.Kind().IsNumeric() && b.Kind() != KindSym {
		return errVal(ErrNYI)
	}

	switch code {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpMin2, OpMax2:
		want := promote(a.Kind(), b.Kind())
		if want == KindF64 {
			out := NewVec(KindF64, n)
			dst := out.F64s()
			for i := 0; i < n; i++ {
				dst[i] = arithF64(code, a.F64At(bcast(a, i)), b.F64At(bcast(b, i)))
			}
			return out
		}
		out := NewVec(KindI64, n)
		dst := out.I64s()
		for i := 0; i < n; i++ {
			dst[i] = arithI64(code, a.I64At(bcast(a, i)), b.I64At(bcast(b, i)))
		}
		return out

	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		out := NewVec(KindBool, n)
		dst := out.Bools()
		if promote(a.Kind(), b.Kind()) == KindF64 {
			for i := 0; i < n; i++ {
				dst[i] = b2u8(cmpF64(code, a.F64At(bcast(a, i)), b.F64At(bcast(b, i))))
			}
		} else {
			for i := 0; i < n; i++ {
				dst[i] = b2u8(cmpI64(code, a.I64At(bcast(a, i)), b.I64At(bcast(b, i))))
			}
		}
		return out

	case OpAnd, OpOr:
		if a.Kind() != KindBool || b.Kind() != KindBool {
			return errVal(ErrNYI)
		}
		out := NewVec(KindBool, n)
		dst := out.Bools()
		for i := 0; i < n; i++ {
			x := a.Bools()[bcast(a, i)]
			y := b.Bools()[bcast(b, i)]
			if code == OpAnd {
				dst[i] = x & y
			} else {
				dst[i] = x | y
			}
		}
		return out

	default:
		return errVal(ErrNYI)
	}
}

// broadcastLen returns the result length, -1 on a length mismatch between
// two non-scalar vectors.
func broadcastLen(a, b *Column) int {
	switch {
	case isScalarish(a) && isScalarish(b):
		return 1
	case isScalarish(a):
		return b.Len()
	case isScalarish(b):
		return a.Len()
	case a.Len() == b.Len():
		return a.Len()
	default:
		return -1
	}
}

// bcast maps a result row to a source row, pinning scalars to row 0.
func bcast(c *Column, i int) int {
	if isScalarish(c) {
		return 0
	}
	return i
}

func arithF64(code Opcode, x, y float64) float64 {
	switch code {
	case OpAdd:
		return x + y
	case OpSub:
		return x - y
	case OpMul:
		return x * y
	case OpDiv:
		if y == 0 {
			return 0
		}
		return x / y
	case OpMod:
		if y == 0 {
			return 0
		}
		return math.Mod(x, y)
	case OpMin2:
		return math.Min(x, y)
	default:
		return math.Max(x, y)
	}
}

func arithI64(code Opcode, x, y int64) int64 {
	switch code {
	case OpAdd:
		return int64(uint64(x) + uint64(y))
	case OpSub:
		return int64(uint64(x) - uint64(y))
	case OpMul:
		return int64(uint64(x) * uint64(y))
	case OpDiv:
		return divI64(x, y)
	case OpMod:
		return modI64(x, y)
	case OpMin2:
		if x < y {
			return x
		}
		return y
	default:
		if x > y {
			return x
		}
		return y
	}
}

func cmpF64(code Opcode, x, y float64) bool {
	switch code {
	case OpEq:
		return x == y
	case OpNe:
		return x != y
	case OpLt:
		return x < y
	case OpLe:
		return x <= y
	case OpGt:
		return x > y
	default:
		return x >= y
	}
}

func cmpI64(code Opcode, x, y int64) bool {
	switch code {
	case OpEq:
		return x == y
	case OpNe:
		return x != y
	case OpLt:
		return x < y
	case OpLe:
		return x <= y
	case OpGt:
		return x > y
	default:
		return x >= y
	}
}

// symStrOperands detects the SYM-column-vs-STR-atom shape.
func symStrOperands(a, b *Column) (symCol *Column, str *Column, swapped bool) {
	if a.Kind() == KindSym && b.Kind() == KindStr && isScalarish(b) {
		return a, b, false
	}
	if b.Kind() == KindSym && a.Kind() == KindStr && isScalarish(a) {
		return b, a, true
	}
	return nil, nil, false
}

// symStrCompare compares a symbol column against a string atom by intern
// id. An uninterned string yields all-false for EQ, all-true for NE.
func symStrCompare(code Opcode, symCol, str *Column) *Column {
	n := symCol.Len()
	out := NewVec(KindBool, n)
	dst := out.Bools()
	id := SymFind(str.Str())
	miss := byte(0)
	if code == OpNe {
		miss = 1
	}
	if id < 0 {
		for i := range dst {
			dst[i] = miss
		}
		return out
	}
	for i := 0; i < n; i++ {
		eq := symCol.I64At(i) == id
		if code == OpNe {
			eq = !eq
		}
		dst[i] = b2u8(eq)
	}
	return out
}
