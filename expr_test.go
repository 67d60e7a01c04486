package caravel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exprTestTable() *Table {
	t := NewTable(3)
	t.AddColNamed("x", NewF64([]float64{1, 2, 3, 4}))
	t.AddColNamed("i", NewI64([]int64{10, 20, 30, 40}))
	t.AddColNamed("s", NewSyms([]string{"aa", "bb", "aa", "cc"}))
	return t
}

func TestExprCompileArithmetic(t *testing.T) {
	g := NewGraph(exprTestTable())
	// x * 2 + i  (mixed F64/I64 promotes to F64)
	expr := g.Binary(OpAdd, g.Binary(OpMul, g.Scan("x"), g.Const(F64Atom(2))), g.Scan("i"))
	res, err := Run(g, expr)
	require.NoError(t, err)
	require.Equal(t, KindF64, res.Kind())
	assert.Equal(t, []float64{12, 24, 36, 48}, res.F64s())
}

func TestExprIntegerOps(t *testing.T) {
	g := NewGraph(exprTestTable())
	expr := g.Binary(OpMod, g.Scan("i"), g.Const(I64Atom(7)))
	res, err := Run(g, expr)
	require.NoError(t, err)
	require.Equal(t, KindI64, res.Kind())
	assert.Equal(t, []int64{3, 6, 2, 5}, res.I64s())
}

func TestExprIntegerDiv(t *testing.T) {
	g := NewGraph(exprTestTable())
	// Two integer operands stay in the integer domain.
	res, err := Run(g, g.Binary(OpDiv, g.Scan("i"), g.Const(I64Atom(7))))
	require.NoError(t, err)
	require.Equal(t, KindI64, res.Kind())
	assert.Equal(t, []int64{1, 2, 4, 5}, res.I64s())

	// Integer division by zero returns 0.
	res, err = Run(g, g.Binary(OpDiv, g.Scan("i"), g.Const(I64Atom(0))))
	require.NoError(t, err)
	require.Equal(t, KindI64, res.Kind())
	assert.Equal(t, []int64{0, 0, 0, 0}, res.I64s())
}

func TestExprIntegerDivMinByNegOne(t *testing.T) {
	tab := NewTable(1)
	tab.AddColNamed("m", NewI64([]int64{math.MinInt64, 10, -10}))
	g := NewGraph(tab)

	// VM path: the INT64_MIN / -1 overflow is guarded.
	res, err := Run(g, g.Binary(OpDiv, g.Scan("m"), g.Const(I64Atom(-1))))
	require.NoError(t, err)
	require.Equal(t, KindI64, res.Kind())
	assert.Equal(t, []int64{math.MinInt64, -10, 10}, res.I64s())

	// Fallback kernel applies the same guards.
	res = execElementwiseBinary(OpDiv, tab.GetColNamed("m"), I64Atom(-1))
	require.Equal(t, ErrNone, ErrOf(res))
	assert.Equal(t, []int64{math.MinInt64, -10, 10}, res.I64s())

	res = execElementwiseBinary(OpDiv, tab.GetColNamed("m"), I64Atom(0))
	require.Equal(t, ErrNone, ErrOf(res))
	assert.Equal(t, []int64{0, 0, 0}, res.I64s())
}

func TestExprDivByZero(t *testing.T) {
	g := NewGraph(exprTestTable())
	expr := g.Binary(OpDiv, g.Scan("x"), g.Const(F64Atom(0)))
	res, err := Run(g, expr)
	require.NoError(t, err)
	for i := 0; i < res.Len(); i++ {
		assert.Equal(t, 0.0, res.F64s()[i], "division by zero returns 0")
	}
}

func TestExprComparisonAndLogic(t *testing.T) {
	g := NewGraph(exprTestTable())
	// x >= 2 AND i < 40
	expr := g.Binary(OpAnd,
		g.Binary(OpGe, g.Scan("x"), g.Const(F64Atom(2))),
		g.Binary(OpLt, g.Scan("i"), g.Const(I64Atom(40))))
	res, err := Run(g, expr)
	require.NoError(t, err)
	require.Equal(t, KindBool, res.Kind())
	assert.Equal(t, []byte{0, 1, 1, 0}, res.Bools())
}

func TestExprUnary(t *testing.T) {
	g := NewGraph(exprTestTable())
	res, err := Run(g, g.Unary(OpSqrt, g.Scan("x")))
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(3), res.F64s()[2], 1e-12)

	res, err = Run(g, g.Unary(OpNeg, g.Scan("i")))
	require.NoError(t, err)
	assert.Equal(t, []int64{-10, -20, -30, -40}, res.I64s())

	res, err = Run(g, g.Unary(OpAbs, g.Unary(OpNeg, g.Scan("i"))))
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30, 40}, res.I64s())
}

func TestExprCast(t *testing.T) {
	g := NewGraph(exprTestTable())
	res, err := Run(g, g.Cast(g.Scan("x"), KindI64))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, res.I64s())
}

func TestExprSymVsStr(t *testing.T) {
	g := NewGraph(exprTestTable())
	res, err := Run(g, g.Binary(OpEq, g.Scan("s"), g.Const(StrAtom("aa"))))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 1, 0}, res.Bools())

	// An uninterned string matches nothing: the compile rejects, the
	// interpretive fallback yields all false.
	res, err = Run(g, g.Binary(OpEq, g.Scan("s"), g.Const(StrAtom("never-interned-zzz-qq"))))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, res.Bools())
}

func TestExprParallelMatchesSequential(t *testing.T) {
	n := 100000
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i%1000) / 3
	}
	tab := NewTable(1)
	tab.AddColNamed("x", NewF64(xs))
	g := NewGraph(tab)
	expr := g.Binary(OpMul, g.Binary(OpAdd, g.Scan("x"), g.Const(F64Atom(1))), g.Const(F64Atom(0.5)))
	res, err := Run(g, expr)
	require.NoError(t, err)
	for i := 0; i < n; i += 997 {
		assert.InDelta(t, (xs[i]+1)*0.5, res.F64s()[i], 1e-12)
	}
}

func TestExprIsNull(t *testing.T) {
	tab := NewTable(1)
	tab.AddColNamed("x", NewF64([]float64{1, math.NaN(), 3}))
	g := NewGraph(tab)
	res, err := Run(g, g.Unary(OpIsNull, g.Scan("x")))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 0}, res.Bools())
}

func TestExprMinMax2(t *testing.T) {
	g := NewGraph(exprTestTable())
	res, err := Run(g, g.Binary(OpMin2, g.Scan("x"), g.Const(F64Atom(2.5))))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 2.5, 2.5}, res.F64s())

	res, err = Run(g, g.Binary(OpMax2, g.Scan("i"), g.Const(I64Atom(25))))
	require.NoError(t, err)
	assert.Equal(t, []int64{25, 25, 30, 40}, res.I64s())
}

func TestExprLengthMismatch(t *testing.T) {
	a := NewF64([]float64{1, 2, 3})
	b := NewF64([]float64{1, 2})
	res := execElementwiseBinary(OpAdd, a, b)
	assert.Equal(t, ErrLength, ErrOf(res))
}

func TestExprScalarBroadcastFallback(t *testing.T) {
	a := NewI64([]int64{1, 2, 3})
	res := execElementwiseBinary(OpAdd, a, I64Atom(10))
	require.Equal(t, ErrNone, ErrOf(res))
	assert.Equal(t, []int64{11, 12, 13}, res.I64s())
}
