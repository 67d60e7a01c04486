package caravel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterIsLazyOnTables(t *testing.T) {
	g := NewGraph(scenarioTable())
	pred := g.Binary(OpGe, g.Scan("v"), g.Const(F64Atom(3)))
	root := g.Filter(g.ScanTable(), pred)
	res, err := Run(g, root)
	require.NoError(t, err)
	// The terminal compaction folds the surviving selection in.
	tab := res.Table()
	require.Equal(t, 3, tab.NumRows())
	assert.Equal(t, []int64{2, 2, 3}, tab.GetColNamed("k").I64s())
	assert.Equal(t, []float64{3, 4, 5}, tab.GetColNamed("v").F64s())
}

func TestChainedFiltersAndMerge(t *testing.T) {
	g := NewGraph(scenarioTable())
	f1 := g.Filter(g.ScanTable(), g.Binary(OpGe, g.Scan("v"), g.Const(F64Atom(2))))
	f2 := g.Filter(f1, g.Binary(OpLe, g.Scan("v"), g.Const(F64Atom(4))))
	res, err := Run(g, f2)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4}, res.Table().GetColNamed("v").F64s())
}

func TestHeadFilterFusion(t *testing.T) {
	// FILTER(v >= 3.0) -> HEAD(2) yields {(2,3.0),(2,4.0)}.
	g := NewGraph(scenarioTable())
	pred := g.Binary(OpGe, g.Scan("v"), g.Const(F64Atom(3)))
	root := g.Head(g.Filter(g.ScanTable(), pred), 2)
	res, err := Run(g, root)
	require.NoError(t, err)
	tab := res.Table()
	require.Equal(t, 2, tab.NumRows())
	assert.Equal(t, []int64{2, 2}, tab.GetColNamed("k").I64s())
	assert.Equal(t, []float64{3, 4}, tab.GetColNamed("v").F64s())
}

func TestHeadSortFusion(t *testing.T) {
	// SORT BY v DESC LIMIT 3 yields {(3,5.0),(2,4.0),(2,3.0)}.
	g := NewGraph(scenarioTable())
	root := g.Head(g.Sort(g.ScanTable(), []string{"v"}, []bool{true}, nil), 3)
	res, err := Run(g, root)
	require.NoError(t, err)
	tab := res.Table()
	require.Equal(t, 3, tab.NumRows())
	assert.Equal(t, []int64{3, 2, 2}, tab.GetColNamed("k").I64s())
	assert.Equal(t, []float64{5, 4, 3}, tab.GetColNamed("v").F64s())
}

func TestHavingFusion(t *testing.T) {
	// GROUP BY k HAVING SUM(v) > 5 -> {(2, 7.0)}.
	g := NewGraph(scenarioTable())
	grouped := g.Group(g.ScanTable(), []string{"k"}, []*Op{g.Scan("k")}, []AggSpec{
		{Op: OpSum, Input: g.Scan("v"), Name: "s"},
	})
	root := g.Filter(grouped, g.Binary(OpGt, g.Scan("s"), g.Const(F64Atom(5))))
	res, err := Run(g, root)
	require.NoError(t, err)
	tab := res.Table()
	require.Equal(t, 1, tab.NumRows())
	assert.Equal(t, int64(2), tab.GetColNamed("k").I64At(0))
	assert.Equal(t, 7.0, tab.GetColNamed("s").F64At(0))
}

func TestFilterThenGroupHonorsSelection(t *testing.T) {
	g := NewGraph(scenarioTable())
	filtered := g.Filter(g.ScanTable(), g.Binary(OpGe, g.Scan("v"), g.Const(F64Atom(2))))
	root := g.Group(filtered, []string{"k"}, []*Op{g.Scan("k")}, []AggSpec{
		{Op: OpSum, Input: g.Scan("v"), Name: "s"},
	})
	res, err := Run(g, root)
	require.NoError(t, err)
	sums := groupResultMap(t, res.Table(), "s")
	assert.Equal(t, map[int64]float64{1: 2, 2: 7, 3: 5}, sums)
}

func TestLimitZero(t *testing.T) {
	g := NewGraph(scenarioTable())
	res, err := Run(g, g.Head(g.ScanTable(), 0))
	require.NoError(t, err)
	tab := res.Table()
	assert.Equal(t, 0, tab.NumRows())
	assert.Equal(t, 2, tab.NumCols(), "schema preserved")
}

func TestTail(t *testing.T) {
	g := NewGraph(scenarioTable())
	res, err := Run(g, g.Tail(g.ScanTable(), 2))
	require.NoError(t, err)
	tab := res.Table()
	assert.Equal(t, []int64{2, 3}, tab.GetColNamed("k").I64s())
	assert.Equal(t, []float64{4, 5}, tab.GetColNamed("v").F64s())
}

func TestSelectProjection(t *testing.T) {
	g := NewGraph(scenarioTable())
	res, err := Run(g, g.Select(g.ScanTable(), []string{"v"}))
	require.NoError(t, err)
	tab := res.Table()
	assert.Equal(t, 1, tab.NumCols())
	assert.NotNil(t, tab.GetColNamed("v"))
}

func TestSelectMissingColumn(t *testing.T) {
	g := NewGraph(scenarioTable())
	_, err := Run(g, g.Select(g.ScanTable(), []string{"nope"}))
	assert.ErrorIs(t, err, ErrSchema)
}

func TestScanMissingColumn(t *testing.T) {
	g := NewGraph(scenarioTable())
	_, err := Run(g, g.Scan("missing"))
	assert.ErrorIs(t, err, ErrSchema)
}

func TestIfTernary(t *testing.T) {
	g := NewGraph(scenarioTable())
	cond := g.Binary(OpGe, g.Scan("v"), g.Const(F64Atom(3)))
	root := g.If(cond, g.Scan("v"), g.Const(F64Atom(0)))
	res, err := Run(g, root)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 3, 4, 5}, res.F64s())
}

func TestIfSymWithStringScalars(t *testing.T) {
	g := NewGraph(scenarioTable())
	cond := g.Binary(OpGe, g.Scan("v"), g.Const(F64Atom(3)))
	root := g.If(cond, g.Const(StrAtom("big")), g.Const(StrAtom("small")))
	res, err := Run(g, root)
	require.NoError(t, err)
	require.Equal(t, KindSym, res.Kind())
	got := make([]string, res.Len())
	for i := range got {
		got[i] = SymStr(res.I64At(i))
	}
	assert.Equal(t, []string{"small", "small", "big", "big", "big"}, got)
}

func TestMaterializeIdempotent(t *testing.T) {
	g := NewGraph(scenarioTable())
	once, err := Run(g, g.Materialize(g.ScanTable()))
	require.NoError(t, err)
	twice, err := Run(g, g.Materialize(g.Materialize(g.ScanTable())))
	require.NoError(t, err)
	assert.Equal(t, once.Table().GetColNamed("v").F64s(), twice.Table().GetColNamed("v").F64s())
}

func TestStringKernelsThroughExecutor(t *testing.T) {
	tab := NewTable(1)
	tab.AddColNamed("s", NewSyms([]string{"Foo", "bar baz", " sp "}))
	g := NewGraph(tab)

	res, err := Run(g, g.StrOp(OpUpper, g.Scan("s")))
	require.NoError(t, err)
	assert.Equal(t, "FOO", SymStr(res.I64At(0)))

	res, err = Run(g, g.StrOp(OpStrLen, g.Scan("s")))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7, 4}, res.I64s())

	res, err = Run(g, g.StrOp(OpTrim, g.Scan("s")))
	require.NoError(t, err)
	assert.Equal(t, "sp", SymStr(res.I64At(2)))

	res, err = Run(g, g.Like(g.Scan("s"), g.Const(StrAtom("%ba%")), false))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 0}, res.Bools())

	res, err = Run(g, g.Like(g.Scan("s"), g.Const(StrAtom("f_o")), true))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0}, res.Bools())
}

func TestSubstrConcatRoundTrip(t *testing.T) {
	tab := NewTable(1)
	tab.AddColNamed("s", NewSyms([]string{"caravel", "columns"}))
	g := NewGraph(tab)

	// CONCAT(SUBSTR(s,1,k), SUBSTR(s,k+1,len-k)) == s
	k := int64(3)
	root := g.Concat(
		g.Substr(g.Scan("s"), 1, k),
		g.Substr(g.Scan("s"), k+1, 64),
	)
	res, err := Run(g, root)
	require.NoError(t, err)
	assert.Equal(t, "caravel", SymStr(res.I64At(0)))
	assert.Equal(t, "columns", SymStr(res.I64At(1)))
}

func TestReplaceEmptyPatternIsIdentity(t *testing.T) {
	tab := NewTable(1)
	tab.AddColNamed("s", NewSyms([]string{"abc"}))
	g := NewGraph(tab)
	root := g.Replace(g.Scan("s"), g.Const(StrAtom("")), g.Const(StrAtom("zzz")))
	res, err := Run(g, root)
	require.NoError(t, err)
	assert.Equal(t, "abc", SymStr(res.I64At(0)))
}

func TestConcatArgCountDomain(t *testing.T) {
	tab := NewTable(1)
	tab.AddColNamed("s", NewSyms([]string{"abc"}))
	g := NewGraph(tab)
	_, err := Run(g, g.Concat(g.Scan("s")))
	assert.ErrorIs(t, err, ErrDomain)
}

func TestDateTruncExtractRoundTrip(t *testing.T) {
	// 2021-07-15 12:34:56 in engine micros.
	us := (daysFromCivil(2021, 7, 15)-epochShiftDays)*usPerDay +
		12*usPerHour + 34*usPerMinute + 56*usPerSecond
	tab := NewTable(1)
	tab.AddColNamed("ts", func() *Column {
		c := NewVec(KindTimestamp, 1)
		c.I64s()[0] = us
		return c
	}())
	g := NewGraph(tab)

	res, err := Run(g, g.Extract(FieldYear, g.Scan("ts")))
	require.NoError(t, err)
	assert.Equal(t, int64(2021), res.I64At(0))

	res, err = Run(g, g.DateTrunc(FieldYear, g.Scan("ts")))
	require.NoError(t, err)
	wantYearStart := (daysFromCivil(2021, 1, 1) - epochShiftDays) * usPerDay
	assert.Equal(t, wantYearStart, res.I64At(0))

	// Truncating the already-truncated value is a fixed point.
	res2 := execDateTrunc(FieldYear, res)
	assert.Equal(t, wantYearStart, res2.I64At(0))

	res, err = Run(g, g.DateTrunc(FieldHour, g.Scan("ts")))
	require.NoError(t, err)
	assert.Equal(t, us-34*usPerMinute-56*usPerSecond, res.I64At(0))
}

func TestExecuteClearsCancelFlag(t *testing.T) {
	g := NewGraph(scenarioTable())
	poolGet().Cancel()
	// Execute clears the flag at entry, so this must still succeed.
	_, err := Run(g, g.Scan("v"))
	assert.NoError(t, err)
}

func TestErrorSentinelPropagation(t *testing.T) {
	g := NewGraph(scenarioTable())
	bad := g.Binary(OpAdd, g.Scan("missing"), g.Scan("v"))
	res := Execute(g, bad)
	assert.Equal(t, ErrSchema, ErrOf(res))
}

func TestDescribeGraph(t *testing.T) {
	g := NewGraph(scenarioTable())
	root := g.Head(g.Sort(g.ScanTable(), []string{"v"}, []bool{true}, nil), 3)
	desc := DescribeGraph(g, root)
	assert.Contains(t, desc, "head")
	assert.Contains(t, desc, "sort")
	assert.Contains(t, desc, "scan")
}
