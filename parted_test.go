package caravel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// partedScenario splits k/v data into three segments.
func partedScenario(ks []int64, vs []float64, cuts []int) *Table {
	var ksegs, vsegs []*Column
	prev := 0
	for _, cut := range append(cuts, len(ks)) {
		ksegs = append(ksegs, NewI64(ks[prev:cut]))
		vsegs = append(vsegs, NewF64(vs[prev:cut]))
		prev = cut
	}
	t := NewTable(2)
	t.AddColNamed("k", PartedCol(ksegs))
	t.AddColNamed("v", PartedCol(vsegs))
	return t
}

func TestPartedGroupMatchesFlat(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 30000
	ks := make([]int64, n)
	vs := make([]float64, n)
	for i := range ks {
		ks[i] = int64(rng.Intn(20))
		vs[i] = float64(rng.Intn(100))
	}

	runGroup := func(tab *Table) map[int64][2]float64 {
		g := NewGraph(tab)
		root := g.Group(g.ScanTable(), []string{"k"}, []*Op{g.Scan("k")}, []AggSpec{
			{Op: OpSum, Input: g.Scan("v"), Name: "s"},
			{Op: OpAvg, Input: g.Scan("v"), Name: "a"},
			{Op: OpCount, Name: "c"},
		})
		res, err := Run(g, root)
		require.NoError(t, err)
		out := res.Table()
		m := make(map[int64][2]float64)
		for r := 0; r < out.NumRows(); r++ {
			m[out.GetColNamed("k").I64At(r)] = [2]float64{
				out.GetColNamed("s").F64At(r),
				out.GetColNamed("a").F64At(r),
			}
		}
		return m
	}

	flatTab := NewTable(2)
	flatTab.AddColNamed("k", NewI64(ks))
	flatTab.AddColNamed("v", NewF64(vs))

	want := runGroup(flatTab)
	got := runGroup(partedScenario(ks, vs, []int{n / 3, 2 * n / 3}))

	require.Equal(t, len(want), len(got))
	for k, w := range want {
		g, ok := got[k]
		require.True(t, ok, "missing key %d", k)
		assert.InDelta(t, w[0], g[0], 1e-6, "sum for key %d", k)
		assert.InDelta(t, w[1], g[1], 1e-9, "avg for key %d", k)
	}
}

func TestPartedStddevDecomposition(t *testing.T) {
	// Partitions big enough that the cardinality estimate picks the
	// decomposed path: stddev must reconstruct from (SUM, SUM(x*x), COUNT).
	n := 3000
	vs := make([]float64, n)
	ks := make([]int64, n)
	var sum, sumSq float64
	for i := range vs {
		vs[i] = float64(i%37) / 3
		sum += vs[i]
		sumSq += vs[i] * vs[i]
	}
	mean := sum / float64(n)
	wantVarPop := sumSq/float64(n) - mean*mean

	tab := partedScenario(ks, vs, []int{1000, 2000})
	g := NewGraph(tab)
	root := g.Group(g.ScanTable(), []string{"k"}, []*Op{g.Scan("k")}, []AggSpec{
		{Op: OpVarPop, Input: g.Scan("v"), Name: "vp"},
	})
	res, err := Run(g, root)
	require.NoError(t, err)
	out := res.Table()
	require.Equal(t, 1, out.NumRows())
	assert.InDelta(t, wantVarPop, out.GetColNamed("vp").F64At(0), 1e-6)
}

func TestPartedExpression(t *testing.T) {
	ks := []int64{1, 2, 3, 4, 5, 6}
	vs := []float64{1, 2, 3, 4, 5, 6}
	tab := partedScenario(ks, vs, []int{2, 4})
	g := NewGraph(tab)
	res, err := Run(g, g.Binary(OpMul, g.Scan("v"), g.Const(F64Atom(2))))
	require.NoError(t, err)
	flat := res.materialize()
	defer flat.Release()
	assert.Equal(t, []float64{2, 4, 6, 8, 10, 12}, flat.F64s())
}

func TestPartedHeadTail(t *testing.T) {
	ks := []int64{1, 2, 3, 4, 5, 6}
	vs := []float64{1, 2, 3, 4, 5, 6}
	tab := partedScenario(ks, vs, []int{2, 4})
	g := NewGraph(tab)

	res, err := Run(g, g.Head(g.ScanTable(), 3))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, res.Table().GetColNamed("k").I64s())

	res, err = Run(g, g.Tail(g.ScanTable(), 3))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6}, res.Table().GetColNamed("k").I64s())
}

func TestPartedSort(t *testing.T) {
	ks := []int64{5, 2, 6, 1, 4, 3}
	vs := []float64{50, 20, 60, 10, 40, 30}
	tab := partedScenario(ks, vs, []int{2, 4})
	g := NewGraph(tab)
	res, err := Run(g, g.Sort(g.ScanTable(), []string{"k"}, nil, nil))
	require.NoError(t, err)
	out := res.Table()
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, out.GetColNamed("k").I64s())
	assert.Equal(t, []float64{10, 20, 30, 40, 50, 60}, out.GetColNamed("v").F64s())
}

func TestMapCommonGroup(t *testing.T) {
	// Two partitions with constant keys 7 and 8 and per-partition counts.
	key := MapCommonCol(NewI64([]int64{7, 8}), NewI64([]int64{3, 2}))
	vals := PartedCol([]*Column{
		NewF64([]float64{1, 2, 3}),
		NewF64([]float64{10, 20}),
	})
	tab := NewTable(2)
	tab.AddColNamed("k", key)
	tab.AddColNamed("v", vals)

	g := NewGraph(tab)
	root := g.Group(g.ScanTable(), []string{"k"}, []*Op{g.Scan("k")}, []AggSpec{
		{Op: OpSum, Input: g.Scan("v"), Name: "s"},
	})
	res, err := Run(g, root)
	require.NoError(t, err)
	sums := groupResultMap(t, res.Table(), "s")
	assert.Equal(t, map[int64]float64{7: 6, 8: 30}, sums)
}

func TestPartedFirstLastOrder(t *testing.T) {
	ks := []int64{1, 1, 1, 1, 1, 1}
	vs := []float64{10, 20, 30, 40, 50, 60}
	tab := partedScenario(ks, vs, []int{2, 4})
	g := NewGraph(tab)
	root := g.Group(g.ScanTable(), []string{"k"}, []*Op{g.Scan("k")}, []AggSpec{
		{Op: OpFirst, Input: g.Scan("v"), Name: "f"},
		{Op: OpLast, Input: g.Scan("v"), Name: "l"},
	})
	res, err := Run(g, root)
	require.NoError(t, err)
	out := res.Table()
	require.Equal(t, 1, out.NumRows())
	assert.Equal(t, 10.0, out.GetColNamed("f").F64At(0), "first row of first partition")
	assert.Equal(t, 60.0, out.GetColNamed("l").F64At(0), "last row of last partition")
}
