package caravel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowRowNumber(t *testing.T) {
	// ROW_NUMBER() OVER (PARTITION BY k ORDER BY v) on the scenario table
	// yields 1,2,1,2,1 aligned to the original row order.
	out, ek := execWindow(scenarioTable(), []string{"k"}, []string{"v"},
		[]WinFunc{{Op: WinRowNumber, Name: "rn"}}, true)
	require.Equal(t, ErrNone, ek)
	assert.Equal(t, []int64{1, 2, 1, 2, 1}, out.GetColNamed("rn").I64s())
}

func TestWindowRankDenseRank(t *testing.T) {
	tab := NewTable(2)
	tab.AddColNamed("k", NewI64([]int64{1, 1, 1, 1}))
	tab.AddColNamed("v", NewF64([]float64{10, 20, 20, 30}))
	out, ek := execWindow(tab, []string{"k"}, []string{"v"}, []WinFunc{
		{Op: WinRank, Input: "", Name: "r"},
		{Op: WinDenseRank, Input: "", Name: "dr"},
	}, true)
	require.Equal(t, ErrNone, ek)
	assert.Equal(t, []int64{1, 2, 2, 4}, out.GetColNamed("r").I64s())
	assert.Equal(t, []int64{1, 2, 2, 3}, out.GetColNamed("dr").I64s())
}

func TestWindowRunningSum(t *testing.T) {
	out, ek := execWindow(scenarioTable(), []string{"k"}, []string{"v"},
		[]WinFunc{{Op: WinSum, Input: "v", Name: "rs"}}, false)
	require.Equal(t, ErrNone, ek)
	// Partition k=1: rows v=1,2 -> running 1,3. k=2: 3,7. k=3: 5.
	assert.Equal(t, []float64{1, 3, 3, 7, 5}, out.GetColNamed("rs").F64s())
}

func TestWindowWholePartitionAggregates(t *testing.T) {
	out, ek := execWindow(scenarioTable(), []string{"k"}, []string{"v"}, []WinFunc{
		{Op: WinSum, Input: "v", Name: "s"},
		{Op: WinAvg, Input: "v", Name: "a"},
		{Op: WinMin, Input: "v", Name: "lo"},
		{Op: WinMax, Input: "v", Name: "hi"},
		{Op: WinCount, Input: "", Name: "c"},
	}, true)
	require.Equal(t, ErrNone, ek)
	assert.Equal(t, []float64{3, 3, 7, 7, 5}, out.GetColNamed("s").F64s())
	assert.Equal(t, []float64{1.5, 1.5, 3.5, 3.5, 5}, out.GetColNamed("a").F64s())
	assert.Equal(t, []float64{1, 1, 3, 3, 5}, out.GetColNamed("lo").F64s())
	assert.Equal(t, []float64{2, 2, 4, 4, 5}, out.GetColNamed("hi").F64s())
	assert.Equal(t, []int64{2, 2, 2, 2, 1}, out.GetColNamed("c").I64s())
}

func TestWindowLagLeadEdges(t *testing.T) {
	out, ek := execWindow(scenarioTable(), []string{"k"}, []string{"v"}, []WinFunc{
		{Op: WinLag, Input: "v", Param: 1, Name: "lag"},
		{Op: WinLead, Input: "v", Param: 1, Name: "lead"},
	}, true)
	require.Equal(t, ErrNone, ek)
	lag := out.GetColNamed("lag").F64s()
	lead := out.GetColNamed("lead").F64s()
	// Partition edges yield NaN for doubles.
	assert.True(t, math.IsNaN(lag[0]))
	assert.Equal(t, 1.0, lag[1])
	assert.True(t, math.IsNaN(lag[2]))
	assert.Equal(t, 3.0, lag[3])
	assert.True(t, math.IsNaN(lag[4]))

	assert.Equal(t, 2.0, lead[0])
	assert.True(t, math.IsNaN(lead[1]))
	assert.Equal(t, 4.0, lead[2])
	assert.True(t, math.IsNaN(lead[3]))
	assert.True(t, math.IsNaN(lead[4]))
}

func TestWindowLagIntegerEdgeIsZero(t *testing.T) {
	tab := NewTable(2)
	tab.AddColNamed("k", NewI64([]int64{1, 1}))
	tab.AddColNamed("v", NewI64([]int64{10, 20}))
	out, ek := execWindow(tab, []string{"k"}, []string{"v"},
		[]WinFunc{{Op: WinLag, Input: "v", Param: 1, Name: "lag"}}, true)
	require.Equal(t, ErrNone, ek)
	assert.Equal(t, []int64{0, 10}, out.GetColNamed("lag").I64s())
}

func TestWindowNTile(t *testing.T) {
	tab := NewTable(2)
	tab.AddColNamed("k", NewI64([]int64{1, 1, 1, 1, 1}))
	tab.AddColNamed("v", NewI64([]int64{1, 2, 3, 4, 5}))
	out, ek := execWindow(tab, []string{"k"}, []string{"v"},
		[]WinFunc{{Op: WinNTile, Param: 2, Name: "nt"}}, true)
	require.Equal(t, ErrNone, ek)
	// 5 rows over 2 tiles: first tile holds 3 rows.
	assert.Equal(t, []int64{1, 1, 1, 2, 2}, out.GetColNamed("nt").I64s())
}

func TestWindowFirstLastNth(t *testing.T) {
	out, ek := execWindow(scenarioTable(), []string{"k"}, []string{"v"}, []WinFunc{
		{Op: WinFirstValue, Input: "v", Name: "fv"},
		{Op: WinLastValue, Input: "v", Name: "lv"},
		{Op: WinNthValue, Input: "v", Param: 2, Name: "nv"},
	}, true)
	require.Equal(t, ErrNone, ek)
	assert.Equal(t, []float64{1, 1, 3, 3, 5}, out.GetColNamed("fv").F64s())
	assert.Equal(t, []float64{2, 2, 4, 4, 5}, out.GetColNamed("lv").F64s())
	nv := out.GetColNamed("nv").F64s()
	assert.Equal(t, 2.0, nv[0])
	assert.Equal(t, 4.0, nv[2])
	assert.True(t, math.IsNaN(nv[4]), "partition of one row has no 2nd value")
}

func TestWindowNoPartitionKeys(t *testing.T) {
	out, ek := execWindow(scenarioTable(), nil, []string{"v"},
		[]WinFunc{{Op: WinRowNumber, Name: "rn"}}, true)
	require.Equal(t, ErrNone, ek)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, out.GetColNamed("rn").I64s())
}

func TestWindowThroughExecutor(t *testing.T) {
	g := NewGraph(scenarioTable())
	root := g.Window(g.ScanTable(), []string{"k"}, []string{"v"},
		[]WinFunc{{Op: WinRowNumber, Name: "rn"}}, true)
	res, err := Run(g, root)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 1, 2, 1}, res.Table().GetColNamed("rn").I64s())
}
