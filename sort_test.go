package caravel

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortTable(ks []int64, vs []float64) *Table {
	t := NewTable(2)
	t.AddColNamed("k", NewI64(ks))
	t.AddColNamed("v", NewF64(vs))
	return t
}

func TestSortSmallInsertion(t *testing.T) {
	tab := sortTable([]int64{3, 1, 2}, []float64{30, 10, 20})
	out, ek := execSort(tab, []string{"k"}, nil, nil, 0)
	require.Equal(t, ErrNone, ek)
	assert.Equal(t, []int64{1, 2, 3}, out.GetColNamed("k").I64s())
	assert.Equal(t, []float64{10, 20, 30}, out.GetColNamed("v").F64s())
}

func TestSortDesc(t *testing.T) {
	tab := sortTable([]int64{3, 1, 2}, []float64{30, 10, 20})
	out, ek := execSort(tab, []string{"k"}, []bool{true}, nil, 0)
	require.Equal(t, ErrNone, ek)
	assert.Equal(t, []int64{3, 2, 1}, out.GetColNamed("k").I64s())
}

// Radix sort must permute rows identically to the comparator merge sort
// for every supported key shape.
func TestRadixMatchesComparator(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	n := 50000
	ks := make([]int64, n)
	vs := make([]int64, n)
	for i := range ks {
		ks[i] = int64(rng.Intn(2000)) - 1000
		vs[i] = int64(rng.Intn(100000))
	}

	tab := NewTable(2)
	tab.AddColNamed("k", NewI64(ks))
	tab.AddColNamed("v", NewI64(vs))
	spec := resolveSortSpec(tab, []string{"k", "v"}, []bool{false, true}, nil)
	require.NotNil(t, spec)
	defer spec.release()

	require.True(t, spec.radixable())
	keys, ok := encodeSortKeys(spec, n)
	require.True(t, ok)
	radixIdx := make([]int64, n)
	for i := range radixIdx {
		radixIdx[i] = int64(i)
	}
	radixSortIdx(keys, radixIdx)

	mergeIdx := make([]int64, n)
	for i := range mergeIdx {
		mergeIdx[i] = int64(i)
	}
	mergeSortIdx(mergeIdx, spec.cmpRows)

	for i := 0; i < n; i++ {
		a, b := radixIdx[i], mergeIdx[i]
		if ks[a] != ks[b] || vs[a] != vs[b] {
			t.Fatalf("permutation diverges at row %d", i)
		}
	}
}

func TestSortF64Negatives(t *testing.T) {
	vs := []float64{-1.5, 2.25, 0, -100, 3, -0.0}
	tab := NewTable(1)
	tab.AddColNamed("v", NewF64(vs))
	out, ek := execSort(tab, []string{"v"}, nil, nil, 0)
	require.Equal(t, ErrNone, ek)
	got := out.GetColNamed("v").F64s()
	want := append([]float64{}, vs...)
	sort.Float64s(want)
	assert.Equal(t, want, got)
}

func TestSortNaNNullPolicy(t *testing.T) {
	vs := []float64{2, math.NaN(), 1, math.NaN(), 3}
	mk := func() *Table {
		tab := NewTable(1)
		tab.AddColNamed("v", NewF64(vs))
		return tab
	}

	out, ek := execSort(mk(), []string{"v"}, []bool{false}, []bool{true}, 0)
	require.Equal(t, ErrNone, ek)
	got := out.GetColNamed("v").F64s()
	assert.True(t, math.IsNaN(got[0]) && math.IsNaN(got[1]), "nulls first")
	assert.Equal(t, []float64{1, 2, 3}, got[2:])

	out, ek = execSort(mk(), []string{"v"}, []bool{false}, []bool{false}, 0)
	require.Equal(t, ErrNone, ek)
	got = out.GetColNamed("v").F64s()
	assert.Equal(t, []float64{1, 2, 3}, got[:3])
	assert.True(t, math.IsNaN(got[3]) && math.IsNaN(got[4]), "nulls last")

	out, ek = execSort(mk(), []string{"v"}, []bool{true}, []bool{true}, 0)
	require.Equal(t, ErrNone, ek)
	got = out.GetColNamed("v").F64s()
	assert.True(t, math.IsNaN(got[0]) && math.IsNaN(got[1]), "nulls first under desc")
	assert.Equal(t, []float64{3, 2, 1}, got[2:])
}

func TestSortSymByStringOrder(t *testing.T) {
	tab := NewTable(1)
	tab.AddColNamed("s", NewSyms([]string{"pear", "apple", "zebra", "mango"}))
	out, ek := execSort(tab, []string{"s"}, nil, nil, 0)
	require.Equal(t, ErrNone, ek)
	col := out.GetColNamed("s")
	got := make([]string, col.Len())
	for i := range got {
		got[i] = SymStr(col.I64At(i))
	}
	assert.Equal(t, []string{"apple", "mango", "pear", "zebra"}, got)
}

// Top-N fusion must produce exactly the first limit rows of the full sort.
func TestTopNMatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	n := 100000
	vs := make([]float64, n)
	for i := range vs {
		vs[i] = rng.Float64() * 1e6
	}
	limit := 100

	mk := func() *Table {
		tab := NewTable(1)
		tab.AddColNamed("v", NewF64(vs))
		return tab
	}
	full, ek := execSort(mk(), []string{"v"}, []bool{true}, nil, 0)
	require.Equal(t, ErrNone, ek)
	top, ek := execSort(mk(), []string{"v"}, []bool{true}, nil, limit)
	require.Equal(t, ErrNone, ek)

	require.Equal(t, limit, top.NumRows())
	for i := 0; i < limit; i++ {
		assert.Equal(t, full.GetColNamed("v").F64s()[i], top.GetColNamed("v").F64s()[i], "row %d", i)
	}
}

func TestSortIdempotent(t *testing.T) {
	tab := sortTable([]int64{5, 3, 9, 1, 7}, []float64{1, 2, 3, 4, 5})
	once, ek := execSort(tab, []string{"k"}, nil, nil, 0)
	require.Equal(t, ErrNone, ek)
	twice, ek := execSort(once, []string{"k"}, nil, nil, 0)
	require.Equal(t, ErrNone, ek)
	assert.Equal(t, once.GetColNamed("k").I64s(), twice.GetColNamed("k").I64s())
	assert.Equal(t, once.GetColNamed("v").F64s(), twice.GetColNamed("v").F64s())
}

func TestEncodeF64Order(t *testing.T) {
	vals := []float64{math.Inf(-1), -1e300, -1, -1e-300, 0, 1e-300, 1, 1e300, math.Inf(1)}
	for i := 1; i < len(vals); i++ {
		if encodeF64(vals[i-1]) >= encodeF64(vals[i]) {
			t.Fatalf("encoding not monotone between %v and %v", vals[i-1], vals[i])
		}
	}
}

func TestEncodeI64Order(t *testing.T) {
	vals := []int64{math.MinInt64, -5, -1, 0, 1, 5, math.MaxInt64}
	for i := 1; i < len(vals); i++ {
		if encodeI64(vals[i-1]) >= encodeI64(vals[i]) {
			t.Fatalf("encoding not monotone between %d and %d", vals[i-1], vals[i])
		}
	}
}
