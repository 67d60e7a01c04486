package caravel

import (
	"math/rand"
	"testing"
)

func boolPred(n int, fn func(i int) bool) *Column {
	vs := make([]bool, n)
	for i := range vs {
		vs[i] = fn(i)
	}
	return NewBool(vs)
}

func TestSelFromPredFlags(t *testing.T) {
	n := 3 * morselElems
	pred := boolPred(n, func(i int) bool {
		switch i / morselElems {
		case 0:
			return false // NONE segment
		case 1:
			return true // ALL segment
		default:
			return i%2 == 0 // MIX segment
		}
	})
	sel := selFromPred(pred)
	if sel.segs[0] != segNone {
		t.Errorf("segment 0 = %d, want NONE", sel.segs[0])
	}
	if sel.segs[1] != segAll {
		t.Errorf("segment 1 = %d, want ALL", sel.segs[1])
	}
	if sel.segs[2] != segMix {
		t.Errorf("segment 2 = %d, want MIX", sel.segs[2])
	}
	want := morselElems + morselElems/2
	if sel.totalPass != want {
		t.Errorf("totalPass = %d, want %d", sel.totalPass, want)
	}
}

func TestSelTotalPassInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 5000
	pred := boolPred(n, func(int) bool { return rng.Intn(3) == 0 })
	sel := selFromPred(pred)

	count := 0
	for i := 0; i < n; i++ {
		if selBitTest(sel.bits, i) {
			count++
		}
	}
	if count != sel.totalPass {
		t.Errorf("popcount %d != totalPass %d", count, sel.totalPass)
	}
	if len(sel.matchIndices()) != sel.totalPass {
		t.Errorf("matchIndices length mismatch")
	}
}

func TestSelAnd(t *testing.T) {
	n := 2048
	a := selFromPred(boolPred(n, func(i int) bool { return i%2 == 0 }))
	b := selFromPred(boolPred(n, func(i int) bool { return i%3 == 0 }))
	ab := selAnd(a, b)
	for i := 0; i < n; i++ {
		want := i%6 == 0
		if selBitTest(ab.bits, i) != want {
			t.Fatalf("bit %d = %v, want %v", i, !want, want)
		}
	}
	if ab.totalPass != (n+5)/6 {
		t.Errorf("totalPass = %d, want %d", ab.totalPass, (n+5)/6)
	}
}

// SEL equivalence: compacting a selection built from a predicate matches
// the eager filter row for row.
func TestSelCompactMatchesEagerFilter(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	n := 10000
	ks := make([]int64, n)
	vs := make([]float64, n)
	for i := range ks {
		ks[i] = int64(rng.Intn(50))
		vs[i] = rng.Float64() * 100
	}
	tab := NewTable(2)
	tab.AddColNamed("k", NewI64(ks))
	tab.AddColNamed("v", NewF64(vs))

	pred := boolPred(n, func(i int) bool { return vs[i] >= 50 })

	sel := selFromPred(pred)
	lazy := selCompact(tab, sel)
	eager := execFilterTable(tab, pred)

	if lazy.NumRows() != eager.NumRows() {
		t.Fatalf("row counts differ: %d vs %d", lazy.NumRows(), eager.NumRows())
	}
	for r := 0; r < lazy.NumRows(); r++ {
		if lazy.Col(0).I64At(r) != eager.Col(0).I64At(r) ||
			lazy.Col(1).F64At(r) != eager.Col(1).F64At(r) {
			t.Fatalf("row %d differs", r)
		}
	}
}

func TestGatherNullable(t *testing.T) {
	src := NewI64([]int64{10, 20, 30})
	out := gatherCol(src, []int64{2, -1, 0}, true)
	if out.I64At(0) != 30 || out.I64At(2) != 10 {
		t.Errorf("gather values wrong: %v", out.I64s())
	}
	if out.I64At(1) != 0 {
		t.Errorf("null row should read zero, got %d", out.I64At(1))
	}
	if !out.IsNullAt(1) {
		t.Errorf("null row should carry the null bit")
	}
}

func TestFusedGatherTable(t *testing.T) {
	n := 4096
	ks := make([]int64, n)
	vs := make([]float64, n)
	for i := range ks {
		ks[i] = int64(i)
		vs[i] = float64(i) / 2
	}
	tab := NewTable(2)
	tab.AddColNamed("k", NewI64(ks))
	tab.AddColNamed("v", NewF64(vs))

	idx := []int64{0, 100, 4095, 7, 2048}
	out := gatherTable(tab, idx, false)
	for i, j := range idx {
		if out.Col(0).I64At(i) != ks[j] || out.Col(1).F64At(i) != vs[j] {
			t.Fatalf("gathered row %d mismatch", i)
		}
	}
}
