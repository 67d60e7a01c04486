package caravel

import (
	"math/rand"
	"testing"
)

func benchTable(n int) *Table {
	rng := rand.New(rand.NewSource(1))
	ks := make([]int64, n)
	vs := make([]float64, n)
	for i := range ks {
		ks[i] = int64(rng.Intn(1000))
		vs[i] = rng.Float64() * 1000
	}
	t := NewTable(2)
	t.AddColNamed("k", NewI64(ks))
	t.AddColNamed("v", NewF64(vs))
	return t
}

func BenchmarkGroupBySum(b *testing.B) {
	tab := benchTable(1 << 20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g := NewGraph(tab)
		root := g.Group(g.ScanTable(), []string{"k"}, []*Op{g.Scan("k")}, []AggSpec{
			{Op: OpSum, Input: g.Scan("v"), Name: "s"},
		})
		res := Execute(g, root)
		res.Release()
	}
}

func BenchmarkSortRadix(b *testing.B) {
	tab := benchTable(1 << 20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g := NewGraph(tab)
		res := Execute(g, g.Sort(g.ScanTable(), []string{"v"}, nil, nil))
		res.Release()
	}
}

func BenchmarkSortTopN(b *testing.B) {
	tab := benchTable(1 << 20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g := NewGraph(tab)
		res := Execute(g, g.Head(g.Sort(g.ScanTable(), []string{"v"}, []bool{true}, nil), 100))
		res.Release()
	}
}

func BenchmarkFilterLazy(b *testing.B) {
	tab := benchTable(1 << 20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g := NewGraph(tab)
		pred := g.Binary(OpGe, g.Scan("v"), g.Const(F64Atom(500)))
		res := Execute(g, g.Filter(g.ScanTable(), pred))
		res.Release()
	}
}

func BenchmarkExprVM(b *testing.B) {
	tab := benchTable(1 << 20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g := NewGraph(tab)
		expr := g.Binary(OpAdd,
			g.Binary(OpMul, g.Scan("v"), g.Const(F64Atom(1.5))),
			g.Scan("k"))
		res := Execute(g, expr)
		res.Release()
	}
}

func BenchmarkHashJoin(b *testing.B) {
	left := benchTable(1 << 18)
	right := benchTable(1 << 14)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g := NewGraph(left)
		root := g.Join(g.ScanTable(), g.ConstTable(right), JoinInner, []string{"k"}, []string{"k"})
		res := Execute(g, root)
		res.Release()
	}
}
