package caravel

import (
	"math"
	"testing"
)

func TestColumnAccessors(t *testing.T) {
	c := NewF64([]float64{1.5, 2.5, 3.5})
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	if c.F64At(1) != 2.5 {
		t.Errorf("F64At(1) = %v, want 2.5", c.F64At(1))
	}
	if c.I64At(2) != 3 {
		t.Errorf("I64At(2) = %v, want 3 (truncated)", c.I64At(2))
	}

	ic := NewI64([]int64{-7, 0, 9})
	if ic.F64At(0) != -7.0 {
		t.Errorf("F64At(0) = %v, want -7", ic.F64At(0))
	}
}

func TestAtoms(t *testing.T) {
	a := F64Atom(4.25)
	if !a.IsAtom() || a.Kind() != KindF64 {
		t.Fatalf("F64Atom: atom=%v kind=%v", a.IsAtom(), a.Kind())
	}
	if a.F64At(0) != 4.25 {
		t.Errorf("value = %v, want 4.25", a.F64At(0))
	}
	// Atoms broadcast: any row reads the single value.
	if a.F64At(17) != 4.25 {
		t.Errorf("broadcast read = %v, want 4.25", a.F64At(17))
	}

	s := StrAtom("hello")
	if s.Kind() != KindStr || s.Str() != "hello" {
		t.Errorf("StrAtom = %q kind %v", s.Str(), s.Kind())
	}
}

func TestAdaptiveSymWidth(t *testing.T) {
	if symWidthAttr(200) != 0 {
		t.Errorf("width attr for 200 = %d, want 0 (1 byte)", symWidthAttr(200))
	}
	if symWidthAttr(60000) != 1 {
		t.Errorf("width attr for 60000 = %d, want 1 (2 bytes)", symWidthAttr(60000))
	}
	if symWidthAttr(1<<20) != 2 {
		t.Errorf("width attr for 2^20 = %d, want 2 (4 bytes)", symWidthAttr(1<<20))
	}

	c := NewSyms([]string{"a", "b", "a", "c"})
	if c.Kind() != KindSym {
		t.Fatalf("kind = %v", c.Kind())
	}
	if c.I64At(0) != c.I64At(2) {
		t.Errorf("same string interned to different ids")
	}
	if SymStr(c.I64At(3)) != "c" {
		t.Errorf("round trip = %q, want c", SymStr(c.I64At(3)))
	}
}

func TestSymTable(t *testing.T) {
	id := SymIntern("caravel-test-unique-xyzzy")
	if SymFind("caravel-test-unique-xyzzy") != id {
		t.Errorf("find after intern mismatch")
	}
	if SymFind("caravel-test-never-interned-qqq") != -1 {
		t.Errorf("find of absent string should be -1")
	}
	if SymIntern("caravel-test-unique-xyzzy") != id {
		t.Errorf("re-intern changed id")
	}
}

func TestPartedMaterialize(t *testing.T) {
	p := PartedCol([]*Column{
		NewI64([]int64{1, 2}),
		NewI64([]int64{3}),
		NewI64([]int64{4, 5, 6}),
	})
	if p.Len() != 6 {
		t.Fatalf("parted len = %d, want 6", p.Len())
	}
	flat := p.materialize()
	defer flat.Release()
	want := []int64{1, 2, 3, 4, 5, 6}
	got := flat.I64s()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMapCommonMaterialize(t *testing.T) {
	mc := MapCommonCol(NewI64([]int64{10, 20}), NewI64([]int64{3, 2}))
	if mc.Len() != 5 {
		t.Fatalf("mapcommon len = %d, want 5", mc.Len())
	}
	flat := mc.materialize()
	defer flat.Release()
	want := []int64{10, 10, 10, 20, 20}
	for i, w := range want {
		if flat.I64s()[i] != w {
			t.Errorf("row %d = %d, want %d", i, flat.I64s()[i], w)
		}
	}
}

func TestNullBitmap(t *testing.T) {
	c := NewF64([]float64{1, math.NaN(), 3})
	if c.IsNullAt(0) {
		t.Errorf("row 0 should not be null")
	}
	if !c.IsNullAt(1) {
		t.Errorf("NaN should read as null")
	}
	c.setNull(2)
	if !c.IsNullAt(2) {
		t.Errorf("explicit null bit not read back")
	}
}

func TestTimeCalendar(t *testing.T) {
	// 2000-01-01 is day zero of the engine epoch, a Saturday.
	if got := extractField(FieldYear, 0); got != 2000 {
		t.Errorf("year(0) = %d, want 2000", got)
	}
	if got := extractField(FieldDOW, 0); got != 6 {
		t.Errorf("dow(0) = %d, want 6 (Saturday)", got)
	}
	// 2004-02-29 exists; 2004 is a leap year.
	us := (daysFromCivil(2004, 2, 29) - epochShiftDays) * usPerDay
	if y := extractField(FieldYear, us); y != 2004 {
		t.Errorf("year = %d, want 2004", y)
	}
	if m := extractField(FieldMonth, us); m != 2 {
		t.Errorf("month = %d, want 2", m)
	}
	if d := extractField(FieldDay, us); d != 29 {
		t.Errorf("day = %d, want 29", d)
	}
	if doy := extractField(FieldDOY, us); doy != 60 {
		t.Errorf("doy = %d, want 60", doy)
	}
}

func TestCivilRoundTrip(t *testing.T) {
	for days := int64(-100000); days <= 100000; days += 37 {
		y, m, d := civilFromDays(days)
		if back := daysFromCivil(y, m, d); back != days {
			t.Fatalf("civil round trip failed at %d: got %d (%d-%d-%d)", days, back, y, m, d)
		}
	}
}
