package caravel

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ioTestTable() *Table {
	t := NewTable(3)
	t.AddColNamed("k", NewI64([]int64{1, 2, 3}))
	t.AddColNamed("v", NewF64([]float64{1.5, 2.5, 3.5}))
	t.AddColNamed("s", NewSyms([]string{"x", "y", "z"}))
	return t
}

func assertTablesEqual(t *testing.T, want, got *Table) {
	t.Helper()
	require.Equal(t, want.NumRows(), got.NumRows())
	require.Equal(t, want.NumCols(), got.NumCols())
	for i := 0; i < want.NumCols(); i++ {
		name := SymStr(want.ColName(i))
		wc := want.Col(i)
		gc := got.GetColNamed(name)
		require.NotNil(t, gc, "column %s missing", name)
		for r := 0; r < want.NumRows(); r++ {
			if wc.Kind() == KindF64 {
				assert.Equal(t, wc.F64At(r), gc.F64At(r), "%s row %d", name, r)
			} else if wc.Kind() == KindSym {
				assert.Equal(t, SymStr(wc.I64At(r)), SymStr(gc.I64At(r)), "%s row %d", name, r)
			} else {
				assert.Equal(t, wc.I64At(r), gc.I64At(r), "%s row %d", name, r)
			}
		}
	}
}

func TestArrowRoundTrip(t *testing.T) {
	want := ioTestTable()
	record, err := ToArrowRecord(want, nil)
	require.NoError(t, err)
	defer record.Release()

	got, err := FromArrowRecord(record)
	require.NoError(t, err)
	assertTablesEqual(t, want, got)
}

func TestArrowIPCRoundTrip(t *testing.T) {
	want := ioTestTable()
	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		require.NoError(t, WriteTableIPC(want, &buf, compress))
		got, err := ReadTableIPC(&buf, compress)
		require.NoError(t, err)
		assertTablesEqual(t, want, got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	want := ioTestTable()
	var buf bytes.Buffer
	require.NoError(t, WriteTableJSON(want, &buf))
	got, err := ReadTableJSON(&buf)
	require.NoError(t, err)

	// JSON integers arrive as F64 columns; compare by value.
	require.Equal(t, want.NumRows(), got.NumRows())
	for r := 0; r < want.NumRows(); r++ {
		assert.Equal(t, float64(want.GetColNamed("k").I64At(r)), got.GetColNamed("k").F64At(r))
		assert.Equal(t, want.GetColNamed("v").F64At(r), got.GetColNamed("v").F64At(r))
		assert.Equal(t,
			SymStr(want.GetColNamed("s").I64At(r)),
			SymStr(got.GetColNamed("s").I64At(r)))
	}
}

func TestParquetRoundTrip(t *testing.T) {
	want := ioTestTable()
	path := filepath.Join(t.TempDir(), "t.parquet")
	require.NoError(t, WriteTableParquetFile(want, path))
	got, err := ReadTableParquetFile(path)
	require.NoError(t, err)

	require.Equal(t, want.NumRows(), got.NumRows())
	for r := 0; r < want.NumRows(); r++ {
		assert.Equal(t, want.GetColNamed("k").I64At(r), got.GetColNamed("k").I64At(r))
		assert.Equal(t, want.GetColNamed("v").F64At(r), got.GetColNamed("v").F64At(r))
		assert.Equal(t,
			SymStr(want.GetColNamed("s").I64At(r)),
			SymStr(got.GetColNamed("s").I64At(r)))
	}
}

func TestDisplay(t *testing.T) {
	tab := ioTestTable()
	s := tab.String()
	assert.Contains(t, s, "3 rows")
	assert.Contains(t, s, "k:I64")
	assert.Contains(t, s, "v:F64")

	if diff := cmp.Diff(tab.GetColNamed("k").I64s(), []int64{1, 2, 3}); diff != "" {
		t.Errorf("column mismatch (-got +want):\n%s", diff)
	}
}
