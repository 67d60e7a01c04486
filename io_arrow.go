package caravel

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/klauspost/compress/zstd"
)

// Arrow interop: tables cross the storage boundary as Arrow records. The
// IPC stream form carries tables between processes, optionally wrapped in
// zstd.

// ============================================================================
// Export
// ============================================================================

// ToArrowRecord exports a table to an Arrow Record. The caller releases
// the returned record.
func ToArrowRecord(t *Table, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	fields := make([]arrow.Field, t.NumCols())
	arrays := make([]arrow.Array, t.NumCols())
	for i := 0; i < t.NumCols(); i++ {
		col := t.Col(i)
		name := SymStr(t.ColName(i))
		src := col
		if col.isParted() {
			src = col.materialize()
			defer src.Release()
		}
		at, err := kindToArrowType(src.Kind())
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		fields[i] = arrow.Field{Name: name, Type: at, Nullable: true}
		arr, err := colToArrowArray(src, mem)
		if err != nil {
			for j := 0; j < i; j++ {
				arrays[j].Release()
			}
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		arrays[i] = arr
	}
	schema := arrow.NewSchema(fields, nil)
	record := array.NewRecord(schema, arrays, int64(t.NumRows()))
	for _, arr := range arrays {
		arr.Release()
	}
	return record, nil
}

func kindToArrowType(k Kind) (arrow.DataType, error) {
	switch k {
	case KindF64:
		return arrow.PrimitiveTypes.Float64, nil
	case KindI64, KindTimestamp:
		return arrow.PrimitiveTypes.Int64, nil
	case KindI32, KindDate, KindTime:
		return arrow.PrimitiveTypes.Int32, nil
	case KindI16:
		return arrow.PrimitiveTypes.Int16, nil
	case KindU8:
		return arrow.PrimitiveTypes.Uint8, nil
	case KindBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case KindSym:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, fmt.Errorf("unsupported kind: %s", k)
	}
}

func colToArrowArray(c *Column, mem memory.Allocator) (arrow.Array, error) {
	n := c.Len()
	switch c.Kind() {
	case KindF64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(c.F64s(), nil)
		return b.NewArray(), nil
	case KindI64, KindTimestamp:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(c.I64s(), nil)
		return b.NewArray(), nil
	case KindI32, KindDate, KindTime:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		b.AppendValues(c.I32s(), nil)
		return b.NewArray(), nil
	case KindI16:
		b := array.NewInt16Builder(mem)
		defer b.Release()
		b.AppendValues(c.I16s(), nil)
		return b.NewArray(), nil
	case KindU8:
		b := array.NewUint8Builder(mem)
		defer b.Release()
		b.AppendValues(c.U8s(), nil)
		return b.NewArray(), nil
	case KindBool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for _, v := range c.Bools() {
			b.Append(v != 0)
		}
		return b.NewArray(), nil
	case KindSym:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(SymStr(c.I64At(i)))
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("unsupported kind for Arrow export: %s", c.Kind())
	}
}

// ============================================================================
// Import
// ============================================================================

// FromArrowRecord imports an Arrow Record as a table.
func FromArrowRecord(record arrow.Record) (*Table, error) {
	if record == nil {
		return nil, fmt.Errorf("record is nil")
	}
	schema := record.Schema()
	out := NewTable(int(record.NumCols()))
	for i := 0; i < int(record.NumCols()); i++ {
		field := schema.Field(i)
		col, err := arrowArrayToCol(record.Column(i))
		if err != nil {
			out.Release()
			return nil, fmt.Errorf("column %s: %w", field.Name, err)
		}
		out.AddColNamed(field.Name, col)
	}
	return out, nil
}

func arrowArrayToCol(arr arrow.Array) (*Column, error) {
	switch a := arr.(type) {
	case *array.Float64:
		out := NewVec(KindF64, a.Len())
		copy(out.F64s(), a.Float64Values())
		return out, nil
	case *array.Int64:
		out := NewVec(KindI64, a.Len())
		copy(out.I64s(), a.Int64Values())
		return out, nil
	case *array.Int32:
		out := NewVec(KindI32, a.Len())
		copy(out.I32s(), a.Int32Values())
		return out, nil
	case *array.Int16:
		out := NewVec(KindI16, a.Len())
		copy(out.I16s(), a.Int16Values())
		return out, nil
	case *array.Uint8:
		out := NewVec(KindU8, a.Len())
		copy(out.U8s(), a.Uint8Values())
		return out, nil
	case *array.Boolean:
		out := NewVec(KindBool, a.Len())
		dst := out.Bools()
		for i := 0; i < a.Len(); i++ {
			if a.Value(i) {
				dst[i] = 1
			}
		}
		return out, nil
	case *array.String:
		strs := make([]string, a.Len())
		for i := 0; i < a.Len(); i++ {
			strs[i] = a.Value(i)
		}
		return NewSyms(strs), nil
	default:
		return nil, fmt.Errorf("unsupported Arrow array type: %T", arr)
	}
}

// ============================================================================
// IPC stream
// ============================================================================

// WriteTableIPC writes a table as an Arrow IPC stream, zstd-compressed
// when compress is set.
func WriteTableIPC(t *Table, w io.Writer, compress bool) error {
	record, err := ToArrowRecord(t, nil)
	if err != nil {
		return err
	}
	defer record.Release()

	out := w
	var zw *zstd.Encoder
	if compress {
		zw, err = zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		out = zw
	}
	wr := ipc.NewWriter(out, ipc.WithSchema(record.Schema()))
	if err := wr.Write(record); err != nil {
		wr.Close()
		return fmt.Errorf("ipc write: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("ipc close: %w", err)
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}

// ReadTableIPC reads one table from an Arrow IPC stream.
func ReadTableIPC(r io.Reader, compressed bool) (*Table, error) {
	in := r
	if compressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		in = zr
	}
	rdr, err := ipc.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("ipc reader: %w", err)
	}
	defer rdr.Release()
	if !rdr.Next() {
		return nil, fmt.Errorf("ipc stream holds no record")
	}
	return FromArrowRecord(rdr.Record())
}
