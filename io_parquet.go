package caravel

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// Parquet boundary: tables persist to and load from Parquet row groups.
// Symbols round-trip as byte-array strings.

// WriteTableParquet writes a table to a Parquet stream.
func WriteTableParquet(t *Table, w io.Writer) error {
	if t.NumCols() == 0 {
		return nil
	}

	group := make(parquet.Group)
	for i := 0; i < t.NumCols(); i++ {
		name := SymStr(t.ColName(i))
		node, err := kindToParquetNode(flatKind(t.Col(i)))
		if err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
		group[name] = node
	}
	schema := parquet.NewSchema("table", group)

	// Group fields come back sorted; write row values in schema order.
	fields := schema.Fields()
	cols := make([]*Column, len(fields))
	for i, f := range fields {
		c := t.GetColNamed(f.Name())
		if c.isParted() {
			c = c.materialize()
			defer c.Release()
		}
		cols[i] = c
	}

	pw := parquet.NewWriter(w, schema)
	defer pw.Close()

	const batchSize = 1000
	height := t.NumRows()
	rows := make([]parquet.Row, 0, batchSize)
	for r := 0; r < height; r++ {
		row := make(parquet.Row, len(fields))
		for j, c := range cols {
			row[j] = parquetValue(c, r)
		}
		rows = append(rows, row)
		if len(rows) >= batchSize {
			if _, err := pw.WriteRows(rows); err != nil {
				return fmt.Errorf("parquet write at row %d: %w", r, err)
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if _, err := pw.WriteRows(rows); err != nil {
			return fmt.Errorf("parquet write final batch: %w", err)
		}
	}
	return pw.Close()
}

// WriteTableParquetFile writes a table to a Parquet file on disk.
func WriteTableParquetFile(t *Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return WriteTableParquet(t, f)
}

func flatKind(c *Column) Kind {
	if c.isParted() {
		return c.partedBase()
	}
	return c.Kind()
}

func kindToParquetNode(k Kind) (parquet.Node, error) {
	switch k {
	case KindF64:
		return parquet.Leaf(parquet.DoubleType), nil
	case KindI64, KindTimestamp:
		return parquet.Leaf(parquet.Int64Type), nil
	case KindI32, KindI16, KindU8, KindDate, KindTime:
		return parquet.Leaf(parquet.Int32Type), nil
	case KindBool:
		return parquet.Leaf(parquet.BooleanType), nil
	case KindSym:
		return parquet.Leaf(parquet.ByteArrayType), nil
	default:
		return nil, fmt.Errorf("unsupported kind: %s", k)
	}
}

func parquetValue(c *Column, row int) parquet.Value {
	switch c.Kind() {
	case KindF64:
		return parquet.DoubleValue(c.F64s()[row])
	case KindI64, KindTimestamp:
		return parquet.Int64Value(c.I64At(row))
	case KindI32, KindI16, KindU8, KindDate, KindTime:
		return parquet.Int32Value(int32(c.I64At(row)))
	case KindBool:
		return parquet.BooleanValue(c.Bools()[row] != 0)
	case KindSym:
		return parquet.ByteArrayValue([]byte(SymStr(c.I64At(row))))
	default:
		return parquet.NullValue()
	}
}

// ReadTableParquet reads a Parquet file into a table.
func ReadTableParquet(r io.ReaderAt, size int64) (*Table, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	schema := pf.Schema()
	fields := schema.Fields()

	type builder struct {
		kind  Kind
		f64   []float64
		i64   []int64
		i32   []int32
		bools []bool
		strs  []string
	}
	builders := make([]builder, len(fields))
	for i, f := range fields {
		switch f.Type().Kind() {
		case parquet.Double, parquet.Float:
			builders[i].kind = KindF64
		case parquet.Int64:
			builders[i].kind = KindI64
		case parquet.Int32:
			builders[i].kind = KindI32
		case parquet.Boolean:
			builders[i].kind = KindBool
		case parquet.ByteArray, parquet.FixedLenByteArray:
			builders[i].kind = KindSym
		default:
			return nil, fmt.Errorf("column %s: unsupported parquet type", f.Name())
		}
	}

	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		buf := make([]parquet.Row, 1024)
		for {
			n, err := rows.ReadRows(buf)
			if err != nil && err != io.EOF {
				rows.Close()
				return nil, fmt.Errorf("parquet read: %w", err)
			}
			if n == 0 {
				break
			}
			for _, row := range buf[:n] {
				for ci, val := range row {
					b := &builders[ci]
					switch b.kind {
					case KindF64:
						b.f64 = append(b.f64, val.Double())
					case KindI64:
						b.i64 = append(b.i64, val.Int64())
					case KindI32:
						b.i32 = append(b.i32, val.Int32())
					case KindBool:
						b.bools = append(b.bools, val.Boolean())
					case KindSym:
						b.strs = append(b.strs, string(val.ByteArray()))
					}
				}
			}
			if err == io.EOF {
				break
			}
		}
		rows.Close()
	}

	out := NewTable(len(fields))
	for i, f := range fields {
		b := &builders[i]
		var col *Column
		switch b.kind {
		case KindF64:
			col = NewF64(b.f64)
		case KindI64:
			col = NewI64(b.i64)
		case KindI32:
			col = NewI32(b.i32)
		case KindBool:
			col = NewBool(b.bools)
		case KindSym:
			col = NewSyms(b.strs)
		}
		out.AddColNamed(f.Name(), col)
	}
	return out, nil
}

// ReadTableParquetFile reads a Parquet file on disk into a table.
func ReadTableParquetFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return ReadTableParquet(f, st.Size())
}
