package caravel

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// Row-oriented JSON boundary: a table serializes as an array of row
// objects. Import infers column kinds from the first row and builds the
// columns concurrently.

// WriteTableJSON writes a table as an array of row objects.
func WriteTableJSON(t *Table, w io.Writer) error {
	names := make([]string, t.NumCols())
	flat := make([]*Column, t.NumCols())
	for i := 0; i < t.NumCols(); i++ {
		names[i] = SymStr(t.ColName(i))
		c := t.Col(i)
		if c.isParted() {
			flat[i] = c.materialize()
			defer flat[i].Release()
		} else {
			flat[i] = c
		}
	}
	rows := make([]map[string]any, t.NumRows())
	for r := range rows {
		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = jsonCell(flat[i], r)
		}
		rows[r] = row
	}
	enc := json.NewEncoder(w)
	return enc.Encode(rows)
}

func jsonCell(c *Column, row int) any {
	switch c.Kind() {
	case KindF64:
		return c.F64s()[row]
	case KindBool:
		return c.Bools()[row] != 0
	case KindSym:
		return SymStr(c.I64At(row))
	default:
		return c.I64At(row)
	}
}

// ReadTableJSON reads an array of row objects into a table. Column kinds
// come from the first row: numbers become F64, strings symbols, booleans
// bools.
func ReadTableJSON(r io.Reader) (*Table, error) {
	var rows []map[string]any
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	if len(rows) == 0 {
		return NewTable(0), nil
	}

	names := make([]string, 0, len(rows[0]))
	for name := range rows[0] {
		names = append(names, name)
	}

	cols := make([]*Column, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			switch rows[0][name].(type) {
			case float64:
				vs := make([]float64, len(rows))
				for r := range rows {
					v, ok := rows[r][name].(float64)
					if !ok {
						return fmt.Errorf("column %s row %d: not a number", name, r)
					}
					vs[r] = v
				}
				cols[i] = NewF64(vs)
			case bool:
				vs := make([]bool, len(rows))
				for r := range rows {
					v, ok := rows[r][name].(bool)
					if !ok {
						return fmt.Errorf("column %s row %d: not a bool", name, r)
					}
					vs[r] = v
				}
				cols[i] = NewBool(vs)
			case string:
				vs := make([]string, len(rows))
				for r := range rows {
					v, ok := rows[r][name].(string)
					if !ok {
						return fmt.Errorf("column %s row %d: not a string", name, r)
					}
					vs[r] = v
				}
				cols[i] = NewSyms(vs)
			default:
				return fmt.Errorf("column %s: unsupported value type %T", name, rows[0][name])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
		return nil, err
	}
	out := NewTable(len(names))
	for i, name := range names {
		out.AddColNamed(name, cols[i])
	}
	return out, nil
}

// ReadTableJSONFile reads a JSON file on disk into a table.
func ReadTableJSONFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadTableJSON(f)
}
