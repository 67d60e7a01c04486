package caravel

import (
	"fmt"
	"strings"
)

// Table rendering for debugging and tests: a header row with column names
// and kinds, then up to displayMaxRows rows.

const displayMaxRows = 20

// String renders the table.
func (t *Table) String() string {
	var b strings.Builder
	ncols := t.NumCols()
	nrows := t.NumRows()
	fmt.Fprintf(&b, "table [%d rows x %d cols]\n", nrows, ncols)

	names := make([]string, ncols)
	flat := make([]*Column, ncols)
	for i := 0; i < ncols; i++ {
		c := t.Col(i)
		if c.isParted() {
			flat[i] = c.materialize()
			defer flat[i].Release()
		} else {
			flat[i] = c
		}
		names[i] = fmt.Sprintf("%s:%s", SymStr(t.ColName(i)), flat[i].Kind())
	}
	b.WriteString(strings.Join(names, "  "))
	b.WriteByte('\n')

	shown := nrows
	if shown > displayMaxRows {
		shown = displayMaxRows
	}
	for r := 0; r < shown; r++ {
		cells := make([]string, ncols)
		for i := 0; i < ncols; i++ {
			cells[i] = cellString(flat[i], r)
		}
		b.WriteString(strings.Join(cells, "  "))
		b.WriteByte('\n')
	}
	if shown < nrows {
		fmt.Fprintf(&b, "... %d more rows\n", nrows-shown)
	}
	return b.String()
}

func cellString(c *Column, row int) string {
	switch c.Kind() {
	case KindF64:
		return fmt.Sprintf("%g", c.F64At(row))
	case KindBool:
		if c.Bools()[row] != 0 {
			return "true"
		}
		return "false"
	case KindSym:
		return SymStr(c.I64At(row))
	case KindStr:
		return c.Str()
	default:
		return fmt.Sprintf("%d", c.I64At(row))
	}
}

// String renders a column or atom result.
func (c *Column) String() string {
	if c == nil {
		return "<nil>"
	}
	if isErr(c) {
		return "'" + c.errKind.String()
	}
	switch c.Kind() {
	case KindTable:
		return c.tab.String()
	case KindParted, KindMapCommon:
		flat := c.materialize()
		defer flat.Release()
		return flat.String()
	}
	if c.IsAtom() {
		return cellString(c, 0)
	}
	var b strings.Builder
	n := c.Len()
	shown := n
	if shown > displayMaxRows {
		shown = displayMaxRows
	}
	b.WriteByte('[')
	for i := 0; i < shown; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(cellString(c, i))
	}
	if shown < n {
		fmt.Fprintf(&b, " ... +%d", n-shown)
	}
	b.WriteByte(']')
	return b.String()
}
