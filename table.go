package caravel

// Table is an ordered list of (name symbol id, column) pairs. All columns
// of a table share a row count; parted columns count the sum of their
// segment lengths.
type Table struct {
	names []int64
	cols  []*Column
}

// NewTable creates an empty table with capacity for ncols columns.
func NewTable(ncols int) *Table {
	return &Table{
		names: make([]int64, 0, ncols),
		cols:  make([]*Column, 0, ncols),
	}
}

// AddCol appends a column under a name symbol id. Ownership of one
// reference transfers to the table.
func (t *Table) AddCol(nameSym int64, col *Column) {
	t.names = append(t.names, nameSym)
	t.cols = append(t.cols, col)
}

// AddColNamed appends a column, interning the name.
func (t *Table) AddColNamed(name string, col *Column) {
	t.AddCol(SymIntern(name), col)
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.cols) }

// NumRows returns the shared row count, 0 for an empty table.
func (t *Table) NumRows() int {
	if len(t.cols) == 0 {
		return 0
	}
	return t.cols[0].Len()
}

// Col returns the i-th column.
func (t *Table) Col(i int) *Column { return t.cols[i] }

// ColName returns the name symbol id of the i-th column.
func (t *Table) ColName(i int) int64 { return t.names[i] }

// ColIdx returns the index of the column named by sym, or -1.
func (t *Table) ColIdx(nameSym int64) int {
	for i, n := range t.names {
		if n == nameSym {
			return i
		}
	}
	return -1
}

// GetCol returns the column named by sym, nil if absent.
func (t *Table) GetCol(nameSym int64) *Column {
	if i := t.ColIdx(nameSym); i >= 0 {
		return t.cols[i]
	}
	return nil
}

// GetColNamed returns the column with the given name, nil if absent.
func (t *Table) GetColNamed(name string) *Column {
	id := SymFind(name)
	if id < 0 {
		return nil
	}
	return t.GetCol(id)
}

// SetColName renames the i-th column.
func (t *Table) SetColName(i int, nameSym int64) { t.names[i] = nameSym }

// Retain increments the reference count of every column.
func (t *Table) Retain() *Table {
	for _, c := range t.cols {
		c.Retain()
	}
	return t
}

// Release drops one reference from every column.
func (t *Table) Release() {
	for _, c := range t.cols {
		c.Release()
	}
}

// emptyLike returns a zero-row table with the same schema.
func (t *Table) emptyLike() *Table {
	out := NewTable(t.NumCols())
	for i, c := range t.cols {
		k := c.Kind()
		if k == KindParted || k == KindMapCommon {
			k = c.partedBase()
		}
		var nc *Column
		if k == KindSym {
			nc = NewSymVec(c.attrs, 0)
		} else {
			nc = NewVec(k, 0)
		}
		out.AddCol(t.names[i], nc)
	}
	return out
}

// hasParted reports whether any column is segmented.
func (t *Table) hasParted() bool {
	for _, c := range t.cols {
		if c.isParted() {
			return true
		}
	}
	return false
}
