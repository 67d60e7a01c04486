package caravel

// morselElems is the row window used for vectorized iteration and work
// chunking. Segment-level SEL flags and the expression VM share it.
const morselElems = 1024

// morselIter presents a column range as a sequence of <=1024-row windows.
type morselIter struct {
	row int
	end int
}

// newMorselIter iterates the whole column.
func newMorselIter(n int) morselIter { return morselIter{row: 0, end: n} }

// morselInitRange restricts iteration to [start, end) for parallel workers.
func morselInitRange(start, end int) morselIter { return morselIter{row: start, end: end} }

// next returns the next window [start, end), ok=false when exhausted.
func (m *morselIter) next() (int, int, bool) {
	if m.row >= m.end {
		return 0, 0, false
	}
	start := m.row
	end := start + morselElems
	if end > m.end {
		end = m.end
	}
	m.row = end
	return start, end, true
}

// nullWindow returns the null-bitmap word slice covering [start, end), nil
// when the column carries no bitmap.
func nullWindow(c *Column, start, end int) []uint64 {
	if c.nulls == nil {
		return nil
	}
	return c.nulls[start>>6 : (end+63)>>6]
}
