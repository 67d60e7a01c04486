package caravel

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Column is a typed flat byte buffer with a reference-counted header.
// Atoms (singleton values) use the negative-type convention: typ < 0 means
// an atom of Kind(-typ) whose single value lives in the data buffer.
// Table, parted and map-common columns hold their payload in tab / parts
// instead of data.
type Column struct {
	typ     int8
	attrs   uint8
	length  int
	refs    atomic.Int32
	data    []byte
	nulls   []uint64 // optional null bitmap, bit set = null
	tab     *Table
	parts   []*Column // KindParted segments; KindMapCommon {values, counts}
	errKind ErrKind
}

// Kind returns the element kind, folding away the atom convention.
func (c *Column) Kind() Kind {
	if c.typ < 0 {
		return Kind(-c.typ)
	}
	return Kind(c.typ)
}

// IsAtom reports whether the column is a singleton-valued atom.
func (c *Column) IsAtom() bool { return c.typ < 0 }

// Len returns the logical row count. Parted columns report the sum of
// their segment lengths.
func (c *Column) Len() int { return c.length }

// Attrs returns the attribute byte (symbol width, flags).
func (c *Column) Attrs() uint8 { return c.attrs }

// Retain increments the reference count and returns the column.
func (c *Column) Retain() *Column {
	if c == nil || c.Kind() == KindErr {
		return c
	}
	c.refs.Add(1)
	return c
}

// Release drops one reference. When the count reaches zero the column
// releases its children; buffer memory is reclaimed by the runtime.
func (c *Column) Release() {
	if c == nil || c.Kind() == KindErr {
		return
	}
	if c.refs.Add(-1) > 0 {
		return
	}
	for _, p := range c.parts {
		p.Release()
	}
	c.parts = nil
	if c.tab != nil {
		c.tab.Release()
		c.tab = nil
	}
	c.data = nil
	c.nulls = nil
}

// ============================================================================
// Constructors
// ============================================================================

// NewVec allocates a vector column of n elements, zero-filled.
func NewVec(kind Kind, n int) *Column {
	esz := kind.ElemSize(0)
	c := &Column{typ: int8(kind), length: n}
	c.refs.Store(1)
	if n > 0 && esz > 0 {
		c.data = make([]byte, n*esz)
	}
	return c
}

// NewSymVec allocates a symbol vector with an explicit width attribute.
func NewSymVec(widthAttr uint8, n int) *Column {
	c := &Column{typ: int8(KindSym), attrs: widthAttr & attrSymWidthMask, length: n}
	c.refs.Store(1)
	if n > 0 {
		c.data = make([]byte, n<<(widthAttr&attrSymWidthMask))
	}
	return c
}

// newAtom builds a singleton column of the given kind.
func newAtom(kind Kind, esz int) *Column {
	c := &Column{typ: -int8(kind), length: 1, data: make([]byte, esz)}
	c.refs.Store(1)
	return c
}

// F64Atom constructs a float atom.
func F64Atom(v float64) *Column {
	c := newAtom(KindF64, 8)
	*(*float64)(unsafe.Pointer(&c.data[0])) = v
	return c
}

// I64Atom constructs an integer atom.
func I64Atom(v int64) *Column {
	c := newAtom(KindI64, 8)
	*(*int64)(unsafe.Pointer(&c.data[0])) = v
	return c
}

// BoolAtom constructs a boolean atom.
func BoolAtom(v bool) *Column {
	c := newAtom(KindBool, 1)
	if v {
		c.data[0] = 1
	}
	return c
}

// SymAtom constructs a symbol atom holding an intern id at full width.
func SymAtom(id int64) *Column {
	c := newAtom(KindSym, 8)
	c.attrs = 3
	*(*int64)(unsafe.Pointer(&c.data[0])) = id
	return c
}

// StrAtom constructs a string atom over a copy of s.
func StrAtom(s string) *Column {
	c := &Column{typ: -int8(KindStr), length: len(s), data: []byte(s)}
	c.refs.Store(1)
	return c
}

// TimestampAtom constructs a timestamp atom (micros since 2000-01-01).
func TimestampAtom(us int64) *Column {
	c := newAtom(KindTimestamp, 8)
	*(*int64)(unsafe.Pointer(&c.data[0])) = us
	return c
}

// TableCol wraps a table in a column header so operators can pass tables
// through result slots.
func TableCol(t *Table) *Column {
	c := &Column{typ: int8(KindTable), length: t.NumRows(), tab: t}
	c.refs.Store(1)
	return c
}

// PartedCol builds a parted column over segment columns. The concatenation
// order of segs is the logical row order.
func PartedCol(segs []*Column) *Column {
	n := 0
	for _, s := range segs {
		n += s.Len()
	}
	c := &Column{typ: int8(KindParted), length: n, parts: segs}
	c.refs.Store(1)
	return c
}

// MapCommonCol pairs one key value per partition with per-partition row
// counts. Logically a parted column whose value is constant within each
// partition.
func MapCommonCol(values *Column, counts *Column) *Column {
	n := 0
	cs := counts.I64s()
	for _, v := range cs {
		n += int(v)
	}
	c := &Column{typ: int8(KindMapCommon), length: n, parts: []*Column{values, counts}}
	c.refs.Store(1)
	return c
}

// NewF64 builds an F64 vector over a copy of vs.
func NewF64(vs []float64) *Column {
	c := NewVec(KindF64, len(vs))
	copy(c.F64s(), vs)
	return c
}

// NewI64 builds an I64 vector over a copy of vs.
func NewI64(vs []int64) *Column {
	c := NewVec(KindI64, len(vs))
	copy(c.I64s(), vs)
	return c
}

// NewI32 builds an I32 vector over a copy of vs.
func NewI32(vs []int32) *Column {
	c := NewVec(KindI32, len(vs))
	copy(c.I32s(), vs)
	return c
}

// NewBool builds a Bool vector over vs.
func NewBool(vs []bool) *Column {
	c := NewVec(KindBool, len(vs))
	d := c.data
	for i, v := range vs {
		if v {
			d[i] = 1
		}
	}
	return c
}

// NewSyms interns each string and builds a symbol vector at the narrowest
// width that fits the current intern table.
func NewSyms(vs []string) *Column {
	ids := make([]int64, len(vs))
	var maxID int64
	for i, s := range vs {
		ids[i] = SymIntern(s)
		if ids[i] > maxID {
			maxID = ids[i]
		}
	}
	c := NewSymVec(symWidthAttr(maxID), len(vs))
	for i, id := range ids {
		writeColI64(c.data, i, KindSym, c.attrs, id)
	}
	return c
}

// ============================================================================
// Typed views
// ============================================================================

// F64s returns the data buffer viewed as float64 elements.
func (c *Column) F64s() []float64 {
	if len(c.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&c.data[0])), c.length)
}

// I64s returns the data buffer viewed as int64 elements.
func (c *Column) I64s() []int64 {
	if len(c.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&c.data[0])), c.length)
}

// I32s returns the data buffer viewed as int32 elements.
func (c *Column) I32s() []int32 {
	if len(c.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&c.data[0])), c.length)
}

// I16s returns the data buffer viewed as int16 elements.
func (c *Column) I16s() []int16 {
	if len(c.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int16)(unsafe.Pointer(&c.data[0])), c.length)
}

// U8s returns the data buffer viewed as bytes.
func (c *Column) U8s() []byte { return c.data[:c.length] }

// Bools returns the bool buffer; one byte per element, nonzero = true.
func (c *Column) Bools() []byte { return c.data[:c.length] }

// Table returns the wrapped table of a KindTable column.
func (c *Column) Table() *Table { return c.tab }

// Parts returns the segment columns of a parted column.
func (c *Column) Parts() []*Column { return c.parts }

// Str returns the bytes of a string column or atom as a string.
func (c *Column) Str() string { return string(c.data) }

// ============================================================================
// Element accessors
// ============================================================================

// readColI64 reads one element of an integer-representable column,
// widening to int64. Dispatches on kind and symbol width.
func readColI64(data []byte, row int, k Kind, attrs uint8) int64 {
	switch k {
	case KindBool, KindU8:
		return int64(data[row])
	case KindI16:
		return int64(*(*int16)(unsafe.Pointer(&data[row*2])))
	case KindI32, KindDate, KindTime:
		return int64(*(*int32)(unsafe.Pointer(&data[row*4])))
	case KindI64, KindTimestamp:
		return *(*int64)(unsafe.Pointer(&data[row*8]))
	case KindSym:
		switch attrs & attrSymWidthMask {
		case 0:
			return int64(data[row])
		case 1:
			return int64(*(*uint16)(unsafe.Pointer(&data[row*2])))
		case 2:
			return int64(*(*uint32)(unsafe.Pointer(&data[row*4])))
		default:
			return *(*int64)(unsafe.Pointer(&data[row*8]))
		}
	case KindF64:
		return int64(*(*float64)(unsafe.Pointer(&data[row*8])))
	default:
		return 0
	}
}

// writeColI64 writes one element, narrowing from int64 per kind and width.
func writeColI64(data []byte, row int, k Kind, attrs uint8, v int64) {
	switch k {
	case KindBool, KindU8:
		data[row] = byte(v)
	case KindI16:
		*(*int16)(unsafe.Pointer(&data[row*2])) = int16(v)
	case KindI32, KindDate, KindTime:
		*(*int32)(unsafe.Pointer(&data[row*4])) = int32(v)
	case KindI64, KindTimestamp:
		*(*int64)(unsafe.Pointer(&data[row*8])) = v
	case KindSym:
		switch attrs & attrSymWidthMask {
		case 0:
			data[row] = byte(v)
		case 1:
			*(*uint16)(unsafe.Pointer(&data[row*2])) = uint16(v)
		case 2:
			*(*uint32)(unsafe.Pointer(&data[row*4])) = uint32(v)
		default:
			*(*int64)(unsafe.Pointer(&data[row*8])) = v
		}
	case KindF64:
		*(*float64)(unsafe.Pointer(&data[row*8])) = float64(v)
	}
}

// I64At reads one element widened to int64.
func (c *Column) I64At(row int) int64 {
	if c.IsAtom() {
		row = 0
	}
	return readColI64(c.data, row, c.Kind(), c.attrs)
}

// F64At reads one element converted to float64 from any numeric kind.
func (c *Column) F64At(row int) float64 {
	if c.IsAtom() {
		row = 0
	}
	if c.Kind() == KindF64 {
		return *(*float64)(unsafe.Pointer(&c.data[row*8]))
	}
	return float64(readColI64(c.data, row, c.Kind(), c.attrs))
}

// IsNullAt tests the optional null bitmap; F64 NaN also counts as null.
func (c *Column) IsNullAt(row int) bool {
	if c.nulls != nil && c.nulls[row>>6]&(1<<(uint(row)&63)) != 0 {
		return true
	}
	if c.Kind() == KindF64 {
		return math.IsNaN(c.F64At(row))
	}
	return false
}

// setNull marks a row in the null bitmap, allocating it on first use.
func (c *Column) setNull(row int) {
	if c.nulls == nil {
		c.nulls = make([]uint64, (c.length+63)/64)
	}
	c.nulls[row>>6] |= 1 << (uint(row) & 63)
}

// elemSize returns the byte width of this column's elements.
func (c *Column) elemSize() int { return c.Kind().ElemSize(c.attrs) }

// isParted reports whether the column is segmented (parted or map-common).
func (c *Column) isParted() bool {
	k := c.Kind()
	return k == KindParted || k == KindMapCommon
}

// partedBase returns the base kind of a parted column's segments.
func (c *Column) partedBase() Kind {
	if c.Kind() == KindMapCommon {
		return c.parts[0].Kind()
	}
	if len(c.parts) == 0 {
		return KindI64
	}
	return c.parts[0].Kind()
}

// materialize flattens a parted or map-common column into a plain vector.
// Plain columns are returned retained as-is.
func (c *Column) materialize() *Column {
	switch c.Kind() {
	case KindParted:
		base := c.partedBase()
		var out *Column
		if base == KindSym {
			out = NewSymVec(3, c.length)
		} else {
			out = NewVec(base, c.length)
		}
		at := 0
		esz := out.elemSize()
		for _, seg := range c.parts {
			if seg.Kind() == base && seg.elemSize() == esz {
				copy(out.data[at*esz:], seg.data[:seg.Len()*esz])
			} else {
				for i := 0; i < seg.Len(); i++ {
					writeColI64(out.data, at+i, base, out.attrs, seg.I64At(i))
				}
			}
			at += seg.Len()
		}
		return out
	case KindMapCommon:
		vals, counts := c.parts[0], c.parts[1]
		base := vals.Kind()
		var out *Column
		if base == KindSym {
			out = NewSymVec(3, c.length)
		} else {
			out = NewVec(base, c.length)
		}
		at := 0
		cs := counts.I64s()
		for p := 0; p < vals.Len(); p++ {
			if base == KindF64 {
				v := vals.F64At(p)
				dst := out.F64s()
				for i := int64(0); i < cs[p]; i++ {
					dst[at] = v
					at++
				}
			} else {
				v := vals.I64At(p)
				for i := int64(0); i < cs[p]; i++ {
					writeColI64(out.data, at, base, out.attrs, v)
					at++
				}
			}
		}
		return out
	default:
		return c.Retain()
	}
}
