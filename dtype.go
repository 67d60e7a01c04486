package caravel

import "fmt"

// Kind is the element type tag of a Column.
type Kind int8

const (
	KindErr Kind = iota // error sentinel, carries an ErrKind
	KindBool
	KindU8
	KindI16
	KindI32
	KindI64
	KindF64
	KindSym       // interned symbol id, adaptive width 1/2/4/8 bytes
	KindTimestamp // microseconds since 2000-01-01T00:00:00
	KindDate      // days since 2000-01-01
	KindTime      // milliseconds since midnight
	KindStr       // contiguous byte string
	KindTable     // column container
	KindParted    // array of segment columns sharing a base type
	KindMapCommon // per-partition key values paired with row counts
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindErr:
		return "Err"
	case KindBool:
		return "Bool"
	case KindU8:
		return "U8"
	case KindI16:
		return "I16"
	case KindI32:
		return "I32"
	case KindI64:
		return "I64"
	case KindF64:
		return "F64"
	case KindSym:
		return "Sym"
	case KindTimestamp:
		return "Timestamp"
	case KindDate:
		return "Date"
	case KindTime:
		return "Time"
	case KindStr:
		return "Str"
	case KindTable:
		return "Table"
	case KindParted:
		return "Parted"
	case KindMapCommon:
		return "MapCommon"
	default:
		return fmt.Sprintf("Unknown(%d)", int8(k))
	}
}

// IsNumeric returns true for kinds the arithmetic kernels accept.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindBool, KindU8, KindI16, KindI32, KindI64, KindF64,
		KindTimestamp, KindDate, KindTime:
		return true
	default:
		return false
	}
}

// IsInteger returns true for integer-representable kinds, symbols included.
func (k Kind) IsInteger() bool {
	switch k {
	case KindBool, KindU8, KindI16, KindI32, KindI64, KindSym,
		KindTimestamp, KindDate, KindTime:
		return true
	default:
		return false
	}
}

// IsFloat returns true for floating-point kinds.
func (k Kind) IsFloat() bool { return k == KindF64 }

// attrs bits: low two bits hold log2 of the symbol element width.
const (
	attrSymWidthMask uint8 = 0x03
	attrSorted       uint8 = 0x04 // column is known sorted ascending
)

// ElemSize returns the byte width of one element, dispatching on the
// symbol width attribute for KindSym.
func (k Kind) ElemSize(attrs uint8) int {
	switch k {
	case KindBool, KindU8:
		return 1
	case KindI16:
		return 2
	case KindI32, KindDate, KindTime:
		return 4
	case KindI64, KindF64, KindTimestamp:
		return 8
	case KindSym:
		return 1 << (attrs & attrSymWidthMask)
	case KindStr:
		return 1
	default:
		return 0
	}
}

// symWidthAttr returns the attrs byte selecting the narrowest symbol
// width that can hold ids in [0, maxID].
func symWidthAttr(maxID int64) uint8 {
	switch {
	case maxID <= 0xFF:
		return 0
	case maxID <= 0xFFFF:
		return 1
	case maxID <= 0xFFFFFFFF:
		return 2
	default:
		return 3
	}
}

// promote returns the computational kind for a binary operation over two
// operand kinds: any float operand widens the operation to F64, otherwise
// it runs in I64.
func promote(a, b Kind) Kind {
	if a == KindF64 || b == KindF64 {
		return KindF64
	}
	return KindI64
}
