package caravel

import "golang.org/x/sys/cpu"

// Gather kernels: indexed reads compacted into sequential writes. Three
// shapes — per-column parallel, fused multi-column, and parted-source with
// a segment cursor. An index of -1 is the null row produced by LEFT/FULL
// joins; the nullable path writes zero bytes and sets the null bit.

const gatherPrefetch = 16

// fusedGatherCols caps how many columns the fused kernel interleaves.
const fusedGatherCols = 16

// fusedBatch rows are gathered column-at-a-time per batch so the hardware
// prefetcher stays on one stream. Narrower machines use a smaller batch.
var fusedBatch = func() int {
	if cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD {
		return 512
	}
	return 256
}()

// gatherCol gathers src rows named by idx into a fresh column.
func gatherCol(src *Column, idx []int64, nullable bool) *Column {
	if src.isParted() {
		return partedGatherCol(src, idx, nullable)
	}
	k := src.Kind()
	var dst *Column
	if k == KindSym {
		dst = NewSymVec(src.attrs, len(idx))
	} else {
		dst = NewVec(k, len(idx))
	}
	esz := src.elemSize()
	sd, dd := src.data, dst.data

	body := func(_, start, end int) {
		switch esz {
		case 8:
			s8 := bytesAsU64(sd)
			d8 := bytesAsU64(dd)
			for i := start; i < end; i++ {
				if i+gatherPrefetch < end && idx[i+gatherPrefetch] >= 0 {
					_ = s8[idx[i+gatherPrefetch]]
				}
				if j := idx[i]; j >= 0 {
					d8[i] = s8[j]
				} else {
					d8[i] = 0
					dst.setNull(i)
				}
			}
		case 4:
			s4 := bytesAsU32(sd)
			d4 := bytesAsU32(dd)
			for i := start; i < end; i++ {
				if i+gatherPrefetch < end && idx[i+gatherPrefetch] >= 0 {
					_ = s4[idx[i+gatherPrefetch]]
				}
				if j := idx[i]; j >= 0 {
					d4[i] = s4[j]
				} else {
					d4[i] = 0
					dst.setNull(i)
				}
			}
		default:
			for i := start; i < end; i++ {
				if j := idx[i]; j >= 0 {
					copy(dd[i*esz:(i+1)*esz], sd[int(j)*esz:(int(j)+1)*esz])
				} else {
					clear(dd[i*esz : (i+1)*esz])
					dst.setNull(i)
				}
			}
		}
	}

	p := poolGet()
	if nullable {
		// setNull mutates a shared bitmap; keep the nullable path sequential.
		body(0, 0, len(idx))
	} else {
		p.Dispatch(len(idx), body)
	}
	return dst
}

// fusedGatherTable gathers up to fusedGatherCols columns in a single pass
// over idx, one column at a time within each batch.
func fusedGatherTable(t *Table, idx []int64) *Table {
	out := NewTable(t.NumCols())
	dsts := make([]*Column, t.NumCols())
	for i := 0; i < t.NumCols(); i++ {
		src := t.Col(i)
		if src.Kind() == KindSym {
			dsts[i] = NewSymVec(src.attrs, len(idx))
		} else {
			dsts[i] = NewVec(src.Kind(), len(idx))
		}
		out.AddCol(t.ColName(i), dsts[i])
	}

	p := poolGet()
	p.Dispatch(len(idx), func(_, start, end int) {
		for at := start; at < end; at += fusedBatch {
			hi := at + fusedBatch
			if hi > end {
				hi = end
			}
			for ci := 0; ci < t.NumCols(); ci++ {
				src, dst := t.Col(ci), dsts[ci]
				esz := src.elemSize()
				switch esz {
				case 8:
					s8 := bytesAsU64(src.data)
					d8 := bytesAsU64(dst.data)
					for i := at; i < hi; i++ {
						d8[i] = s8[idx[i]]
					}
				case 4:
					s4 := bytesAsU32(src.data)
					d4 := bytesAsU32(dst.data)
					for i := at; i < hi; i++ {
						d4[i] = s4[idx[i]]
					}
				default:
					for i := at; i < hi; i++ {
						j := int(idx[i])
						copy(dst.data[i*esz:(i+1)*esz], src.data[j*esz:(j+1)*esz])
					}
				}
			}
		}
	})
	return out
}

// gatherTable gathers all columns of a table. Fused when narrow enough and
// no null rows can occur; per-column otherwise (parallel unless nullable).
func gatherTable(t *Table, idx []int64, nullable bool) *Table {
	anyParted := t.hasParted()
	if !nullable && !anyParted && t.NumCols() <= fusedGatherCols {
		return fusedGatherTable(t, idx)
	}
	out := NewTable(t.NumCols())
	for i := 0; i < t.NumCols(); i++ {
		out.AddCol(t.ColName(i), gatherCol(t.Col(i), idx, nullable))
	}
	return out
}

// partedGatherCol gathers from a segmented source while walking a
// sorted-ascending index array with a segment cursor, so each segment is
// touched once.
func partedGatherCol(src *Column, idx []int64, nullable bool) *Column {
	flat := src
	if src.Kind() == KindMapCommon {
		flat = src.materialize()
		defer flat.Release()
		return gatherCol(flat, idx, nullable)
	}
	base := src.partedBase()
	var dst *Column
	if base == KindSym {
		dst = NewSymVec(3, len(idx))
	} else {
		dst = NewVec(base, len(idx))
	}
	seg := 0
	segStart := 0
	segEnd := src.parts[0].Len()
	for i, j := range idx {
		if j < 0 {
			dst.setNull(i)
			continue
		}
		for int(j) >= segEnd {
			segStart = segEnd
			seg++
			segEnd += src.parts[seg].Len()
		}
		if base == KindF64 {
			dst.F64s()[i] = src.parts[seg].F64At(int(j) - segStart)
		} else {
			writeColI64(dst.data, i, base, dst.attrs, src.parts[seg].I64At(int(j)-segStart))
		}
	}
	return dst
}
