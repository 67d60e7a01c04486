package caravel

// Sel is the lazy boolean filter representation: a per-row bit array plus
// a trinary flag per 1024-row segment. Scan kernels test the flag first and
// skip NONE segments outright, run ALL segments without per-row tests, and
// bit-test only MIX segments. totalPass is precomputed so consumers can
// size outputs without a second scan.
type Sel struct {
	bits      []uint64
	segs      []uint8
	n         int
	totalPass int
}

const (
	segNone uint8 = 0
	segAll  uint8 = 1
	segMix  uint8 = 2
)

// selBitTest tests one row's bit.
func selBitTest(bits []uint64, row int) bool {
	return bits[row>>6]&(1<<(uint(row)&63)) != 0
}

// selFromPred builds a Sel from a boolean vector, populating bits and
// segment flags in parallel.
func selFromPred(pred *Column) *Sel {
	n := pred.Len()
	s := &Sel{
		bits: make([]uint64, (n+63)/64),
		segs: make([]uint8, (n+morselElems-1)/morselElems),
		n:    n,
	}
	pd := pred.Bools()
	nsegs := len(s.segs)
	segPass := make([]int32, nsegs)

	p := poolGet()
	p.DispatchN(nsegs, func(_, seg int) {
		start := seg * morselElems
		end := start + morselElems
		if end > n {
			end = n
		}
		cnt := 0
		for row := start; row < end; row++ {
			if pd[row] != 0 {
				s.bits[row>>6] |= 1 << (uint(row) & 63)
				cnt++
			}
		}
		segPass[seg] = int32(cnt)
		switch cnt {
		case 0:
			s.segs[seg] = segNone
		case end - start:
			s.segs[seg] = segAll
		default:
			s.segs[seg] = segMix
		}
	})

	for _, c := range segPass {
		s.totalPass += int(c)
	}
	return s
}

// selAnd intersects two selections over the same row count, in place on a
// fresh Sel.
func selAnd(a, b *Sel) *Sel {
	out := &Sel{
		bits: make([]uint64, len(a.bits)),
		segs: make([]uint8, len(a.segs)),
		n:    a.n,
	}
	for i := range out.bits {
		out.bits[i] = a.bits[i] & b.bits[i]
	}
	total := 0
	for seg := range out.segs {
		start := seg * morselElems
		end := start + morselElems
		if end > out.n {
			end = out.n
		}
		switch {
		case a.segs[seg] == segNone || b.segs[seg] == segNone:
			out.segs[seg] = segNone
		case a.segs[seg] == segAll && b.segs[seg] == segAll:
			out.segs[seg] = segAll
			total += end - start
		default:
			cnt := 0
			for row := start; row < end; row++ {
				if selBitTest(out.bits, row) {
					cnt++
				}
			}
			switch cnt {
			case 0:
				out.segs[seg] = segNone
			case end - start:
				out.segs[seg] = segAll
			default:
				out.segs[seg] = segMix
			}
			total += cnt
		}
	}
	out.totalPass = total
	return out
}

// matchIndices enumerates the set bits into a dense index array.
func (s *Sel) matchIndices() []int64 {
	idx := make([]int64, 0, s.totalPass)
	for seg, flag := range s.segs {
		start := seg * morselElems
		end := start + morselElems
		if end > s.n {
			end = s.n
		}
		switch flag {
		case segNone:
			continue
		case segAll:
			for row := start; row < end; row++ {
				idx = append(idx, int64(row))
			}
		default:
			for row := start; row < end; row++ {
				if selBitTest(s.bits, row) {
					idx = append(idx, int64(row))
				}
			}
		}
	}
	return idx
}

// selCompact materializes the selection: enumerate set bits into a dense
// match-index array, then run the multi-column gather.
func selCompact(t *Table, s *Sel) *Table {
	if s == nil {
		return t.Retain()
	}
	if s.totalPass == t.NumRows() {
		return t.Retain()
	}
	idx := s.matchIndices()
	return gatherTable(t, idx, false)
}
