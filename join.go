package caravel

import (
	"sync/atomic"
)

// Two-phase parallel hash join. Phase 1 builds per-bucket chains over the
// right side with release-store CAS on atomic head slots; ht_next is
// per-row and contention-free. Phase 2 probes the left side in 8192-row
// morsels twice — count, prefix-sum, fill — so the output pair arrays are
// allocated exactly once. Phase 3 materializes through the gather kernels.

const (
	jhtEmpty        = uint32(0xFFFFFFFF)
	jhtMaxCap       = 1 << 31
	joinProbeMorsel = 8192
	joinMaxRight    = int(^uint32(0)) - 1
)

type joinSide struct {
	keys []*Column
}

func resolveJoinKeys(t *Table, names []string) (*joinSide, ErrKind) {
	side := &joinSide{keys: make([]*Column, len(names))}
	for i, name := range names {
		c := t.GetColNamed(name)
		if c == nil {
			return nil, ErrSchema
		}
		if c.isParted() {
			side.keys[i] = c.materialize()
		} else {
			side.keys[i] = c.Retain()
		}
	}
	return side, ErrNone
}

func (s *joinSide) release() {
	for _, c := range s.keys {
		c.Release()
	}
}

// hashKeysAt computes the composite key hash of one row.
func (s *joinSide) hashKeysAt(row int) uint64 {
	h := hashColAt(s.keys[0], row)
	for k := 1; k < len(s.keys); k++ {
		h = hashCombine(h, hashColAt(s.keys[k], row))
	}
	return h
}

// keysMatch compares a left row against a right row. Doubles compare with
// IEEE equality: NaN matches nothing, +0.0 matches -0.0.
func keysMatch(l, r *joinSide, lrow, rrow int) bool {
	for k := range l.keys {
		lc, rc := l.keys[k], r.keys[k]
		if lc.Kind() == KindF64 || rc.Kind() == KindF64 {
			if lc.F64At(lrow) != rc.F64At(rrow) {
				return false
			}
		} else if lc.I64At(lrow) != rc.I64At(rrow) {
			return false
		}
	}
	return true
}

// execJoin joins two tables on named key columns.
func execJoin(left, right *Table, kind JoinKind, leftKeys, rightKeys []string) (*Table, ErrKind) {
	if len(leftKeys) == 0 || len(leftKeys) != len(rightKeys) {
		return nil, ErrDomain
	}
	if right.NumRows() > joinMaxRight {
		return nil, ErrNYI
	}
	ls, ek := resolveJoinKeys(left, leftKeys)
	if ek != ErrNone {
		return nil, ek
	}
	defer ls.release()
	rs, ek := resolveJoinKeys(right, rightKeys)
	if ek != ErrNone {
		return nil, ek
	}
	defer rs.release()

	pool := poolGet()
	nLeft, nRight := left.NumRows(), right.NumRows()

	// Phase 1: parallel chain build on the right side.
	htCap := nextPow2(2 * nRight)
	if htCap < 8 {
		htCap = 8
	}
	if htCap > jhtMaxCap {
		htCap = jhtMaxCap
	}
	mask := uint64(htCap - 1)
	heads := make([]uint32, htCap)
	for i := range heads {
		heads[i] = jhtEmpty
	}
	next := make([]uint32, nRight)
	pool.Dispatch(nRight, func(_, start, end int) {
		for row := start; row < end; row++ {
			h := rs.hashKeysAt(row)
			slot := &heads[h&mask]
			for {
				old := atomic.LoadUint32(slot)
				next[row] = old
				if atomic.CompareAndSwapUint32(slot, old, uint32(row)) {
					break
				}
			}
		}
	})
	if pool.Cancelled() {
		return nil, ErrCancel
	}

	// Phase 2a: count matches per probe morsel.
	nMorsels := (nLeft + joinProbeMorsel - 1) / joinProbeMorsel
	counts := make([]int64, nMorsels+1)
	pool.DispatchN(nMorsels, func(_, m int) {
		start := m * joinProbeMorsel
		end := start + joinProbeMorsel
		if end > nLeft {
			end = nLeft
		}
		var cnt int64
		for row := start; row < end; row++ {
			h := ls.hashKeysAt(row)
			matches := int64(0)
			for r := heads[h&mask]; r != jhtEmpty; r = next[r] {
				if keysMatch(ls, rs, row, int(r)) {
					matches++
				}
			}
			if matches == 0 && kind >= JoinLeft {
				matches = 1
			}
			cnt += matches
		}
		counts[m+1] = cnt
	})

	// Prefix-sum morsel counts into fill offsets.
	for m := 1; m <= nMorsels; m++ {
		counts[m] += counts[m-1]
	}
	pairCount := counts[nMorsels]

	var matchedRight []uint32
	if kind == JoinFull {
		matchedRight = make([]uint32, nRight)
	}

	// Phase 2b: fill the pair arrays at each morsel's offset.
	extra := int64(0)
	if kind == JoinFull {
		extra = int64(nRight) // worst case unmatched-right append
	}
	lIdx := make([]int64, pairCount, pairCount+extra)
	rIdx := make([]int64, pairCount, pairCount+extra)
	pool.DispatchN(nMorsels, func(_, m int) {
		start := m * joinProbeMorsel
		end := start + joinProbeMorsel
		if end > nLeft {
			end = nLeft
		}
		at := counts[m]
		for row := start; row < end; row++ {
			h := ls.hashKeysAt(row)
			matched := false
			for r := heads[h&mask]; r != jhtEmpty; r = next[r] {
				if keysMatch(ls, rs, row, int(r)) {
					lIdx[at] = int64(row)
					rIdx[at] = int64(r)
					at++
					matched = true
					if matchedRight != nil {
						atomic.StoreUint32(&matchedRight[r], 1)
					}
				}
			}
			if !matched && kind >= JoinLeft {
				lIdx[at] = int64(row)
				rIdx[at] = -1
				at++
			}
		}
	})

	// FULL OUTER: append the null-left row for every unmatched right row.
	if kind == JoinFull {
		for r := 0; r < nRight; r++ {
			if matchedRight[r] == 0 {
				lIdx = append(lIdx, -1)
				rIdx = append(rIdx, int64(r))
			}
		}
	}
	if pool.Cancelled() {
		return nil, ErrCancel
	}

	// Phase 3: build result columns. Left columns go nullable only for
	// FULL OUTER; right non-key columns for LEFT and FULL.
	out := NewTable(left.NumCols() + right.NumCols())
	leftNullable := kind == JoinFull
	for i := 0; i < left.NumCols(); i++ {
		src := left.Col(i)
		if src.isParted() {
			flat := src.materialize()
			out.AddCol(left.ColName(i), gatherCol(flat, lIdx, leftNullable))
			flat.Release()
		} else {
			out.AddCol(left.ColName(i), gatherCol(src, lIdx, leftNullable))
		}
	}
	rightNullable := kind >= JoinLeft
	rightKeySet := make(map[string]bool, len(rightKeys))
	for _, k := range rightKeys {
		rightKeySet[k] = true
	}
	for i := 0; i < right.NumCols(); i++ {
		name := SymStr(right.ColName(i))
		if rightKeySet[name] {
			continue
		}
		if out.GetColNamed(name) != nil {
			name += "_right"
		}
		src := right.Col(i)
		if src.isParted() {
			flat := src.materialize()
			out.AddColNamed(name, gatherCol(flat, rIdx, rightNullable))
			flat.Release()
		} else {
			out.AddColNamed(name, gatherCol(src, rIdx, rightNullable))
		}
	}
	return out, ErrNone
}
