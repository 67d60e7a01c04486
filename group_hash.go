package caravel

import (
	"math"
	"sync/atomic"
)

// Radix-partitioned hash group-by. Phase 1 scatters rows into 256
// partitions as fat entries (hash + inline keys + agg values) so later
// phases never touch the source columns. Phase 2 aggregates each partition
// independently in a local open-addressed table whose packed 4-byte slots
// carry [salt:8 | gid:24]. Phase 3 prefix-sums partition group counts and
// scatters the group rows into typed output columns.

const (
	radixParts    = 256
	htEmpty       = 0xFFFFFFFF
	htMaxGroups   = 1 << 24 // gid field width
	htSaltShift   = 56
	htPrefetchLag = 8
)

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fatEntryBufs is one worker's per-partition append buffers.
type fatEntryBufs struct {
	parts [radixParts][]uint64
}

// groupHashPartition runs phase 1 over one worker's row range.
func groupHashPartition(p *groupPlan, sel *Sel, bufs *fatEntryBufs, start, end int) {
	nk := len(p.keyCols)
	ew := p.entryWords()
	row := start
	for row < end {
		if sel != nil {
			seg := row / morselElems
			segEnd := (seg + 1) * morselElems
			if segEnd > end {
				segEnd = end
			}
			switch sel.segs[seg] {
			case segNone:
				row = segEnd
				continue
			case segMix:
				if !selBitTest(sel.bits, row) {
					row++
					continue
				}
			}
		}
		h := hashColAt(p.keyCols[0], row)
		for k := 1; k < nk; k++ {
			h = hashCombine(h, hashColAt(p.keyCols[k], row))
		}
		part := (h >> 16) & (radixParts - 1)
		buf := bufs.parts[part]
		at := len(buf)
		if cap(buf)-at < ew {
			grown := make([]uint64, at, nextPow2(at+ew)*2)
			copy(grown, buf)
			buf = grown
		}
		buf = buf[:at+ew]
		buf[at] = h
		for k := 0; k < nk; k++ {
			buf[at+1+k] = keyBits(p.keyCols[k], row)
		}
		for v := range p.aggCols {
			buf[at+1+nk+v] = aggValBits(p.aggCols[v], row)
		}
		bufs.parts[part] = buf
		row++
	}
}

// partHT is one partition's local hash table and row store.
type partHT struct {
	slotHdr *scratchHdr
	slots   []uint32
	mask    uint64
	rows    []uint64
	nGroups int
}

func newPartHT(capEntries, rowWords int) *partHT {
	size := nextPow2(2 * capEntries)
	if size < 8 {
		size = 8
	}
	hdr, buf := scratchAlloc(size * 4)
	if hdr == nil {
		return nil
	}
	slots := bytesAsU32(buf)
	for i := range slots {
		slots[i] = htEmpty
	}
	return &partHT{
		slotHdr: hdr,
		slots:   slots,
		mask:    uint64(size - 1),
		rows:    make([]uint64, 0, nextPow2(capEntries)*rowWords),
	}
}

func (ht *partHT) free() { scratchFree(ht.slotHdr) }

// rehash doubles the slot array and reinserts every group.
func (ht *partHT) rehash(p *groupPlan, o rowOffsets) bool {
	size := (int(ht.mask) + 1) * 2
	hdr, buf := scratchAlloc(size * 4)
	if hdr == nil {
		return false
	}
	slots := bytesAsU32(buf)
	for i := range slots {
		slots[i] = htEmpty
	}
	rw := p.rowWords()
	nk := len(p.keyCols)
	mask := uint64(size - 1)
	for gid := 0; gid < ht.nGroups; gid++ {
		row := ht.rows[gid*rw : (gid+1)*rw]
		h := hashRowKeys(p, row[o.keys:o.keys+nk])
		at := h & mask
		for slots[at] != htEmpty {
			at = (at + 1) & mask
		}
		slots[at] = uint32(h>>htSaltShift)<<24 | uint32(gid)
	}
	scratchFree(ht.slotHdr)
	ht.slotHdr, ht.slots, ht.mask = hdr, slots, mask
	return true
}

// hashRowKeys recomputes the composite hash from stored key bits. Float
// keys go back through hashF64 and integer keys through hashI64, so the
// result reproduces the original value for floats and integers alike.
func hashRowKeys(p *groupPlan, keys []uint64) uint64 {
	hk := func(k int) uint64 {
		if p.keyCols[k].Kind() == KindF64 {
			return hashF64(math.Float64frombits(keys[k]))
		}
		return hashI64(int64(keys[k]))
	}
	h := hk(0)
	for k := 1; k < len(keys); k++ {
		h = hashCombine(h, hk(k))
	}
	return h
}

// aggregateEntries folds a batch of fat entries into the partition table.
// Returns false when the partition exceeds the gid field.
func (ht *partHT) aggregateEntries(p *groupPlan, o rowOffsets, entries []uint64) bool {
	ew := p.entryWords()
	rw := p.rowWords()
	nk := len(p.keyCols)
	n := len(entries) / ew
	for e := 0; e < n; e++ {
		ent := entries[e*ew : (e+1)*ew]
		// Stride prefetch on the packed slot array.
		if e+htPrefetchLag < n {
			ph := entries[(e+htPrefetchLag)*ew]
			_ = ht.slots[ph&ht.mask]
		}
		h := ent[0]
		keys := ent[1 : 1+nk]
		vals := ent[1+nk:]
		salt := uint32(h >> htSaltShift)
		at := h & ht.mask
		for {
			s := ht.slots[at]
			if s == htEmpty {
				gid := ht.nGroups
				if gid >= htMaxGroups {
					return false
				}
				ht.rows = append(ht.rows, make([]uint64, rw)...)
				row := ht.rows[gid*rw : (gid+1)*rw]
				p.initRow(row, o, keys, vals)
				ht.slots[at] = salt<<24 | uint32(gid)
				ht.nGroups++
				if uint64(ht.nGroups)*2 > ht.mask+1 {
					if !ht.rehash(p, o) {
						return false
					}
				}
				break
			}
			if s>>24 == salt {
				gid := int(s & 0xFFFFFF)
				row := ht.rows[gid*rw : (gid+1)*rw]
				if keysEqual(row[o.keys:o.keys+nk], keys) {
					p.updateRow(row, o, vals)
					break
				}
			}
			at = (at + 1) & ht.mask
		}
	}
	return true
}

func keysEqual(a, b []uint64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// execGroupHash is the parallel radix-partitioned path.
func execGroupHash(p *groupPlan, sel *Sel) (*Table, ErrKind) {
	pool := poolGet()
	nw := pool.TotalWorkers()
	o := p.offsets()

	// Phase 1: partition into per-worker fat-entry buffers.
	bufs := make([]*fatEntryBufs, nw)
	for w := range bufs {
		bufs[w] = &fatEntryBufs{}
	}
	pool.Dispatch(p.n, func(w, start, end int) {
		groupHashPartition(p, sel, bufs[w], start, end)
	})
	if pool.Cancelled() {
		return nil, ErrCancel
	}

	// Phase 2: one worker per partition builds its local table. A
	// partition whose table cannot be sized is skipped.
	hts := make([]*partHT, radixParts)
	var overflow atomic.Bool
	pool.DispatchN(radixParts, func(_, part int) {
		total := 0
		for w := 0; w < nw; w++ {
			total += len(bufs[w].parts[part])
		}
		if total == 0 {
			return
		}
		total /= p.entryWords()
		ht := newPartHT(total, p.rowWords())
		if ht == nil {
			return
		}
		for w := 0; w < nw; w++ {
			if !ht.aggregateEntries(p, o, bufs[w].parts[part]) {
				ht.free()
				overflow.Store(true)
				return
			}
		}
		hts[part] = ht
	})
	if overflow.Load() {
		for _, ht := range hts {
			if ht != nil {
				ht.free()
			}
		}
		return nil, ErrNYI
	}
	if pool.Cancelled() {
		for _, ht := range hts {
			if ht != nil {
				ht.free()
			}
		}
		return nil, ErrCancel
	}

	// Phase 3: prefix-sum partition group counts, then scatter rows.
	offsets := make([]int, radixParts+1)
	for part := 0; part < radixParts; part++ {
		offsets[part+1] = offsets[part]
		if hts[part] != nil {
			offsets[part+1] += hts[part].nGroups
		}
	}
	totalGroups := offsets[radixParts]

	out := NewTable(len(p.keyCols) + len(p.aggs))
	keyOuts := make([]*Column, len(p.keyCols))
	for k := range p.keyCols {
		keyOuts[k] = newKeyOut(p.keyCols[k], totalGroups)
		out.AddColNamed(p.keyNames[k], keyOuts[k])
	}
	aggOuts := make([]*Column, len(p.aggs))
	for a := range p.aggs {
		aggOuts[a] = NewVec(p.aggs[a].outKind, totalGroups)
		out.AddColNamed(p.aggs[a].name, aggOuts[a])
	}

	rw := p.rowWords()
	nk := len(p.keyCols)
	pool.DispatchN(radixParts, func(_, part int) {
		ht := hts[part]
		if ht == nil {
			return
		}
		at := offsets[part]
		for gid := 0; gid < ht.nGroups; gid++ {
			row := ht.rows[gid*rw : (gid+1)*rw]
			for k := 0; k < nk; k++ {
				writeKeyBits(keyOuts[k], at, row[o.keys+k])
			}
			for a := range p.aggs {
				emitAggValue(&p.aggs[a], aggOuts[a], at, row, o)
			}
			at++
		}
		ht.free()
	})
	return out, ErrNone
}

// execGroupHashSeq is the sequential fallback: one table, same row layout
// and probe.
func execGroupHashSeq(p *groupPlan, sel *Sel) (*Table, ErrKind) {
	o := p.offsets()
	bufs := &fatEntryBufs{}
	groupHashPartition(p, sel, bufs, 0, p.n)

	est := 0
	for part := range bufs.parts {
		est += len(bufs.parts[part])
	}
	est /= p.entryWords()
	ht := newPartHT(est, p.rowWords())
	if ht == nil {
		return nil, ErrOOM
	}
	defer ht.free()
	for part := range bufs.parts {
		if !ht.aggregateEntries(p, o, bufs.parts[part]) {
			return nil, ErrNYI
		}
	}

	out := NewTable(len(p.keyCols) + len(p.aggs))
	keyOuts := make([]*Column, len(p.keyCols))
	for k := range p.keyCols {
		keyOuts[k] = newKeyOut(p.keyCols[k], ht.nGroups)
		out.AddColNamed(p.keyNames[k], keyOuts[k])
	}
	aggOuts := make([]*Column, len(p.aggs))
	for a := range p.aggs {
		aggOuts[a] = NewVec(p.aggs[a].outKind, ht.nGroups)
		out.AddColNamed(p.aggs[a].name, aggOuts[a])
	}
	rw := p.rowWords()
	nk := len(p.keyCols)
	for gid := 0; gid < ht.nGroups; gid++ {
		row := ht.rows[gid*rw : (gid+1)*rw]
		for k := 0; k < nk; k++ {
			writeKeyBits(keyOuts[k], gid, row[o.keys+k])
		}
		for a := range p.aggs {
			emitAggValue(&p.aggs[a], aggOuts[a], gid, row, o)
		}
	}
	return out, ErrNone
}
