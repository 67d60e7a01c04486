package caravel

import (
	"math"
	"math/bits"
	"sort"
)

// Radix sort over encoded u64 keys. Integers flip the sign bit, doubles
// map IEEE-754 order to unsigned order, symbols go through a per-query
// intern-id → rank table, and multi-key sorts pack each key into a bit
// slice of the 64-bit word with the primary key in the high bits.

// encodeI64 maps a signed integer to its order-preserving unsigned image.
func encodeI64(v int64) uint64 { return uint64(v) ^ (1 << 63) }

// encodeF64 maps a double to unsigned lexicographic order: flip the sign
// bit for positives, complement everything for negatives.
func encodeF64(v float64) uint64 {
	b := math.Float64bits(v)
	if b&(1<<63) != 0 {
		return ^b
	}
	return b | (1 << 63)
}

// symRanks builds the intern-id → sort-rank table by sorting the unique
// intern ids by their string values. Build cost is paid once per SYM key
// column per query; there is no persistent symbol ordering.
func symRanks() []uint64 {
	strs := symStrsSnapshot()
	ids := make([]int64, len(strs))
	for i := range ids {
		ids[i] = int64(i)
	}
	sort.SliceStable(ids, func(a, b int) bool { return strs[ids[a]] < strs[ids[b]] })
	ranks := make([]uint64, len(strs))
	for rank, id := range ids {
		ranks[id] = uint64(rank)
	}
	return ranks
}

// encodeKeyCol encodes one key column to ascending u64s. NaN doubles are
// forced to the null-extreme e chosen from the nulls-first and desc flags.
func encodeKeyCol(c *Column, nullsFirst, desc bool, out []uint64) {
	n := c.Len()
	e := uint64(math.MaxUint64)
	if nullsFirst != desc {
		e = 0
	}
	switch c.Kind() {
	case KindF64:
		src := c.F64s()
		for i := 0; i < n; i++ {
			if math.IsNaN(src[i]) {
				out[i] = e
			} else {
				out[i] = encodeF64(src[i])
			}
		}
	case KindSym:
		ranks := symRanks()
		for i := 0; i < n; i++ {
			out[i] = ranks[c.I64At(i)]
		}
	default:
		for i := 0; i < n; i++ {
			out[i] = encodeI64(c.I64At(i))
		}
	}
}

// encodeSortKeys produces the composite u64 key array, or ok=false when
// multi-key ranges exceed 64 bits and the comparator path must take over.
func encodeSortKeys(spec *sortSpec, n int) ([]uint64, bool) {
	nk := len(spec.cols)
	keys := make([]uint64, n)

	if nk == 1 {
		encodeKeyCol(spec.cols[0], spec.nullsFirst[0], spec.desc[0], keys)
		if spec.desc[0] {
			for i := range keys {
				keys[i] = ^keys[i]
			}
		}
		return keys, true
	}

	// Encode every key, then a parallel min/max prescan sizes the bit
	// slices. Total bits must fit the word.
	encs := make([][]uint64, nk)
	for k := 0; k < nk; k++ {
		encs[k] = make([]uint64, n)
		encodeKeyCol(spec.cols[k], spec.nullsFirst[k], spec.desc[k], encs[k])
	}
	pool := poolGet()
	nw := pool.TotalWorkers()
	mins := make([][]uint64, nw)
	maxs := make([][]uint64, nw)
	for w := 0; w < nw; w++ {
		mins[w] = make([]uint64, nk)
		maxs[w] = make([]uint64, nk)
		for k := 0; k < nk; k++ {
			mins[w][k] = math.MaxUint64
		}
	}
	pool.Dispatch(n, func(w, start, end int) {
		for k := 0; k < nk; k++ {
			lo, hi := mins[w][k], maxs[w][k]
			enc := encs[k]
			for i := start; i < end; i++ {
				if enc[i] < lo {
					lo = enc[i]
				}
				if enc[i] > hi {
					hi = enc[i]
				}
			}
			mins[w][k], maxs[w][k] = lo, hi
		}
	})
	kmin := make([]uint64, nk)
	krange := make([]uint64, nk)
	totalBits := 0
	widths := make([]uint, nk)
	for k := 0; k < nk; k++ {
		lo, hi := uint64(math.MaxUint64), uint64(0)
		for w := 0; w < nw; w++ {
			if mins[w][k] < lo {
				lo = mins[w][k]
			}
			if maxs[w][k] > hi {
				hi = maxs[w][k]
			}
		}
		kmin[k] = lo
		krange[k] = hi - lo
		widths[k] = uint(bits.Len64(krange[k]))
		if widths[k] == 0 {
			widths[k] = 1
		}
		totalBits += int(widths[k])
	}
	if totalBits > 64 {
		return nil, false
	}

	// Pack: primary key in the high bits; DESC keys complement within
	// their slice.
	shifts := make([]uint, nk)
	at := uint(0)
	for k := nk - 1; k >= 0; k-- {
		shifts[k] = at
		at += widths[k]
	}
	pool.Dispatch(n, func(_, start, end int) {
		for i := start; i < end; i++ {
			var key uint64
			for k := 0; k < nk; k++ {
				v := encs[k][i] - kmin[k]
				if spec.desc[k] {
					v = krange[k] - v
				}
				key |= v << shifts[k]
			}
			keys[i] = key
		}
	})
	return keys, true
}

// radixSortIdx performs the LSB 8-pass byte radix over (keys, idx) pairs:
// parallel per-task histogram, prefix sum, parallel stable scatter. A pass
// whose histogram puts all rows in one bucket is skipped.
func radixSortIdx(keys []uint64, idx []int64) {
	n := len(keys)
	pool := poolGet()
	nw := pool.TotalWorkers()

	tmpK := make([]uint64, n)
	tmpI := make([]int64, n)
	hist := make([][256]int, nw)

	srcK, srcI := keys, idx
	dstK, dstI := tmpK, tmpI
	swapped := false

	for pass := 0; pass < 8; pass++ {
		shift := uint(pass * 8)

		for w := range hist {
			hist[w] = [256]int{}
		}
		pool.Dispatch(n, func(w, start, end int) {
			h := &hist[w]
			for i := start; i < end; i++ {
				h[byte(srcK[i]>>shift)]++
			}
		})

		// Uniform byte: all rows share one bucket value, nothing to move.
		uniform := false
		for b := 0; b < 256; b++ {
			total := 0
			for w := 0; w < nw; w++ {
				total += hist[w][b]
			}
			if total == n {
				uniform = true
				break
			}
			if total > 0 {
				break
			}
		}
		if uniform {
			continue
		}

		// Prefix sum: per (bucket, worker) scatter offsets, bucket-major
		// so the pass stays stable.
		var offsets [256][]int
		at := 0
		for b := 0; b < 256; b++ {
			offsets[b] = make([]int, nw)
			for w := 0; w < nw; w++ {
				offsets[b][w] = at
				at += hist[w][b]
			}
		}

		pool.Dispatch(n, func(w, start, end int) {
			offs := make([]int, 256)
			for b := 0; b < 256; b++ {
				offs[b] = offsets[b][w]
			}
			for i := start; i < end; i++ {
				b := byte(srcK[i] >> shift)
				dst := offs[b]
				offs[b]++
				dstK[dst] = srcK[i]
				dstI[dst] = srcI[i]
			}
		})

		srcK, dstK = dstK, srcK
		srcI, dstI = dstI, srcI
		swapped = !swapped
	}

	// An odd number of executed passes leaves the final order in the
	// scratch arrays.
	if swapped {
		copy(keys, srcK)
		copy(idx, srcI)
	}
}
