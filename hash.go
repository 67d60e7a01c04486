package caravel

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"
)

// Deterministic 64-bit hashing for group-by and join keys.

// hashI64 hashes one integer key value.
func hashI64(v int64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return xxh3.Hash(b[:])
}

// hashF64 hashes the bit pattern of a double, folding -0.0 onto +0.0 so
// the hash agrees with the join's IEEE key equality, under which the two
// zeros are equal.
func hashF64(v float64) uint64 {
	if v == 0 {
		v = 0
	}
	return hashI64(int64(math.Float64bits(v)))
}

// hashCombine folds two hashes order-dependently for composite keys.
func hashCombine(a, b uint64) uint64 {
	a ^= b + 0x9e3779b97f4a7c15 + (a << 6) + (a >> 2)
	return a
}

// hashBytes hashes a byte string.
func hashBytes(b []byte) uint64 { return xxh3.Hash(b) }

// hashColAt hashes one row of a key column with the kind-appropriate
// hasher.
func hashColAt(c *Column, row int) uint64 {
	if c.Kind() == KindF64 {
		return hashF64(c.F64At(row))
	}
	return hashI64(c.I64At(row))
}
