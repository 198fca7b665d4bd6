// Package hashing provides the seeded two-hash base used by every sketch in
// the library. Each sketch computes two cheap 64-bit hashes of an item once
// and derives its whole family of row hashes from them with enhanced double
// hashing, instead of paying for depth independent hash evaluations per
// update. See the comment on Position for why this preserves the pairwise
// independence the counter-matrix sketches need.
package hashing

import (
	"github.com/cespare/xxhash/v2"
)

// Hash2 returns two 64-bit hashes of data under the given seed. The first is
// a seeded xxhash; the second is derived with an avalanche mix so the pair
// behaves as two independent functions. Hashing is total: empty input hashes
// deterministically like any other value.
func Hash2(seed uint64, data []byte) (uint64, uint64) {
	d := xxhash.NewWithSeed(seed)
	_, _ = d.Write(data)
	h1 := d.Sum64()
	return h1, Mix64(h1)
}

// Mix64 is the 64-bit finalizer from MurmurHash3. It is a bijection with
// strong avalanche behavior, which makes Mix64(h) usable as a second hash
// independent of h for double-hashing purposes.
func Mix64(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// Position derives row i's bucket index from the two base hashes using
// enhanced double hashing: h1 + i*h2 + i*i (mod width). The quadratic term
// breaks the correlation structure plain double hashing leaves between rows,
// which is enough for the pairwise-independence requirement of Count-Min
// style sketches while costing two multiplies instead of a hash evaluation.
func Position(h1, h2 uint64, row, width uint32) uint32 {
	i := uint64(row)
	return uint32((h1 + i*h2 + i*i) % uint64(width))
}

// Value derives row i's full 64-bit hash value from the two base hashes, for
// sketches that consume whole hash values (MinHash signatures) rather than
// bucket indices.
func Value(h1, h2 uint64, row uint32) uint64 {
	i := uint64(row)
	return h1 + i*h2 + i*i
}
