// Package filter implements approximate membership filters: a cuckoo filter
// supporting deletion, a ribbon filter built by banded Gaussian elimination
// for static sets, and a classic bloom filter.
package filter

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
	"github.com/streamsketch/streamsketch/pkg/util/hashing"
)

const (
	slotsPerBucket = 4
	maxKicks       = 500
)

type cuckooBucket [slotsPerBucket]uint16

func (b *cuckooBucket) insert(fp uint16) bool {
	for i := range b {
		if b[i] == 0 {
			b[i] = fp
			return true
		}
	}
	return false
}

func (b *cuckooBucket) delete(fp uint16) bool {
	for i := range b {
		if b[i] == fp {
			b[i] = 0
			return true
		}
	}
	return false
}

func (b *cuckooBucket) contains(fp uint16) bool {
	return b[0] == fp || b[1] == fp || b[2] == fp || b[3] == fp
}

// CuckooFilter is an approximate membership filter storing 16-bit fingerprints
// in buckets of four slots. Each item has two candidate buckets related by
// index XOR fingerprint-hash, so either bucket can be derived from the other
// during eviction without rehashing the original item. Unlike a bloom filter
// it supports deletion; unlike a ribbon filter it needs no build phase.
//
// Cuckoo filters are not mergeable: two filters place colliding fingerprints
// by kick history, which cannot be reconciled after the fact.
type CuckooFilter struct {
	buckets  []cuckooBucket
	mask     uint64
	seed     uint64
	capacity uint64
	count    uint64
	rnd      *rand.Rand
}

// NewCuckooFilter creates a filter sized for the given number of items.
func NewCuckooFilter(capacity uint64, seed uint64) (*CuckooFilter, error) {
	if capacity == 0 {
		return nil, sketch.InvalidParamf("capacity", capacity, "must be > 0")
	}
	n := numBuckets(capacity)
	return &CuckooFilter{
		buckets:  make([]cuckooBucket, n),
		mask:     n - 1,
		seed:     seed,
		capacity: capacity,
		rnd:      rand.New(rand.NewSource(int64(seed))),
	}, nil
}

// numBuckets is the bucket count implied by a capacity: the next power of
// two above capacity/slotsPerBucket, with a floor of one.
func numBuckets(capacity uint64) uint64 {
	n := nextPow2(capacity / slotsPerBucket)
	if n == 0 {
		n = 1
	}
	return n
}

func nextPow2(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}

func (f *CuckooFilter) Type() sketch.Type { return sketch.TypeCuckooFilter }
func (f *CuckooFilter) IsEmpty() bool     { return f.count == 0 }
func (f *CuckooFilter) Count() uint64     { return f.count }
func (f *CuckooFilter) Capacity() uint64  { return f.capacity }

// fingerprint derives a nonzero 16-bit fingerprint; zero marks an empty slot.
func fingerprint(h uint64) uint16 {
	return uint16(hashing.Mix64(h)) | 1
}

func (f *CuckooFilter) indexes(item []byte) (uint16, uint64, uint64) {
	h1, _ := hashing.Hash2(f.seed, item)
	fp := fingerprint(h1)
	i1 := h1 & f.mask
	return fp, i1, f.altIndex(i1, fp)
}

func (f *CuckooFilter) altIndex(i uint64, fp uint16) uint64 {
	return (i ^ hashing.Mix64(uint64(fp))) & f.mask
}

type kick struct {
	bucket uint64
	slot   int
	prev   uint16
}

// Add inserts the item's fingerprint, relocating colliding fingerprints for up
// to 500 kicks. A failed insertion is rolled back, so the filter's answers for
// previously added items are unchanged after ErrFilterFull.
func (f *CuckooFilter) Add(item []byte) error {
	fp, i1, i2 := f.indexes(item)
	if f.buckets[i1].insert(fp) || f.buckets[i2].insert(fp) {
		f.count++
		return nil
	}

	i := i1
	if f.rnd.Intn(2) == 1 {
		i = i2
	}
	path := make([]kick, 0, maxKicks)
	for n := 0; n < maxKicks; n++ {
		slot := f.rnd.Intn(slotsPerBucket)
		fp, f.buckets[i][slot] = f.buckets[i][slot], fp
		path = append(path, kick{bucket: i, slot: slot, prev: fp})

		i = f.altIndex(i, fp)
		if f.buckets[i].insert(fp) {
			f.count++
			return nil
		}
	}

	for n := len(path) - 1; n >= 0; n-- {
		k := path[n]
		f.buckets[k.bucket][k.slot] = k.prev
	}
	return sketch.ErrFilterFull
}

// Contains reports whether the item may be in the set. False positives occur
// at roughly the fingerprint collision rate; false negatives only if the item
// was removed, or never added and a colliding item was removed.
func (f *CuckooFilter) Contains(item []byte) (bool, error) {
	fp, i1, i2 := f.indexes(item)
	return f.buckets[i1].contains(fp) || f.buckets[i2].contains(fp), nil
}

// Remove deletes one copy of the item's fingerprint and reports whether one
// was found. Removing an item that was never added may delete a colliding
// item's fingerprint.
func (f *CuckooFilter) Remove(item []byte) bool {
	fp, i1, i2 := f.indexes(item)
	if f.buckets[i1].delete(fp) || f.buckets[i2].delete(fp) {
		f.count--
		return true
	}
	return false
}

// Serialize encodes the filter as
// [header][capacity:8][seed:8][count:8][buckets:4][fingerprints: u16 each].
func (f *CuckooFilter) Serialize() ([]byte, error) {
	w := wire.NewWriter(f.Type())
	w.Uint64(f.capacity)
	w.Uint64(f.seed)
	w.Uint64(f.count)
	w.Uint32(uint32(len(f.buckets)))
	for i := range f.buckets {
		for _, fp := range f.buckets[i] {
			w.Uint16(fp)
		}
	}
	return w.Finish(), nil
}

// DeserializeCuckooFilter reconstructs a CuckooFilter from its wire form.
func DeserializeCuckooFilter(b []byte) (*CuckooFilter, error) {
	r := wire.NewReader(b, sketch.TypeCuckooFilter)
	capacity := r.Uint64()
	seed := r.Uint64()
	count := r.Uint64()
	n := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	// The bucket count must match both the capacity's implied geometry and
	// the payload length, checked before the table is allocated.
	if capacity == 0 || uint64(n) != numBuckets(capacity) {
		return nil, errors.Wrapf(sketch.ErrCorruptData, "bucket count %d does not match capacity %d", n, capacity)
	}
	if uint64(r.Remaining()) != uint64(n)*slotsPerBucket*2 {
		return nil, errors.Wrapf(sketch.ErrCorruptData, "payload is %d bytes, want %d buckets", r.Remaining(), n)
	}
	f, err := NewCuckooFilter(capacity, seed)
	if err != nil {
		return nil, err
	}
	f.count = count
	for i := uint32(0); i < n; i++ {
		for s := 0; s < slotsPerBucket; s++ {
			f.buckets[i][s] = r.Uint16()
		}
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return f, nil
}
