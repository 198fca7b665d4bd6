package filter

import (
	"bytes"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
)

// BloomFilter wraps a classic bloom filter behind the MembershipFilter
// surface. It is the mergeable member of the filter family: two filters built
// with the same estimates share bit layout and union by OR.
type BloomFilter struct {
	filter   *bloom.BloomFilter
	capacity uint64
	fpRate   float64
	count    uint64
}

// NewBloomFilter sizes the bit array and hash count for the given expected
// item count and target false positive rate.
func NewBloomFilter(capacity uint64, fpRate float64) (*BloomFilter, error) {
	if capacity == 0 {
		return nil, sketch.InvalidParamf("capacity", capacity, "must be > 0")
	}
	if fpRate <= 0 || fpRate >= 1 {
		return nil, sketch.InvalidParamf("fpRate", fpRate, "must be in (0, 1)")
	}
	return &BloomFilter{
		filter:   bloom.NewWithEstimates(uint(capacity), fpRate),
		capacity: capacity,
		fpRate:   fpRate,
	}, nil
}

func (f *BloomFilter) Type() sketch.Type { return sketch.TypeBloomFilter }
func (f *BloomFilter) IsEmpty() bool     { return f.count == 0 }
func (f *BloomFilter) Count() uint64     { return f.count }
func (f *BloomFilter) Capacity() uint64  { return f.capacity }

// Add inserts the item. Bloom filters never fill; adding beyond capacity only
// degrades the false positive rate.
func (f *BloomFilter) Add(item []byte) error {
	f.filter.Add(item)
	f.count++
	return nil
}

// Contains reports whether the item may be in the set. Added items always
// answer true.
func (f *BloomFilter) Contains(item []byte) (bool, error) {
	return f.filter.Test(item), nil
}

// Merge ORs the other filter's bits into this one. Both filters must have
// been built with the same estimates.
func (f *BloomFilter) Merge(other sketch.Sketch) error {
	from, ok := other.(*BloomFilter)
	if !ok {
		return sketch.Incompatiblef("cannot merge %s into %s", other.Type(), f.Type())
	}
	if f.capacity != from.capacity || f.fpRate != from.fpRate {
		return sketch.Incompatiblef("estimates differ: (%d, %v) vs (%d, %v)",
			f.capacity, f.fpRate, from.capacity, from.fpRate)
	}
	if err := f.filter.Merge(from.filter); err != nil {
		return sketch.Incompatiblef("bit layouts differ: %v", err)
	}
	f.count += from.count
	return nil
}

// Serialize encodes the filter as
// [header][capacity:8][fpRate:8][count:8][inner filter bytes].
func (f *BloomFilter) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.filter.WriteTo(&buf); err != nil {
		return nil, err
	}
	w := wire.NewWriter(f.Type())
	w.Uint64(f.capacity)
	w.Float64(f.fpRate)
	w.Uint64(f.count)
	w.Bytes(buf.Bytes())
	return w.Finish(), nil
}

// DeserializeBloomFilter reconstructs a BloomFilter from its wire form.
func DeserializeBloomFilter(b []byte) (*BloomFilter, error) {
	r := wire.NewReader(b, sketch.TypeBloomFilter)
	capacity := r.Uint64()
	fpRate := r.Float64()
	count := r.Uint64()
	inner := r.Bytes()
	if err := r.Close(); err != nil {
		return nil, err
	}
	f, err := NewBloomFilter(capacity, fpRate)
	if err != nil {
		return nil, err
	}
	f.count = count
	if _, err := f.filter.ReadFrom(bytes.NewReader(inner)); err != nil {
		return nil, err
	}
	return f, nil
}
