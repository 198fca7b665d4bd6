package frequency

import (
	"math"
	"sort"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
)

// FrequentItems is a Misra-Gries sketch: a capacity-bounded counter map plus
// a global offset accumulating purged weight. Any item whose true count
// exceeds N/capacity is guaranteed to be present; a present item's true count
// lies in [stored, stored+offset].
type FrequentItems struct {
	capacity  int
	items     map[string]uint64
	offset    uint64
	streamLen uint64
}

// NewFrequentItems creates a sketch tracking at most capacity items.
func NewFrequentItems(capacity int) (*FrequentItems, error) {
	if capacity < 2 {
		return nil, sketch.InvalidParamf("capacity", capacity, "must be >= 2")
	}
	hint := capacity
	if hint > 1<<16 {
		hint = 1 << 16
	}
	return &FrequentItems{
		capacity: capacity,
		items:    make(map[string]uint64, hint),
	}, nil
}

func (f *FrequentItems) Type() sketch.Type { return sketch.TypeFrequentItems }
func (f *FrequentItems) Capacity() int     { return f.capacity }
func (f *FrequentItems) IsEmpty() bool     { return f.streamLen == 0 }

// ErrorBound is the maximum amount any estimate can overestimate by.
func (f *FrequentItems) ErrorBound() uint64 { return f.offset }

// Update adds one occurrence of the item.
func (f *FrequentItems) Update(item []byte) {
	f.UpdateBy(item, 1)
}

// UpdateBy adds count occurrences of the item.
func (f *FrequentItems) UpdateBy(item []byte, count uint64) {
	if count == 0 {
		return
	}
	f.streamLen += count
	f.items[string(item)] += count
	if len(f.items) > f.capacity {
		f.purge()
	}
}

// purge subtracts the minimum stored count from every item, dropping items
// that reach zero and folding the subtracted weight into the offset.
func (f *FrequentItems) purge() {
	min := uint64(math.MaxUint64)
	for _, c := range f.items {
		if c < min {
			min = c
		}
	}
	for k, c := range f.items {
		if c <= min {
			delete(f.items, k)
		} else {
			f.items[k] = c - min
		}
	}
	f.offset += min
}

// Count returns the upper-bound estimate for a tracked item, or 0 for an
// untracked one. An untracked item's true count is at most the offset.
func (f *FrequentItems) Count(item []byte) int64 {
	c, ok := f.items[string(item)]
	if !ok {
		return 0
	}
	return int64(c + f.offset)
}

// TopK returns the k largest tracked items by upper-bound estimate.
func (f *FrequentItems) TopK(k int) []sketch.TopK {
	out := make([]sketch.TopK, 0, len(f.items))
	for key, c := range f.items {
		out = append(out, sketch.TopK{Item: key, Count: c + f.offset})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Item < out[j].Item
	})
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// Merge combines two same-capacity sketches by summing stored counts and
// offsets, then purging back down to capacity.
func (f *FrequentItems) Merge(other sketch.Sketch) error {
	from, ok := other.(*FrequentItems)
	if !ok {
		return sketch.Incompatiblef("cannot merge %s into %s", other.Type(), f.Type())
	}
	if f.capacity != from.capacity {
		return sketch.Incompatiblef("capacities differ: %d vs %d", f.capacity, from.capacity)
	}
	for k, c := range from.items {
		f.items[k] += c
	}
	f.offset += from.offset
	f.streamLen += from.streamLen
	for len(f.items) > f.capacity {
		f.purge()
	}
	return nil
}

// Serialize encodes the sketch as
// [header][capacity:4][offset:8][streamLen:8][n:4]([item][count:8])*.
func (f *FrequentItems) Serialize() ([]byte, error) {
	w := wire.NewWriter(f.Type())
	w.Uint32(uint32(f.capacity))
	w.Uint64(f.offset)
	w.Uint64(f.streamLen)
	w.Uint32(uint32(len(f.items)))

	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.Bytes([]byte(k))
		w.Uint64(f.items[k])
	}
	return w.Finish(), nil
}

// DeserializeFrequentItems reconstructs a FrequentItems sketch from its wire
// form.
func DeserializeFrequentItems(b []byte) (*FrequentItems, error) {
	r := wire.NewReader(b, sketch.TypeFrequentItems)
	capacity := r.Uint32()
	offset := r.Uint64()
	streamLen := r.Uint64()
	n := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	f, err := NewFrequentItems(int(capacity))
	if err != nil {
		return nil, err
	}
	if n > capacity {
		return nil, sketch.InvalidParamf("entries", n, "exceeds capacity")
	}
	f.offset = offset
	f.streamLen = streamLen
	for i := uint32(0); i < n; i++ {
		item := r.Bytes()
		count := r.Uint64()
		if r.Err() != nil {
			break
		}
		f.items[string(item)] = count
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return f, nil
}
