// Package frequency implements the frequency-estimation sketch family:
// Count-Min (plain and conservative-update), Count Sketch, Space-Saving,
// HeavyKeeper and Misra-Gries frequent items. All counter-matrix sketches
// share the two-hash base from pkg/util/hashing.
package frequency

import (
	"math"

	"github.com/pkg/errors"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
	"github.com/streamsketch/streamsketch/pkg/util/hashing"
)

// CountMinSketch estimates item frequencies with a depth x width counter
// matrix. Estimates never underestimate; they overestimate by at most
// epsilon*N with probability 1-delta. The conservative-update variant only
// raises the counters that sit at the current minimum, which strictly
// improves accuracy at identical space without giving up the
// never-underestimate guarantee.
type CountMinSketch struct {
	width, depth uint32
	seed         uint64
	conservative bool
	total        uint64
	counters     [][]uint32
}

// NewCountMinSketch sizes the sketch from the desired error bounds:
// width = ceil(e/epsilon), depth = ceil(ln(1/delta)).
func NewCountMinSketch(epsilon, delta float64, seed uint64) (*CountMinSketch, error) {
	w, d, err := cmsDimensions(epsilon, delta)
	if err != nil {
		return nil, err
	}
	return NewCountMinSketchWithDimensions(w, d, seed)
}

// NewCountMinSketchWithDimensions creates a CMS with explicit dimensions.
func NewCountMinSketchWithDimensions(width, depth uint32, seed uint64) (*CountMinSketch, error) {
	if width == 0 {
		return nil, sketch.InvalidParamf("width", width, "must be > 0")
	}
	if depth == 0 {
		return nil, sketch.InvalidParamf("depth", depth, "must be > 0")
	}
	return &CountMinSketch{
		width:    width,
		depth:    depth,
		seed:     seed,
		counters: make2dCounters(width, depth),
	}, nil
}

// NewConservativeCountMinSketch creates the conservative-update variant.
func NewConservativeCountMinSketch(epsilon, delta float64, seed uint64) (*CountMinSketch, error) {
	s, err := NewCountMinSketch(epsilon, delta, seed)
	if err != nil {
		return nil, err
	}
	s.conservative = true
	return s, nil
}

func cmsDimensions(epsilon, delta float64) (uint32, uint32, error) {
	if epsilon <= 0 || epsilon >= 1 {
		return 0, 0, sketch.InvalidParamf("epsilon", epsilon, "must be in (0, 1)")
	}
	if delta <= 0 || delta >= 1 {
		return 0, 0, sketch.InvalidParamf("delta", delta, "must be in (0, 1)")
	}
	w := uint32(math.Ceil(math.E / epsilon))
	d := uint32(math.Ceil(math.Log(1 / delta)))
	if d == 0 {
		d = 1
	}
	return w, d, nil
}

func make2dCounters(width, depth uint32) [][]uint32 {
	rows := make([][]uint32, depth)
	for i := range rows {
		rows[i] = make([]uint32, width)
	}
	return rows
}

func satAdd32(a, b uint32) uint32 {
	s := a + b
	if s < a {
		return math.MaxUint32
	}
	return s
}

func (s *CountMinSketch) Type() sketch.Type {
	if s.conservative {
		return sketch.TypeConservativeCountMin
	}
	return sketch.TypeCountMin
}

func (s *CountMinSketch) Width() uint32 { return s.width }
func (s *CountMinSketch) Depth() uint32 { return s.depth }
func (s *CountMinSketch) Seed() uint64  { return s.seed }

// TotalCount is the total weight added across all updates.
func (s *CountMinSketch) TotalCount() uint64 { return s.total }

func (s *CountMinSketch) IsEmpty() bool { return s.total == 0 }

// Update adds a single occurrence of the item.
func (s *CountMinSketch) Update(item []byte) {
	s.Add(item, 1)
}

// Add adds count occurrences of the item.
func (s *CountMinSketch) Add(item []byte, count uint32) {
	h1, h2 := hashing.Hash2(s.seed, item)
	s.total += uint64(count)
	if s.conservative {
		s.conservativeAdd(h1, h2, count)
		return
	}
	for i := uint32(0); i < s.depth; i++ {
		pos := hashing.Position(h1, h2, i, s.width)
		s.counters[i][pos] = satAdd32(s.counters[i][pos], count)
	}
}

// conservativeAdd reads the current minimum across the item's positions
// first, then only raises counters below min+count. Collisions that already
// inflated a counter past that bound are left alone.
func (s *CountMinSketch) conservativeAdd(h1, h2 uint64, count uint32) {
	min := uint32(math.MaxUint32)
	for i := uint32(0); i < s.depth; i++ {
		pos := hashing.Position(h1, h2, i, s.width)
		if s.counters[i][pos] < min {
			min = s.counters[i][pos]
		}
	}
	target := satAdd32(min, count)
	for i := uint32(0); i < s.depth; i++ {
		pos := hashing.Position(h1, h2, i, s.width)
		if s.counters[i][pos] < target {
			s.counters[i][pos] = target
		}
	}
}

// Count returns the estimated frequency: the minimum counter across rows.
func (s *CountMinSketch) Count(item []byte) int64 {
	h1, h2 := hashing.Hash2(s.seed, item)
	min := uint32(math.MaxUint32)
	for i := uint32(0); i < s.depth; i++ {
		pos := hashing.Position(h1, h2, i, s.width)
		if s.counters[i][pos] < min {
			min = s.counters[i][pos]
		}
	}
	return int64(min)
}

// Merge adds the other sketch's counters element-wise. Both sketches must
// share width, depth, seed and update mode.
func (s *CountMinSketch) Merge(other sketch.Sketch) error {
	from, ok := other.(*CountMinSketch)
	if !ok {
		return sketch.Incompatiblef("cannot merge %s into %s", other.Type(), s.Type())
	}
	if s.width != from.width || s.depth != from.depth {
		return sketch.Incompatiblef("dimensions differ: %dx%d vs %dx%d", s.depth, s.width, from.depth, from.width)
	}
	if s.seed != from.seed {
		return sketch.Incompatiblef("seeds differ")
	}
	if s.conservative != from.conservative {
		return sketch.Incompatiblef("update modes differ")
	}
	for i, row := range from.counters {
		for j, v := range row {
			s.counters[i][j] = satAdd32(s.counters[i][j], v)
		}
	}
	s.total += from.total
	return nil
}

// Serialize encodes the sketch as
// [header][width:4][depth:4][seed:8][total:8][counters: width*depth*4].
func (s *CountMinSketch) Serialize() ([]byte, error) {
	w := wire.NewWriter(s.Type())
	w.Uint32(s.width)
	w.Uint32(s.depth)
	w.Uint64(s.seed)
	w.Uint64(s.total)
	for _, row := range s.counters {
		for _, v := range row {
			w.Uint32(v)
		}
	}
	return w.Finish(), nil
}

// DeserializeCountMin reconstructs a plain or conservative CMS from its wire
// form.
func DeserializeCountMin(b []byte) (*CountMinSketch, error) {
	t, err := wire.PeekType(b)
	if err != nil {
		return nil, err
	}
	if t != sketch.TypeCountMin && t != sketch.TypeConservativeCountMin {
		return nil, sketch.Incompatiblef("type tag %s is not a count-min sketch", t)
	}
	r := wire.NewReader(b, t)
	width := r.Uint32()
	depth := r.Uint32()
	seed := r.Uint64()
	total := r.Uint64()
	if err := r.Err(); err != nil {
		return nil, err
	}
	// Check the claimed dimensions against the payload before the table is
	// allocated; the header is untrusted input.
	if n := uint64(r.Remaining()); n%4 != 0 || n/4 != uint64(width)*uint64(depth) {
		return nil, errors.Wrapf(sketch.ErrCorruptData, "payload holds %d counters, want %dx%d", n/4, depth, width)
	}
	s, err := NewCountMinSketchWithDimensions(width, depth, seed)
	if err != nil {
		return nil, err
	}
	s.conservative = t == sketch.TypeConservativeCountMin
	s.total = total
	for i := uint32(0); i < depth; i++ {
		for j := uint32(0); j < width; j++ {
			s.counters[i][j] = r.Uint32()
		}
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return s, nil
}
