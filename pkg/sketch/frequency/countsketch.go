package frequency

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
	"github.com/streamsketch/streamsketch/pkg/util/hashing"
)

// signSeedMix derives the sign-hash family from the position-hash family so
// the two stay independent under a shared instance seed.
const signSeedMix = 0x9e3779b97f4a7c15

// CountSketch estimates frequencies with signed counters and a per-row sign
// hash. Unlike Count-Min it is unbiased: estimates are the median of
// sign-adjusted counters and can be negative. Use it when symmetric error is
// preferred over a guaranteed non-underestimate.
type CountSketch struct {
	width, depth uint32
	seed         uint64
	total        uint64
	counters     [][]int64
}

// NewCountSketch sizes the sketch from error bounds. Depth has a floor of 3
// rows so the median is taken over at least three estimates.
func NewCountSketch(epsilon, delta float64, seed uint64) (*CountSketch, error) {
	w, d, err := cmsDimensions(epsilon, delta)
	if err != nil {
		return nil, err
	}
	if d < 3 {
		d = 3
	}
	return NewCountSketchWithDimensions(w, d, seed)
}

// NewCountSketchWithDimensions creates a CountSketch with explicit dimensions.
func NewCountSketchWithDimensions(width, depth uint32, seed uint64) (*CountSketch, error) {
	if width == 0 {
		return nil, sketch.InvalidParamf("width", width, "must be > 0")
	}
	if depth == 0 {
		return nil, sketch.InvalidParamf("depth", depth, "must be > 0")
	}
	rows := make([][]int64, depth)
	for i := range rows {
		rows[i] = make([]int64, width)
	}
	return &CountSketch{width: width, depth: depth, seed: seed, counters: rows}, nil
}

func (s *CountSketch) Type() sketch.Type { return sketch.TypeCountSketch }
func (s *CountSketch) Width() uint32     { return s.width }
func (s *CountSketch) Depth() uint32     { return s.depth }
func (s *CountSketch) Seed() uint64      { return s.seed }
func (s *CountSketch) IsEmpty() bool     { return s.total == 0 }

// signs returns a 64-bit word whose bit i is row i's sign for this item.
func (s *CountSketch) signs(item []byte) uint64 {
	h1, _ := hashing.Hash2(s.seed^signSeedMix, item)
	return h1
}

func rowSign(signBits uint64, row uint32) int64 {
	if signBits>>(row%64)&1 == 0 {
		return 1
	}
	return -1
}

// Update adds a single occurrence of the item.
func (s *CountSketch) Update(item []byte) {
	s.AddWeighted(item, 1)
}

// AddWeighted adds a signed weight for the item. Negative weights subtract,
// which makes the sketch usable for turnstile streams.
func (s *CountSketch) AddWeighted(item []byte, weight int64) {
	h1, h2 := hashing.Hash2(s.seed, item)
	signBits := s.signs(item)
	s.total++
	for i := uint32(0); i < s.depth; i++ {
		pos := hashing.Position(h1, h2, i, s.width)
		s.counters[i][pos] += rowSign(signBits, i) * weight
	}
}

// Count returns the median of sign-adjusted counters across rows.
func (s *CountSketch) Count(item []byte) int64 {
	h1, h2 := hashing.Hash2(s.seed, item)
	signBits := s.signs(item)
	estimates := make([]int64, s.depth)
	for i := uint32(0); i < s.depth; i++ {
		pos := hashing.Position(h1, h2, i, s.width)
		estimates[i] = rowSign(signBits, i) * s.counters[i][pos]
	}
	return median(estimates)
}

// InnerProduct estimates the inner product of the two underlying frequency
// vectors as the median of per-row dot products.
func (s *CountSketch) InnerProduct(other *CountSketch) (int64, error) {
	if s.width != other.width || s.depth != other.depth || s.seed != other.seed {
		return 0, sketch.Incompatiblef("inner product requires identical dimensions and seed")
	}
	products := make([]int64, s.depth)
	for i := uint32(0); i < s.depth; i++ {
		var sum int64
		for j := uint32(0); j < s.width; j++ {
			sum += s.counters[i][j] * other.counters[i][j]
		}
		products[i] = sum
	}
	return median(products), nil
}

func median(values []int64) int64 {
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// Merge adds the other sketch's counters element-wise.
func (s *CountSketch) Merge(other sketch.Sketch) error {
	from, ok := other.(*CountSketch)
	if !ok {
		return sketch.Incompatiblef("cannot merge %s into %s", other.Type(), s.Type())
	}
	if s.width != from.width || s.depth != from.depth {
		return sketch.Incompatiblef("dimensions differ: %dx%d vs %dx%d", s.depth, s.width, from.depth, from.width)
	}
	if s.seed != from.seed {
		return sketch.Incompatiblef("seeds differ")
	}
	for i, row := range from.counters {
		for j, v := range row {
			s.counters[i][j] += v
		}
	}
	s.total += from.total
	return nil
}

// Serialize encodes the sketch as
// [header][width:4][depth:4][seed:8][total:8][counters: width*depth*8].
func (s *CountSketch) Serialize() ([]byte, error) {
	w := wire.NewWriter(s.Type())
	w.Uint32(s.width)
	w.Uint32(s.depth)
	w.Uint64(s.seed)
	w.Uint64(s.total)
	for _, row := range s.counters {
		for _, v := range row {
			w.Int64(v)
		}
	}
	return w.Finish(), nil
}

// DeserializeCountSketch reconstructs a CountSketch from its wire form.
func DeserializeCountSketch(b []byte) (*CountSketch, error) {
	r := wire.NewReader(b, sketch.TypeCountSketch)
	width := r.Uint32()
	depth := r.Uint32()
	seed := r.Uint64()
	total := r.Uint64()
	if err := r.Err(); err != nil {
		return nil, err
	}
	// Check the claimed dimensions against the payload before the table is
	// allocated; the header is untrusted input.
	if n := uint64(r.Remaining()); n%8 != 0 || n/8 != uint64(width)*uint64(depth) {
		return nil, errors.Wrapf(sketch.ErrCorruptData, "payload holds %d counters, want %dx%d", n/8, depth, width)
	}
	s, err := NewCountSketchWithDimensions(width, depth, seed)
	if err != nil {
		return nil, err
	}
	s.total = total
	for i := uint32(0); i < depth; i++ {
		for j := uint32(0); j < width; j++ {
			s.counters[i][j] = r.Int64()
		}
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return s, nil
}
