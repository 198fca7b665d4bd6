// Package quantile implements quantile estimation sketches: DDSketch with a
// deterministic relative-error guarantee, and a T-Digest backend behind the
// same QuantileEstimator surface for callers that prefer rank-space accuracy.
package quantile

import (
	"math"
	"sort"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
)

// ddStore is a sparse logarithmic bucket store for one sign.
type ddStore struct {
	bins  map[int32]uint64
	count uint64
	min   float64
	max   float64
}

func newDDStore() ddStore {
	return ddStore{
		bins: make(map[int32]uint64),
		min:  math.Inf(1),
		max:  math.Inf(-1),
	}
}

func (s *ddStore) add(index int32, value float64) {
	s.bins[index]++
	s.count++
	if value < s.min {
		s.min = value
	}
	if value > s.max {
		s.max = value
	}
}

func (s *ddStore) merge(other *ddStore) {
	for idx, c := range other.bins {
		s.bins[idx] += c
	}
	s.count += other.count
	if other.min < s.min {
		s.min = other.min
	}
	if other.max > s.max {
		s.max = other.max
	}
}

func (s *ddStore) sortedIndices() []int32 {
	out := make([]int32, 0, len(s.bins))
	for idx := range s.bins {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DDSketch estimates quantiles with a deterministic relative-error bound.
// Bucket boundaries are gamma^i for gamma = (1+alpha)/(1-alpha), so every
// reconstructed value lies within a relative alpha of the true value. The
// guarantee comes from the bucketing itself, not from probability. Zero and
// negative values are handled by a dedicated zero counter and a mirrored
// negative store, since the logarithmic mapping is only defined for positive
// magnitudes.
type DDSketch struct {
	alpha   float64
	gamma   float64
	gammaLn float64

	pos       ddStore
	neg       ddStore
	zeroCount uint64
	sum       float64
}

// NewDDSketch creates a sketch with the given relative accuracy.
func NewDDSketch(alpha float64) (*DDSketch, error) {
	if alpha <= 0 || alpha >= 1 {
		return nil, sketch.InvalidParamf("alpha", alpha, "must be in (0, 1)")
	}
	gamma := (1 + alpha) / (1 - alpha)
	return &DDSketch{
		alpha:   alpha,
		gamma:   gamma,
		gammaLn: math.Log(gamma),
		pos:     newDDStore(),
		neg:     newDDStore(),
	}, nil
}

func (d *DDSketch) Type() sketch.Type { return sketch.TypeDDSketch }
func (d *DDSketch) Alpha() float64    { return d.alpha }
func (d *DDSketch) Gamma() float64    { return d.gamma }
func (d *DDSketch) IsEmpty() bool     { return d.Count() == 0 }

// Count is the total number of observations.
func (d *DDSketch) Count() uint64 {
	return d.pos.count + d.neg.count + d.zeroCount
}

// Sum is the running sum of all observations.
func (d *DDSketch) Sum() float64 { return d.sum }

// Min returns the smallest observation, or an error on an empty sketch.
func (d *DDSketch) Min() (float64, error) {
	if d.IsEmpty() {
		return 0, sketch.InvalidParamf("sketch", "empty", "has no observations")
	}
	if d.neg.count > 0 {
		return -d.neg.max, nil
	}
	if d.zeroCount > 0 {
		return 0, nil
	}
	return d.pos.min, nil
}

// Max returns the largest observation, or an error on an empty sketch.
func (d *DDSketch) Max() (float64, error) {
	if d.IsEmpty() {
		return 0, sketch.InvalidParamf("sketch", "empty", "has no observations")
	}
	if d.pos.count > 0 {
		return d.pos.max, nil
	}
	if d.zeroCount > 0 {
		return 0, nil
	}
	return -d.neg.min, nil
}

// Add records one observation.
func (d *DDSketch) Add(value float64) {
	d.sum += value
	switch {
	case value > 0:
		d.pos.add(d.key(value), value)
	case value < 0:
		d.neg.add(d.key(-value), -value)
	default:
		d.zeroCount++
	}
}

// key maps a positive magnitude to its bucket: ceil(log_gamma(v)).
func (d *DDSketch) key(value float64) int32 {
	return int32(math.Ceil(math.Log(value) / d.gammaLn))
}

// value maps a bucket back to its representative: 2*gamma^k/(gamma+1), the
// point whose relative distance to both bucket edges is exactly alpha.
func (d *DDSketch) value(index int32) float64 {
	return 2 * math.Pow(d.gamma, float64(index)) / (d.gamma + 1)
}

// Quantile returns the estimated value at rank q in [0, 1].
func (d *DDSketch) Quantile(q float64) (float64, error) {
	vs, err := d.Quantiles([]float64{q})
	if err != nil {
		return 0, err
	}
	return vs[0], nil
}

// Quantiles answers several quantile queries with a single forward scan of
// the bucket stores rather than one walk per quantile.
func (d *DDSketch) Quantiles(qs []float64) ([]float64, error) {
	total := d.Count()
	if total == 0 {
		return nil, sketch.InvalidParamf("sketch", "empty", "has no observations")
	}
	for _, q := range qs {
		if q < 0 || q > 1 {
			return nil, sketch.InvalidParamf("q", q, "must be in [0, 1]")
		}
	}

	// Walk quantiles in rank order while scanning buckets once; results go
	// back in the caller's order.
	order := make([]int, len(qs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return qs[order[i]] < qs[order[j]] })

	ranks := make([]uint64, len(qs))
	for i, q := range qs {
		r := uint64(math.Ceil(q * float64(total)))
		if r < 1 {
			r = 1
		}
		ranks[i] = r
	}

	out := make([]float64, len(qs))
	next := 0
	accumulated := uint64(0)

	emit := func(value float64) {
		for next < len(order) && ranks[order[next]] <= accumulated {
			out[order[next]] = value
			next++
		}
	}

	// Negative store walks from the most negative value upward, so bucket
	// indices go in decreasing order.
	negIndices := d.neg.sortedIndices()
	for i := len(negIndices) - 1; i >= 0 && next < len(order); i-- {
		accumulated += d.neg.bins[negIndices[i]]
		emit(-d.value(negIndices[i]))
	}
	if next < len(order) {
		accumulated += d.zeroCount
		emit(0)
	}
	for _, idx := range d.pos.sortedIndices() {
		if next >= len(order) {
			break
		}
		accumulated += d.pos.bins[idx]
		emit(d.value(idx))
	}
	return out, nil
}

// Merge adds the other sketch's bucket counts element-wise. Both sketches
// must share alpha.
func (d *DDSketch) Merge(other sketch.Sketch) error {
	from, ok := other.(*DDSketch)
	if !ok {
		return sketch.Incompatiblef("cannot merge %s into %s", other.Type(), d.Type())
	}
	if d.alpha != from.alpha {
		return sketch.Incompatiblef("relative accuracies differ: %v vs %v", d.alpha, from.alpha)
	}
	d.pos.merge(&from.pos)
	d.neg.merge(&from.neg)
	d.zeroCount += from.zeroCount
	d.sum += from.sum
	return nil
}

func writeStore(w *wire.Writer, s *ddStore) {
	w.Float64(s.min)
	w.Float64(s.max)
	w.Uint32(uint32(len(s.bins)))
	for _, idx := range s.sortedIndices() {
		w.Int32(idx)
		w.Uint64(s.bins[idx])
	}
}

func readStore(r *wire.Reader, s *ddStore) {
	s.min = r.Float64()
	s.max = r.Float64()
	n := r.Uint32()
	for i := uint32(0); i < n; i++ {
		idx := r.Int32()
		count := r.Uint64()
		if r.Err() != nil {
			return
		}
		s.bins[idx] = count
		s.count += count
	}
}

// Serialize encodes the sketch as
// [header][alpha:8][zeroCount:8][sum:8][neg store][pos store] with each
// store as [min:8][max:8][n:4]([index:4][count:8])* in index order.
func (d *DDSketch) Serialize() ([]byte, error) {
	w := wire.NewWriter(d.Type())
	w.Float64(d.alpha)
	w.Uint64(d.zeroCount)
	w.Float64(d.sum)
	writeStore(w, &d.neg)
	writeStore(w, &d.pos)
	return w.Finish(), nil
}

// DeserializeDDSketch reconstructs a DDSketch from its wire form.
func DeserializeDDSketch(b []byte) (*DDSketch, error) {
	r := wire.NewReader(b, sketch.TypeDDSketch)
	alpha := r.Float64()
	if err := r.Err(); err != nil {
		return nil, err
	}
	d, err := NewDDSketch(alpha)
	if err != nil {
		return nil, err
	}
	d.zeroCount = r.Uint64()
	d.sum = r.Float64()
	readStore(r, &d.neg)
	readStore(r, &d.pos)
	if err := r.Close(); err != nil {
		return nil, err
	}
	return d, nil
}
