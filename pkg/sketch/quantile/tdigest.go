package quantile

import (
	"github.com/influxdata/tdigest"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
)

// DefaultCompression is the t-digest compression used when callers pass 0.
const DefaultCompression = 1000

// TDigest wraps an influx t-digest behind the QuantileEstimator surface.
// Unlike DDSketch its error is rank-space rather than value-space, which
// makes it the better backend when extreme quantiles matter more than
// relative value accuracy.
type TDigest struct {
	td          *tdigest.TDigest
	compression float64
	count       uint64
}

// NewTDigest creates a t-digest with the given compression. Higher
// compression means more centroids and better accuracy.
func NewTDigest(compression float64) (*TDigest, error) {
	if compression < 0 {
		return nil, sketch.InvalidParamf("compression", compression, "must be >= 0")
	}
	if compression == 0 {
		compression = DefaultCompression
	}
	return &TDigest{
		td:          tdigest.NewWithCompression(compression),
		compression: compression,
	}, nil
}

func (t *TDigest) Type() sketch.Type    { return sketch.TypeTDigest }
func (t *TDigest) Compression() float64 { return t.compression }
func (t *TDigest) IsEmpty() bool        { return t.count == 0 }
func (t *TDigest) Count() uint64        { return t.count }

// Add records one observation.
func (t *TDigest) Add(value float64) {
	t.td.Add(value, 1)
	t.count++
}

// AddWeighted records an observation with the given weight.
func (t *TDigest) AddWeighted(value, weight float64) {
	if weight <= 0 {
		return
	}
	t.td.Add(value, weight)
	t.count++
}

// Quantile returns the estimated value at rank q in [0, 1].
func (t *TDigest) Quantile(q float64) (float64, error) {
	if q < 0 || q > 1 {
		return 0, sketch.InvalidParamf("q", q, "must be in [0, 1]")
	}
	if t.count == 0 {
		return 0, sketch.InvalidParamf("sketch", "empty", "has no observations")
	}
	return t.td.Quantile(q), nil
}

// Merge folds the other digest's centroids into this one. Compressions must
// match.
func (t *TDigest) Merge(other sketch.Sketch) error {
	from, ok := other.(*TDigest)
	if !ok {
		return sketch.Incompatiblef("cannot merge %s into %s", other.Type(), t.Type())
	}
	if t.compression != from.compression {
		return sketch.Incompatiblef("compressions differ: %v vs %v", t.compression, from.compression)
	}
	t.td.Merge(from.td)
	t.count += from.count
	return nil
}

// Serialize encodes the digest as
// [header][compression:8][count:8][n:4]([mean:8][weight:8])*.
func (t *TDigest) Serialize() ([]byte, error) {
	centroids := t.td.Centroids(make(tdigest.CentroidList, 0))
	w := wire.NewWriter(t.Type())
	w.Float64(t.compression)
	w.Uint64(t.count)
	w.Uint32(uint32(len(centroids)))
	for _, c := range centroids {
		w.Float64(c.Mean)
		w.Float64(c.Weight)
	}
	return w.Finish(), nil
}

// DeserializeTDigest reconstructs a TDigest from its wire form.
func DeserializeTDigest(b []byte) (*TDigest, error) {
	r := wire.NewReader(b, sketch.TypeTDigest)
	compression := r.Float64()
	count := r.Uint64()
	n := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	t, err := NewTDigest(compression)
	if err != nil {
		return nil, err
	}
	t.count = count
	for i := uint32(0); i < n; i++ {
		mean := r.Float64()
		weight := r.Float64()
		if r.Err() != nil {
			break
		}
		t.td.AddCentroid(tdigest.Centroid{Mean: mean, Weight: weight})
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return t, nil
}
