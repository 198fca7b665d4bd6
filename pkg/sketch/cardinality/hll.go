// Package cardinality implements distinct-count estimation.
package cardinality

import (
	"github.com/axiomhq/hyperloglog"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
)

// DefaultPrecision gives 2^14 registers, roughly 0.8% standard error.
const DefaultPrecision = 14

// HyperLogLog estimates the number of distinct items in a stream using
// 2^precision registers. The relative standard error is about
// 1.04/sqrt(2^precision).
type HyperLogLog struct {
	hll       *hyperloglog.Sketch
	precision uint8
	inserts   uint64
}

// NewHyperLogLog creates a sketch with the given register precision in
// [4, 18]. Precision 0 selects the default.
func NewHyperLogLog(precision uint8) (*HyperLogLog, error) {
	if precision == 0 {
		precision = DefaultPrecision
	}
	if precision < 4 || precision > 18 {
		return nil, sketch.InvalidParamf("precision", precision, "must be in [4, 18]")
	}
	hll, err := hyperloglog.NewSketch(precision, true)
	if err != nil {
		return nil, err
	}
	return &HyperLogLog{hll: hll, precision: precision}, nil
}

func (h *HyperLogLog) Type() sketch.Type { return sketch.TypeHyperLogLog }
func (h *HyperLogLog) Precision() uint8  { return h.precision }
func (h *HyperLogLog) IsEmpty() bool     { return h.inserts == 0 }

// Insert observes one item. Duplicate inserts do not change the estimate.
func (h *HyperLogLog) Insert(item []byte) {
	h.hll.Insert(item)
	h.inserts++
}

// Estimate returns the estimated number of distinct items.
func (h *HyperLogLog) Estimate() uint64 {
	return h.hll.Estimate()
}

// Merge folds the other sketch's registers into this one, yielding the
// estimate of the union. Precisions must match.
func (h *HyperLogLog) Merge(other sketch.Sketch) error {
	from, ok := other.(*HyperLogLog)
	if !ok {
		return sketch.Incompatiblef("cannot merge %s into %s", other.Type(), h.Type())
	}
	if h.precision != from.precision {
		return sketch.Incompatiblef("precisions differ: %d vs %d", h.precision, from.precision)
	}
	if err := h.hll.Merge(from.hll); err != nil {
		return sketch.Incompatiblef("register layouts differ: %v", err)
	}
	h.inserts += from.inserts
	return nil
}

// Serialize encodes the sketch as
// [header][precision:1][inserts:8][register bytes].
func (h *HyperLogLog) Serialize() ([]byte, error) {
	inner, err := h.hll.MarshalBinary()
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter(h.Type())
	w.Uint8(h.precision)
	w.Uint64(h.inserts)
	w.Bytes(inner)
	return w.Finish(), nil
}

// DeserializeHyperLogLog reconstructs a HyperLogLog from its wire form.
func DeserializeHyperLogLog(b []byte) (*HyperLogLog, error) {
	r := wire.NewReader(b, sketch.TypeHyperLogLog)
	precision := r.Uint8()
	inserts := r.Uint64()
	inner := r.Bytes()
	if err := r.Close(); err != nil {
		return nil, err
	}
	h, err := NewHyperLogLog(precision)
	if err != nil {
		return nil, err
	}
	h.inserts = inserts
	if err := h.hll.UnmarshalBinary(inner); err != nil {
		return nil, err
	}
	return h, nil
}
