// Package registry exposes the sketch family through opaque numeric handles,
// for embedders that cannot hold Go pointers across a boundary. Every
// operation addresses a sketch by handle; capability mismatches and released
// handles fail fast with typed errors instead of panicking.
package registry

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/cardinality"
	"github.com/streamsketch/streamsketch/pkg/sketch/filter"
	"github.com/streamsketch/streamsketch/pkg/sketch/frequency"
	"github.com/streamsketch/streamsketch/pkg/sketch/quantile"
	"github.com/streamsketch/streamsketch/pkg/sketch/similarity"
)

// Handle identifies a live sketch in the registry. Handles are never reused,
// so a stale handle always fails with ErrHandleReleased rather than silently
// addressing a newer sketch.
type Handle uint64

// Spec describes the sketch to construct. Type selects the implementation;
// only the fields that implementation needs are read, and zero values fall
// back to the registry config defaults.
type Spec struct {
	Type sketch.Type

	Epsilon float64
	Delta   float64
	Alpha   float64

	Compression float64

	K     int
	Decay float64

	Capacity          uint64
	FalsePositiveRate float64

	Precision uint8
	Seed      uint64
}

// Registry owns the handle arena.
type Registry struct {
	logger  log.Logger
	cfg     sketch.Config
	metrics *metrics

	mtx      sync.RWMutex
	next     Handle
	sketches map[Handle]sketch.Sketch
}

// New creates a registry. The config supplies defaults for Spec fields left
// zero; reg may be nil to skip metrics registration.
func New(cfg sketch.Config, logger log.Logger, reg prometheus.Registerer) (*Registry, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		logger:   logger,
		cfg:      cfg,
		metrics:  newMetrics(reg),
		next:     1,
		sketches: make(map[Handle]sketch.Sketch),
	}, nil
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.sketches)
}

func (r *Registry) get(h Handle) (sketch.Sketch, error) {
	r.mtx.RLock()
	s, ok := r.sketches[h]
	r.mtx.RUnlock()
	if !ok {
		return nil, sketch.ErrHandleReleased
	}
	return s, nil
}

func (r *Registry) put(s sketch.Sketch) Handle {
	r.mtx.Lock()
	h := r.next
	r.next++
	r.sketches[h] = s
	r.mtx.Unlock()
	r.metrics.liveHandles.Inc()
	r.metrics.constructs.WithLabelValues(s.Type().String()).Inc()
	return h
}

func (spec Spec) orDefault(cfg sketch.Config) Spec {
	if spec.Epsilon == 0 {
		spec.Epsilon = cfg.Epsilon
	}
	if spec.Delta == 0 {
		spec.Delta = cfg.Delta
	}
	if spec.Alpha == 0 {
		spec.Alpha = cfg.Alpha
	}
	if spec.K == 0 {
		spec.K = cfg.TopK
	}
	if spec.Decay == 0 {
		spec.Decay = cfg.Decay
	}
	if spec.Capacity == 0 {
		spec.Capacity = uint64(cfg.FilterCapacity)
	}
	if spec.FalsePositiveRate == 0 {
		spec.FalsePositiveRate = cfg.FalsePositiveRate
	}
	if spec.Precision == 0 {
		spec.Precision = uint8(cfg.Precision)
	}
	if spec.Seed == 0 {
		spec.Seed = cfg.Seed
	}
	return spec
}

// Construct builds a sketch described by the Spec and returns its handle.
func (r *Registry) Construct(spec Spec) (Handle, error) {
	spec = spec.orDefault(r.cfg)

	var (
		s   sketch.Sketch
		err error
	)
	switch spec.Type {
	case sketch.TypeCountMin:
		s, err = frequency.NewCountMinSketch(spec.Epsilon, spec.Delta, spec.Seed)
	case sketch.TypeConservativeCountMin:
		s, err = frequency.NewConservativeCountMinSketch(spec.Epsilon, spec.Delta, spec.Seed)
	case sketch.TypeCountSketch:
		s, err = frequency.NewCountSketch(spec.Epsilon, spec.Delta, spec.Seed)
	case sketch.TypeSpaceSaving:
		s, err = frequency.NewSpaceSaving(spec.Epsilon)
	case sketch.TypeHeavyKeeper:
		s, err = frequency.NewHeavyKeeperForCardinality(r.logger, spec.K, int(spec.Capacity), spec.Decay, spec.Seed)
	case sketch.TypeFrequentItems:
		s, err = frequency.NewFrequentItems(spec.K)
	case sketch.TypeDDSketch:
		s, err = quantile.NewDDSketch(spec.Alpha)
	case sketch.TypeTDigest:
		s, err = quantile.NewTDigest(spec.Compression)
	case sketch.TypeCuckooFilter:
		s, err = filter.NewCuckooFilter(spec.Capacity, spec.Seed)
	case sketch.TypeRibbonFilter:
		s, err = filter.NewRibbonFilter(spec.Capacity, spec.FalsePositiveRate, spec.Seed)
	case sketch.TypeBloomFilter:
		s, err = filter.NewBloomFilter(spec.Capacity, spec.FalsePositiveRate)
	case sketch.TypeHyperLogLog:
		s, err = cardinality.NewHyperLogLog(spec.Precision)
	case sketch.TypeMinHash:
		s, err = similarity.NewMinHash(spec.K, spec.Seed)
	case sketch.TypeSimHash:
		s = similarity.NewSimHash(spec.Seed)
	default:
		return 0, sketch.InvalidParamf("type", spec.Type, "unknown sketch type")
	}
	if err != nil {
		return 0, err
	}

	h := r.put(s)
	level.Debug(r.logger).Log("msg", "constructed sketch", "handle", h, "type", s.Type())
	return h, nil
}

// Deserialize rebuilds a sketch from its wire form and returns a new handle.
func (r *Registry) Deserialize(blob []byte) (Handle, error) {
	s, err := Deserialize(blob)
	if err != nil {
		r.metrics.decodeFailures.Inc()
		return 0, err
	}
	return r.put(s), nil
}

// Release drops the handle. Releasing an already released or unknown handle
// is a no-op.
func (r *Registry) Release(h Handle) {
	r.mtx.Lock()
	_, ok := r.sketches[h]
	delete(r.sketches, h)
	r.mtx.Unlock()
	if ok {
		r.metrics.liveHandles.Dec()
	}
}

// Update observes one item. It dispatches to whichever item-observing
// capability the sketch has: frequency update, cardinality insert, or
// signature accumulation.
func (r *Registry) Update(h Handle, item []byte) error {
	s, err := r.get(h)
	if err != nil {
		return err
	}
	r.metrics.operations.WithLabelValues("update").Inc()
	switch v := s.(type) {
	case sketch.FrequencyEstimator:
		v.Update(item)
	case sketch.CardinalityEstimator:
		v.Insert(item)
	case *similarity.MinHash:
		v.Insert(item)
	case *similarity.SimHash:
		v.Add(item)
	default:
		return sketch.Incompatiblef("%s does not observe items", s.Type())
	}
	return nil
}

// Count returns a frequency sketch's estimate for the item.
func (r *Registry) Count(h Handle, item []byte) (int64, error) {
	s, err := r.get(h)
	if err != nil {
		return 0, err
	}
	r.metrics.operations.WithLabelValues("count").Inc()
	f, ok := s.(sketch.FrequencyEstimator)
	if !ok {
		return 0, sketch.Incompatiblef("%s does not estimate frequencies", s.Type())
	}
	return f.Count(item), nil
}

// AddValue records a numeric observation in a quantile sketch.
func (r *Registry) AddValue(h Handle, value float64) error {
	s, err := r.get(h)
	if err != nil {
		return err
	}
	r.metrics.operations.WithLabelValues("add_value").Inc()
	q, ok := s.(sketch.QuantileEstimator)
	if !ok {
		return sketch.Incompatiblef("%s does not estimate quantiles", s.Type())
	}
	q.Add(value)
	return nil
}

// Quantile queries a quantile sketch at rank q.
func (r *Registry) Quantile(h Handle, q float64) (float64, error) {
	s, err := r.get(h)
	if err != nil {
		return 0, err
	}
	r.metrics.operations.WithLabelValues("quantile").Inc()
	qe, ok := s.(sketch.QuantileEstimator)
	if !ok {
		return 0, sketch.Incompatiblef("%s does not estimate quantiles", s.Type())
	}
	return qe.Quantile(q)
}

// Add inserts an item into a membership filter.
func (r *Registry) Add(h Handle, item []byte) error {
	s, err := r.get(h)
	if err != nil {
		return err
	}
	r.metrics.operations.WithLabelValues("add").Inc()
	f, ok := s.(sketch.MembershipFilter)
	if !ok {
		return sketch.Incompatiblef("%s is not a membership filter", s.Type())
	}
	return f.Add(item)
}

// Contains queries a membership filter.
func (r *Registry) Contains(h Handle, item []byte) (bool, error) {
	s, err := r.get(h)
	if err != nil {
		return false, err
	}
	r.metrics.operations.WithLabelValues("contains").Inc()
	f, ok := s.(sketch.MembershipFilter)
	if !ok {
		return false, sketch.Incompatiblef("%s is not a membership filter", s.Type())
	}
	return f.Contains(item)
}

// Remove deletes an item from a deletable filter.
func (r *Registry) Remove(h Handle, item []byte) (bool, error) {
	s, err := r.get(h)
	if err != nil {
		return false, err
	}
	r.metrics.operations.WithLabelValues("remove").Inc()
	d, ok := s.(sketch.Deletable)
	if !ok {
		return false, sketch.Incompatiblef("%s does not support removal", s.Type())
	}
	return d.Remove(item), nil
}

// Build freezes a phased filter.
func (r *Registry) Build(h Handle) error {
	s, err := r.get(h)
	if err != nil {
		return err
	}
	r.metrics.operations.WithLabelValues("build").Inc()
	b, ok := s.(interface{ Build() error })
	if !ok {
		return sketch.Incompatiblef("%s has no build phase", s.Type())
	}
	return b.Build()
}

// Insert observes an item in a cardinality sketch.
func (r *Registry) Insert(h Handle, item []byte) error {
	s, err := r.get(h)
	if err != nil {
		return err
	}
	r.metrics.operations.WithLabelValues("insert").Inc()
	c, ok := s.(sketch.CardinalityEstimator)
	if !ok {
		return sketch.Incompatiblef("%s does not estimate cardinality", s.Type())
	}
	c.Insert(item)
	return nil
}

// Estimate returns a cardinality sketch's distinct count.
func (r *Registry) Estimate(h Handle) (uint64, error) {
	s, err := r.get(h)
	if err != nil {
		return 0, err
	}
	r.metrics.operations.WithLabelValues("estimate").Inc()
	c, ok := s.(sketch.CardinalityEstimator)
	if !ok {
		return 0, sketch.Incompatiblef("%s does not estimate cardinality", s.Type())
	}
	return c.Estimate(), nil
}

// Merge folds the src sketch into dst. Both handles stay live.
func (r *Registry) Merge(dst, src Handle) error {
	d, err := r.get(dst)
	if err != nil {
		return err
	}
	s, err := r.get(src)
	if err != nil {
		return err
	}
	r.metrics.operations.WithLabelValues("merge").Inc()
	m, ok := d.(sketch.Mergeable)
	if !ok {
		return sketch.Incompatiblef("%s is not mergeable", d.Type())
	}
	return m.Merge(s)
}

// Serialize encodes the sketch behind the handle.
func (r *Registry) Serialize(h Handle) ([]byte, error) {
	s, err := r.get(h)
	if err != nil {
		return nil, err
	}
	r.metrics.operations.WithLabelValues("serialize").Inc()
	return s.Serialize()
}

// Sketch returns the live sketch for callers that need the concrete API.
// The registry still owns it; Release invalidates the handle, not the
// returned value.
func (r *Registry) Sketch(h Handle) (sketch.Sketch, error) {
	return r.get(h)
}
