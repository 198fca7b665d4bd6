package registry

import (
	"flag"
	"fmt"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/streamsketch/streamsketch/pkg/sketch"
)

func testConfig(t *testing.T) sketch.Config {
	t.Helper()
	var c sketch.Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	c.Seed = 42
	return c
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(testConfig(t), log.NewNopLogger(), nil)
	require.NoError(t, err)
	return r
}

func TestRegistryFrequencyLifecycle(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Construct(Spec{Type: sketch.TypeCountMin})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, r.Update(h, []byte("apple")))
	}
	count, err := r.Count(h, []byte("apple"))
	require.NoError(t, err)
	require.Equal(t, int64(10), count)

	r.Release(h)
	require.Zero(t, r.Len())
}

func TestRegistryReleaseIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Construct(Spec{Type: sketch.TypeDDSketch})
	require.NoError(t, err)
	r.Release(h)
	r.Release(h)

	require.ErrorIs(t, r.AddValue(h, 1), sketch.ErrHandleReleased)
	_, err = r.Quantile(h, 0.5)
	require.ErrorIs(t, err, sketch.ErrHandleReleased)
	_, err = r.Serialize(h)
	require.ErrorIs(t, err, sketch.ErrHandleReleased)
	require.ErrorIs(t, r.Merge(h, h), sketch.ErrHandleReleased)
}

func TestRegistryHandlesAreNotReused(t *testing.T) {
	r := newTestRegistry(t)

	h1, err := r.Construct(Spec{Type: sketch.TypeCountMin})
	require.NoError(t, err)
	r.Release(h1)

	h2, err := r.Construct(Spec{Type: sketch.TypeCountMin})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
	require.ErrorIs(t, r.Update(h1, []byte("x")), sketch.ErrHandleReleased)
}

func TestRegistryCapabilityMismatch(t *testing.T) {
	r := newTestRegistry(t)

	cms, err := r.Construct(Spec{Type: sketch.TypeCountMin})
	require.NoError(t, err)
	dd, err := r.Construct(Spec{Type: sketch.TypeDDSketch})
	require.NoError(t, err)

	_, err = r.Quantile(cms, 0.5)
	require.ErrorAs(t, err, &sketch.IncompatibleError{})
	require.ErrorAs(t, r.Add(cms, []byte("x")), &sketch.IncompatibleError{})
	_, err = r.Count(dd, []byte("x"))
	require.ErrorAs(t, err, &sketch.IncompatibleError{})
	_, err = r.Remove(cms, []byte("x"))
	require.ErrorAs(t, err, &sketch.IncompatibleError{})
	require.ErrorAs(t, r.Build(cms), &sketch.IncompatibleError{})
	_, err = r.Estimate(cms)
	require.ErrorAs(t, err, &sketch.IncompatibleError{})
	require.ErrorAs(t, r.Merge(cms, dd), &sketch.IncompatibleError{})
}

func TestRegistryConstructAllTypes(t *testing.T) {
	r := newTestRegistry(t)

	types := []sketch.Type{
		sketch.TypeCountMin,
		sketch.TypeConservativeCountMin,
		sketch.TypeCountSketch,
		sketch.TypeSpaceSaving,
		sketch.TypeHeavyKeeper,
		sketch.TypeFrequentItems,
		sketch.TypeDDSketch,
		sketch.TypeTDigest,
		sketch.TypeCuckooFilter,
		sketch.TypeRibbonFilter,
		sketch.TypeBloomFilter,
		sketch.TypeHyperLogLog,
		sketch.TypeMinHash,
		sketch.TypeSimHash,
	}
	for _, typ := range types {
		t.Run(typ.String(), func(t *testing.T) {
			h, err := r.Construct(Spec{Type: typ})
			require.NoError(t, err)
			s, err := r.Sketch(h)
			require.NoError(t, err)
			require.Equal(t, typ, s.Type())
		})
	}

	_, err := r.Construct(Spec{Type: sketch.TypeUnknown})
	require.ErrorAs(t, err, &sketch.InvalidParamError{})
}

func TestRegistryFilterOperations(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Construct(Spec{Type: sketch.TypeRibbonFilter, Capacity: 100})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Add(h, []byte(fmt.Sprintf("item-%d", i))))
	}
	_, err = r.Contains(h, []byte("item-0"))
	require.ErrorIs(t, err, sketch.ErrNotBuilt)

	require.NoError(t, r.Build(h))
	ok, err := r.Contains(h, []byte("item-0"))
	require.NoError(t, err)
	require.True(t, ok)

	cuckoo, err := r.Construct(Spec{Type: sketch.TypeCuckooFilter, Capacity: 100})
	require.NoError(t, err)
	require.NoError(t, r.Add(cuckoo, []byte("x")))
	removed, err := r.Remove(cuckoo, []byte("x"))
	require.NoError(t, err)
	require.True(t, removed)
}

func TestRegistrySerializeDeserialize(t *testing.T) {
	r := newTestRegistry(t)

	h, err := r.Construct(Spec{Type: sketch.TypeConservativeCountMin})
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		require.NoError(t, r.Update(h, []byte("apple")))
	}

	blob, err := r.Serialize(h)
	require.NoError(t, err)

	h2, err := r.Deserialize(blob)
	require.NoError(t, err)
	require.NotEqual(t, h, h2)
	count, err := r.Count(h2, []byte("apple"))
	require.NoError(t, err)
	require.Equal(t, int64(25), count)

	s, err := r.Sketch(h2)
	require.NoError(t, err)
	require.Equal(t, sketch.TypeConservativeCountMin, s.Type())

	_, err = r.Deserialize([]byte{0x00, 0x01})
	require.ErrorIs(t, err, sketch.ErrCorruptData)
}

func TestRegistryMergeAcrossHandles(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Construct(Spec{Type: sketch.TypeHyperLogLog})
	require.NoError(t, err)
	b, err := r.Construct(Spec{Type: sketch.TypeHyperLogLog})
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		require.NoError(t, r.Update(a, []byte(fmt.Sprintf("a-%d", i))))
		require.NoError(t, r.Update(b, []byte(fmt.Sprintf("b-%d", i))))
	}
	require.NoError(t, r.Merge(a, b))

	estimate, err := r.Estimate(a)
	require.NoError(t, err)
	require.InDelta(t, 2000, estimate, 150)
}

func TestRegistryMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(testConfig(t), log.NewNopLogger(), reg)
	require.NoError(t, err)

	h1, err := r.Construct(Spec{Type: sketch.TypeCountMin})
	require.NoError(t, err)
	_, err = r.Construct(Spec{Type: sketch.TypeDDSketch})
	require.NoError(t, err)

	require.Equal(t, 2.0, testutil.ToFloat64(r.metrics.liveHandles))
	r.Release(h1)
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.liveHandles))
	// Releasing twice must not drive the gauge negative.
	r.Release(h1)
	require.Equal(t, 1.0, testutil.ToFloat64(r.metrics.liveHandles))
}

func TestRegistryInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Epsilon = 5
	_, err := New(cfg, nil, nil)
	require.ErrorAs(t, err, &sketch.InvalidParamError{})
}
