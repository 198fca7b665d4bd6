package cardinality

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamsketch/streamsketch/pkg/sketch"
)

func TestHyperLogLogEstimate(t *testing.T) {
	h, err := NewHyperLogLog(14)
	require.NoError(t, err)
	require.True(t, h.IsEmpty())

	for i := 0; i < 100_000; i++ {
		h.Insert([]byte(fmt.Sprintf("item-%d", i)))
	}
	// Duplicates must not move the estimate.
	before := h.Estimate()
	for i := 0; i < 100_000; i++ {
		h.Insert([]byte(fmt.Sprintf("item-%d", i)))
	}
	require.Equal(t, before, h.Estimate())

	// Precision 14 gives ~0.8% standard error; allow 5%.
	require.InDelta(t, 100_000, h.Estimate(), 5_000)
}

func TestHyperLogLogMerge(t *testing.T) {
	a, err := NewHyperLogLog(14)
	require.NoError(t, err)
	b, err := NewHyperLogLog(14)
	require.NoError(t, err)

	// 0..59_999 and 40_000..99_999: the union is 100_000 distinct.
	for i := 0; i < 60_000; i++ {
		a.Insert([]byte(fmt.Sprintf("item-%d", i)))
	}
	for i := 40_000; i < 100_000; i++ {
		b.Insert([]byte(fmt.Sprintf("item-%d", i)))
	}
	require.NoError(t, a.Merge(b))
	require.InDelta(t, 100_000, a.Estimate(), 5_000)

	c, err := NewHyperLogLog(12)
	require.NoError(t, err)
	require.ErrorAs(t, a.Merge(c), &sketch.IncompatibleError{})
}

func TestHyperLogLogSerializeRoundTrip(t *testing.T) {
	h, err := NewHyperLogLog(14)
	require.NoError(t, err)
	for i := 0; i < 10_000; i++ {
		h.Insert([]byte(fmt.Sprintf("item-%d", i)))
	}

	blob, err := h.Serialize()
	require.NoError(t, err)

	got, err := DeserializeHyperLogLog(blob)
	require.NoError(t, err)
	require.Equal(t, h.Estimate(), got.Estimate())
	require.Equal(t, h.Precision(), got.Precision())

	_, err = DeserializeHyperLogLog(blob[:len(blob)-1])
	require.ErrorIs(t, err, sketch.ErrCorruptData)
}

func TestHyperLogLogInvalidParams(t *testing.T) {
	_, err := NewHyperLogLog(3)
	require.ErrorAs(t, err, &sketch.InvalidParamError{})
	_, err = NewHyperLogLog(19)
	require.ErrorAs(t, err, &sketch.InvalidParamError{})

	h, err := NewHyperLogLog(0)
	require.NoError(t, err)
	require.Equal(t, uint8(DefaultPrecision), h.Precision())
}
