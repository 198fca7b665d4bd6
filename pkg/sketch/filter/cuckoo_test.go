package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
)

func TestCuckooFilterAddContainsRemove(t *testing.T) {
	f, err := NewCuckooFilter(2000, 42)
	require.NoError(t, err)
	require.True(t, f.IsEmpty())

	for i := 0; i < 1000; i++ {
		require.NoError(t, f.Add([]byte(fmt.Sprintf("item-%d", i))))
	}
	require.Equal(t, uint64(1000), f.Count())

	// No false negatives for present items.
	for i := 0; i < 1000; i++ {
		ok, err := f.Contains([]byte(fmt.Sprintf("item-%d", i)))
		require.NoError(t, err)
		require.True(t, ok, "item-%d", i)
	}

	// 16-bit fingerprints over 8 inspected slots keep the false positive
	// rate well under 1%.
	fps := 0
	for i := 0; i < 10_000; i++ {
		ok, err := f.Contains([]byte(fmt.Sprintf("stranger-%d", i)))
		require.NoError(t, err)
		if ok {
			fps++
		}
	}
	require.Less(t, fps, 100)

	require.True(t, f.Remove([]byte("item-0")))
	require.Equal(t, uint64(999), f.Count())
	ok, err := f.Contains([]byte("item-0"))
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, f.Remove([]byte("item-0")))
}

func TestCuckooFilterFullRollsBack(t *testing.T) {
	// Capacity 4 collapses to a single bucket, so the fifth distinct item
	// cannot be placed no matter how many kicks run.
	f, err := NewCuckooFilter(4, 42)
	require.NoError(t, err)

	var kept []string
	var rejected int
	for i := 0; i < 8; i++ {
		item := fmt.Sprintf("item-%d", i)
		if err := f.Add([]byte(item)); err != nil {
			require.ErrorIs(t, err, sketch.ErrFilterFull)
			rejected++
		} else {
			kept = append(kept, item)
		}
	}
	require.Equal(t, 4, len(kept))
	require.Equal(t, 4, rejected)

	// A failed insert must leave earlier answers intact.
	for _, item := range kept {
		ok, err := f.Contains([]byte(item))
		require.NoError(t, err)
		require.True(t, ok, item)
	}
}

func TestCuckooFilterSerializeRoundTrip(t *testing.T) {
	f, err := NewCuckooFilter(500, 42)
	require.NoError(t, err)
	for i := 0; i < 300; i++ {
		require.NoError(t, f.Add([]byte(fmt.Sprintf("item-%d", i))))
	}

	blob, err := f.Serialize()
	require.NoError(t, err)

	got, err := DeserializeCuckooFilter(blob)
	require.NoError(t, err)
	require.Equal(t, f.Count(), got.Count())
	for i := 0; i < 300; i++ {
		ok, err := got.Contains([]byte(fmt.Sprintf("item-%d", i)))
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.True(t, got.Remove([]byte("item-7")))

	_, err = DeserializeCuckooFilter(blob[:len(blob)-1])
	require.ErrorIs(t, err, sketch.ErrCorruptData)
}

func TestCuckooFilterInvalidParams(t *testing.T) {
	_, err := NewCuckooFilter(0, 42)
	require.ErrorAs(t, err, &sketch.InvalidParamError{})
}

func TestCuckooFilterDeserializeOversizedHeader(t *testing.T) {
	// A header claiming a huge capacity with no bucket data behind it must
	// be rejected from the payload length alone.
	w := wire.NewWriter(sketch.TypeCuckooFilter)
	w.Uint64(1 << 40)
	w.Uint64(42)
	w.Uint64(0)
	w.Uint32(1 << 28)
	_, err := DeserializeCuckooFilter(w.Finish())
	require.ErrorIs(t, err, sketch.ErrCorruptData)

	t.Run("bucket count mismatch", func(t *testing.T) {
		w := wire.NewWriter(sketch.TypeCuckooFilter)
		w.Uint64(8)
		w.Uint64(42)
		w.Uint64(0)
		w.Uint32(4)
		for i := 0; i < 4*slotsPerBucket; i++ {
			w.Uint16(0)
		}
		_, err := DeserializeCuckooFilter(w.Finish())
		require.ErrorIs(t, err, sketch.ErrCorruptData)
	})
}
