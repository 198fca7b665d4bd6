package similarity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
)

func TestMinHashJaccard(t *testing.T) {
	a, err := NewMinHash(256, 42)
	require.NoError(t, err)
	b, err := NewMinHash(256, 42)
	require.NoError(t, err)

	// |A∩B| = 700, |A∪B| = 1300, true Jaccard ≈ 0.538.
	for i := 0; i < 1000; i++ {
		a.Insert([]byte(fmt.Sprintf("elem-%d", i)))
	}
	for i := 300; i < 1300; i++ {
		b.Insert([]byte(fmt.Sprintf("elem-%d", i)))
	}

	j, err := a.Jaccard(b)
	require.NoError(t, err)
	require.InDelta(t, 700.0/1300.0, j, 0.15)

	// Identical sets agree on every signature position.
	self, err := a.Jaccard(a)
	require.NoError(t, err)
	require.Equal(t, 1.0, self)
}

func TestMinHashIncompatible(t *testing.T) {
	a, err := NewMinHash(256, 42)
	require.NoError(t, err)

	other, err := NewMinHash(128, 42)
	require.NoError(t, err)
	_, err = a.Jaccard(other)
	require.ErrorAs(t, err, &sketch.IncompatibleError{})
	require.ErrorAs(t, a.Merge(other), &sketch.IncompatibleError{})

	reseeded, err := NewMinHash(256, 7)
	require.NoError(t, err)
	_, err = a.Jaccard(reseeded)
	require.ErrorAs(t, err, &sketch.IncompatibleError{})
}

func TestMinHashMergeIsUnion(t *testing.T) {
	a, err := NewMinHash(128, 42)
	require.NoError(t, err)
	b, err := NewMinHash(128, 42)
	require.NoError(t, err)
	union, err := NewMinHash(128, 42)
	require.NoError(t, err)

	for i := 0; i < 500; i++ {
		a.Insert([]byte(fmt.Sprintf("elem-%d", i)))
		union.Insert([]byte(fmt.Sprintf("elem-%d", i)))
	}
	for i := 250; i < 750; i++ {
		b.Insert([]byte(fmt.Sprintf("elem-%d", i)))
		union.Insert([]byte(fmt.Sprintf("elem-%d", i)))
	}

	require.NoError(t, a.Merge(b))

	// The merged signature is exactly the directly built union signature.
	j, err := a.Jaccard(union)
	require.NoError(t, err)
	require.Equal(t, 1.0, j)
}

func TestMinHashSerializeRoundTrip(t *testing.T) {
	m, err := NewMinHash(64, 42)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		m.Insert([]byte(fmt.Sprintf("elem-%d", i)))
	}

	blob, err := m.Serialize()
	require.NoError(t, err)

	got, err := DeserializeMinHash(blob)
	require.NoError(t, err)
	require.Equal(t, m.K(), got.K())
	require.Equal(t, m.Seed(), got.Seed())
	j, err := m.Jaccard(got)
	require.NoError(t, err)
	require.Equal(t, 1.0, j)

	_, err = DeserializeMinHash(blob[:len(blob)-1])
	require.ErrorIs(t, err, sketch.ErrCorruptData)
}

func TestMinHashInvalidParams(t *testing.T) {
	_, err := NewMinHash(0, 42)
	require.ErrorAs(t, err, &sketch.InvalidParamError{})
}

func TestMinHashDeserializeOversizedHeader(t *testing.T) {
	// A header claiming a huge signature with no slots behind it must be
	// rejected from the payload length alone.
	w := wire.NewWriter(sketch.TypeMinHash)
	w.Uint32(1 << 30)
	w.Uint64(42)
	w.Uint64(0)
	_, err := DeserializeMinHash(w.Finish())
	require.ErrorIs(t, err, sketch.ErrCorruptData)
}
