package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamsketch/streamsketch/pkg/sketch"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(sketch.TypeCountMin)
	w.Uint8(7)
	w.Uint16(1234)
	w.Uint32(567890)
	w.Uint64(1 << 40)
	w.Int32(-42)
	w.Int64(-1 << 40)
	w.Float64(3.14159)
	w.Bytes([]byte("payload"))
	w.Bytes(nil)
	blob := w.Finish()

	got, err := PeekType(blob)
	require.NoError(t, err)
	require.Equal(t, sketch.TypeCountMin, got)

	r := NewReader(blob, sketch.TypeCountMin)
	require.Equal(t, uint8(7), r.Uint8())
	require.Equal(t, uint16(1234), r.Uint16())
	require.Equal(t, uint32(567890), r.Uint32())
	require.Equal(t, uint64(1<<40), r.Uint64())
	require.Equal(t, int32(-42), r.Int32())
	require.Equal(t, int64(-1<<40), r.Int64())
	require.Equal(t, 3.14159, r.Float64())
	require.Equal(t, []byte("payload"), r.Bytes())
	require.Empty(t, r.Bytes())
	require.NoError(t, r.Close())
}

func TestReaderHeaderValidation(t *testing.T) {
	blob := NewWriter(sketch.TypeDDSketch).Finish()

	t.Run("wrong type", func(t *testing.T) {
		r := NewReader(blob, sketch.TypeCountMin)
		require.ErrorIs(t, r.Err(), sketch.ErrCorruptData)
	})
	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte{}, blob...)
		bad[0] ^= 0xff
		_, err := PeekType(bad)
		require.ErrorIs(t, err, sketch.ErrCorruptData)
	})
	t.Run("unknown version", func(t *testing.T) {
		bad := append([]byte{}, blob...)
		bad[2] = 99
		_, err := PeekType(bad)
		require.ErrorIs(t, err, sketch.ErrCorruptData)
	})
	t.Run("truncated header", func(t *testing.T) {
		_, err := PeekType(blob[:2])
		require.ErrorIs(t, err, sketch.ErrCorruptData)
	})
}

func TestReaderStickyError(t *testing.T) {
	w := NewWriter(sketch.TypeCountMin)
	w.Uint32(1)
	blob := w.Finish()

	r := NewReader(blob, sketch.TypeCountMin)
	require.Equal(t, uint32(1), r.Uint32())
	// Overread: the first failure poisons everything after it.
	require.Zero(t, r.Uint64())
	require.Zero(t, r.Uint32())
	require.Nil(t, r.Bytes())
	require.ErrorIs(t, r.Err(), sketch.ErrCorruptData)
	require.ErrorIs(t, r.Close(), sketch.ErrCorruptData)
}

func TestReaderRejectsTrailingBytes(t *testing.T) {
	w := NewWriter(sketch.TypeCountMin)
	w.Uint32(1)
	w.Uint32(2)
	blob := w.Finish()

	r := NewReader(blob, sketch.TypeCountMin)
	r.Uint32()
	require.Equal(t, 4, r.Remaining())
	require.ErrorIs(t, r.Close(), sketch.ErrCorruptData)
}

func TestBytesLengthBeyondPayload(t *testing.T) {
	w := NewWriter(sketch.TypeCountMin)
	w.Uint32(1 << 30)
	blob := w.Finish()

	r := NewReader(blob, sketch.TypeCountMin)
	require.Nil(t, r.Bytes())
	require.ErrorIs(t, r.Err(), sketch.ErrCorruptData)
}
