// Package wire implements the binary serialization contract shared by the
// sketch family:
//
//	[magic:2][format-version:1][type-tag:1][structural parameters][payload]
//
// All fixed-width fields are little-endian. The structural parameters needed
// to reconstruct hash behavior always travel inside the blob, so a reader can
// rebuild an equivalent sketch without access to the original construction
// code. The format version makes future payload changes detectable.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/streamsketch/streamsketch/pkg/sketch"
)

const (
	// Magic is the first two bytes of every serialized sketch ("sk").
	Magic uint16 = 0x6b73
	// Version is the current format version.
	Version uint8 = 1

	headerLen = 4
)

// AppendHeader appends the wire header for the given sketch type.
func AppendHeader(b []byte, t sketch.Type) []byte {
	b = binary.LittleEndian.AppendUint16(b, Magic)
	b = append(b, Version, uint8(t))
	return b
}

// PeekType reads the sketch type from a serialized blob without consuming it.
func PeekType(b []byte) (sketch.Type, error) {
	if len(b) < headerLen {
		return sketch.TypeUnknown, errors.Wrap(sketch.ErrCorruptData, "truncated header")
	}
	if binary.LittleEndian.Uint16(b) != Magic {
		return sketch.TypeUnknown, errors.Wrap(sketch.ErrCorruptData, "bad magic")
	}
	if b[2] != Version {
		return sketch.TypeUnknown, errors.Wrapf(sketch.ErrCorruptData, "unknown format version %d", b[2])
	}
	return sketch.Type(b[3]), nil
}

// CheckHeader validates the header against an expected sketch type and
// returns the payload that follows it.
func CheckHeader(b []byte, want sketch.Type) ([]byte, error) {
	got, err := PeekType(b)
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, errors.Wrapf(sketch.ErrCorruptData, "type tag is %s, want %s", got, want)
	}
	return b[headerLen:], nil
}

// Writer accumulates little-endian fields into a serialized blob.
type Writer struct {
	buf []byte
}

// NewWriter starts a blob with the wire header for the given type.
func NewWriter(t sketch.Type) *Writer {
	return &Writer{buf: AppendHeader(make([]byte, 0, 64), t)}
}

func (w *Writer) Uint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) Uint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *Writer) Uint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) Uint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *Writer) Int32(v int32)   { w.Uint32(uint32(v)) }
func (w *Writer) Int64(v int64)   { w.Uint64(uint64(v)) }

func (w *Writer) Float64(v float64) {
	w.Uint64(math.Float64bits(v))
}

// Bytes appends a length-prefixed byte string.
func (w *Writer) Bytes(b []byte) {
	w.Uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// Finish returns the completed blob.
func (w *Writer) Finish() []byte {
	return w.buf
}

// Reader consumes little-endian fields from a payload. Errors are sticky: the
// first failure poisons all subsequent reads, so decoders can read every
// field and check Err once at the end.
type Reader struct {
	b   []byte
	err error
}

// NewReader validates the header for the expected type and wraps the payload.
func NewReader(b []byte, want sketch.Type) *Reader {
	payload, err := CheckHeader(b, want)
	if err != nil {
		return &Reader{err: err}
	}
	return &Reader{b: payload}
}

func (r *Reader) fail(what string) {
	if r.err == nil {
		r.err = errors.Wrapf(sketch.ErrCorruptData, "truncated %s", what)
	}
}

func (r *Reader) Uint8() uint8 {
	if r.err != nil || len(r.b) < 1 {
		r.fail("uint8")
		return 0
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v
}

func (r *Reader) Uint16() uint16 {
	if r.err != nil || len(r.b) < 2 {
		r.fail("uint16")
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *Reader) Uint32() uint32 {
	if r.err != nil || len(r.b) < 4 {
		r.fail("uint32")
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b)
	r.b = r.b[4:]
	return v
}

func (r *Reader) Uint64() uint64 {
	if r.err != nil || len(r.b) < 8 {
		r.fail("uint64")
		return 0
	}
	v := binary.LittleEndian.Uint64(r.b)
	r.b = r.b[8:]
	return v
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }
func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

func (r *Reader) Float64() float64 {
	return math.Float64frombits(r.Uint64())
}

// Bytes reads a length-prefixed byte string. The returned slice is a copy.
func (r *Reader) Bytes() []byte {
	n := int(r.Uint32())
	if r.err != nil || len(r.b) < n {
		r.fail("bytes")
		return nil
	}
	v := make([]byte, n)
	copy(v, r.b)
	r.b = r.b[n:]
	return v
}

// Remaining reports how many unread payload bytes are left.
func (r *Reader) Remaining() int {
	return len(r.b)
}

// Err returns the first decode failure, if any.
func (r *Reader) Err() error {
	return r.err
}

// Close verifies the payload was consumed exactly. Trailing bytes mean the
// blob does not match the declared structure and are rejected.
func (r *Reader) Close() error {
	if r.err != nil {
		return r.err
	}
	if len(r.b) != 0 {
		return errors.Wrapf(sketch.ErrCorruptData, "%d trailing bytes", len(r.b))
	}
	return nil
}
