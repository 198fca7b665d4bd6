// Package similarity implements set and document resemblance sketches.
package similarity

import (
	"math"

	"github.com/pkg/errors"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
	"github.com/streamsketch/streamsketch/pkg/util/hashing"
)

// MinHash approximates Jaccard similarity between sets. The signature keeps
// the minimum of k independent hash values over all inserted items; the
// fraction of agreeing positions between two signatures is an unbiased
// estimate of the Jaccard index, with standard error about 1/sqrt(k).
type MinHash struct {
	k         int
	seed      uint64
	signature []uint64
	inserts   uint64
}

// NewMinHash creates a signature of k hash permutations.
func NewMinHash(k int, seed uint64) (*MinHash, error) {
	if k <= 0 {
		return nil, sketch.InvalidParamf("k", k, "must be > 0")
	}
	sig := make([]uint64, k)
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	return &MinHash{k: k, seed: seed, signature: sig}, nil
}

func (m *MinHash) Type() sketch.Type { return sketch.TypeMinHash }
func (m *MinHash) K() int            { return m.k }
func (m *MinHash) Seed() uint64      { return m.seed }
func (m *MinHash) IsEmpty() bool     { return m.inserts == 0 }

// Insert adds one set element. Duplicates do not change the signature.
func (m *MinHash) Insert(item []byte) {
	h1, h2 := hashing.Hash2(m.seed, item)
	for i := range m.signature {
		if v := hashing.Value(h1, h2, uint32(i)); v < m.signature[i] {
			m.signature[i] = v
		}
	}
	m.inserts++
}

// Jaccard estimates the Jaccard index against another signature of the same
// k and seed.
func (m *MinHash) Jaccard(other *MinHash) (float64, error) {
	if m.k != other.k {
		return 0, sketch.Incompatiblef("signature sizes differ: %d vs %d", m.k, other.k)
	}
	if m.seed != other.seed {
		return 0, sketch.Incompatiblef("seeds differ: %d vs %d", m.seed, other.seed)
	}
	equal := 0
	for i := range m.signature {
		if m.signature[i] == other.signature[i] {
			equal++
		}
	}
	return float64(equal) / float64(m.k), nil
}

// Merge takes the element-wise minimum, producing the signature of the set
// union.
func (m *MinHash) Merge(other sketch.Sketch) error {
	from, ok := other.(*MinHash)
	if !ok {
		return sketch.Incompatiblef("cannot merge %s into %s", other.Type(), m.Type())
	}
	if m.k != from.k {
		return sketch.Incompatiblef("signature sizes differ: %d vs %d", m.k, from.k)
	}
	if m.seed != from.seed {
		return sketch.Incompatiblef("seeds differ: %d vs %d", m.seed, from.seed)
	}
	for i := range m.signature {
		if from.signature[i] < m.signature[i] {
			m.signature[i] = from.signature[i]
		}
	}
	m.inserts += from.inserts
	return nil
}

// Serialize encodes the sketch as
// [header][k:4][seed:8][inserts:8][signature: u64 each].
func (m *MinHash) Serialize() ([]byte, error) {
	w := wire.NewWriter(m.Type())
	w.Uint32(uint32(m.k))
	w.Uint64(m.seed)
	w.Uint64(m.inserts)
	for _, v := range m.signature {
		w.Uint64(v)
	}
	return w.Finish(), nil
}

// DeserializeMinHash reconstructs a MinHash from its wire form.
func DeserializeMinHash(b []byte) (*MinHash, error) {
	r := wire.NewReader(b, sketch.TypeMinHash)
	k := r.Uint32()
	seed := r.Uint64()
	inserts := r.Uint64()
	if err := r.Err(); err != nil {
		return nil, err
	}
	// Check the claimed signature size against the payload before it is
	// allocated; the header is untrusted input.
	if uint64(r.Remaining()) != uint64(k)*8 {
		return nil, errors.Wrapf(sketch.ErrCorruptData, "payload holds %d signature slots, want %d", r.Remaining()/8, k)
	}
	m, err := NewMinHash(int(k), seed)
	if err != nil {
		return nil, err
	}
	m.inserts = inserts
	for i := range m.signature {
		m.signature[i] = r.Uint64()
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return m, nil
}
