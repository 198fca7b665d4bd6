package similarity

import (
	"math/bits"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
	"github.com/streamsketch/streamsketch/pkg/util/hashing"
)

// SimHash produces a 64-bit locality-sensitive signature of a weighted
// feature stream. Each feature's hash votes its weight on every signature
// bit, positive where the hash bit is set and negative where it is clear; the
// final signature takes the sign of each tally. Near-duplicate documents land
// at small Hamming distance.
//
// SimHash is not mergeable as a sketch: the signature alone cannot be
// combined, and folding tallies would conflate two documents into neither.
type SimHash struct {
	seed     uint64
	tally    [64]int64
	features uint64
}

// NewSimHash creates an empty signature accumulator.
func NewSimHash(seed uint64) *SimHash {
	return &SimHash{seed: seed}
}

func (s *SimHash) Type() sketch.Type { return sketch.TypeSimHash }
func (s *SimHash) Seed() uint64      { return s.seed }
func (s *SimHash) IsEmpty() bool     { return s.features == 0 }

// Add observes a feature with weight 1.
func (s *SimHash) Add(feature []byte) {
	s.AddWeighted(feature, 1)
}

// AddWeighted observes a feature with the given weight.
func (s *SimHash) AddWeighted(feature []byte, weight int64) {
	if weight == 0 {
		return
	}
	h, _ := hashing.Hash2(s.seed, feature)
	for b := 0; b < 64; b++ {
		if h>>uint(b)&1 == 1 {
			s.tally[b] += weight
		} else {
			s.tally[b] -= weight
		}
	}
	s.features++
}

// Signature returns the current 64-bit signature.
func (s *SimHash) Signature() uint64 {
	var sig uint64
	for b := 0; b < 64; b++ {
		if s.tally[b] > 0 {
			sig |= 1 << uint(b)
		}
	}
	return sig
}

// Distance is the Hamming distance between two signatures.
func (s *SimHash) Distance(other *SimHash) (int, error) {
	if s.seed != other.seed {
		return 0, sketch.Incompatiblef("seeds differ: %d vs %d", s.seed, other.seed)
	}
	return bits.OnesCount64(s.Signature() ^ other.Signature()), nil
}

// Similarity maps Hamming distance to [0, 1], 1 meaning identical signatures.
func (s *SimHash) Similarity(other *SimHash) (float64, error) {
	d, err := s.Distance(other)
	if err != nil {
		return 0, err
	}
	return 1 - float64(d)/64, nil
}

// Serialize encodes the sketch as
// [header][seed:8][features:8][tally: i64 x 64].
func (s *SimHash) Serialize() ([]byte, error) {
	w := wire.NewWriter(s.Type())
	w.Uint64(s.seed)
	w.Uint64(s.features)
	for _, t := range s.tally {
		w.Int64(t)
	}
	return w.Finish(), nil
}

// DeserializeSimHash reconstructs a SimHash from its wire form.
func DeserializeSimHash(b []byte) (*SimHash, error) {
	r := wire.NewReader(b, sketch.TypeSimHash)
	seed := r.Uint64()
	features := r.Uint64()
	s := NewSimHash(seed)
	s.features = features
	for i := range s.tally {
		s.tally[i] = r.Int64()
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return s, nil
}
