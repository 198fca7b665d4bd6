package filter

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
	"github.com/streamsketch/streamsketch/pkg/util/hashing"
)

const (
	// ribbonBandWidth is the coefficient band width; rows span 64 adjacent
	// columns starting at the item's hashed position.
	ribbonBandWidth = 64
	// ribbonOverhead sizes the slot table at ~5% above capacity plus one
	// band of slack so the linear system stays solvable with high
	// probability.
	ribbonOverhead = 0.95
	// maxBuildAttempts bounds reseed-and-rebuild retries when elimination
	// hits a dependent row.
	maxBuildAttempts = 8
)

// RibbonFilter is a static approximate membership filter. Items are buffered
// during an add phase, then Build solves a banded linear system over GF(2):
// each item contributes one equation whose coefficient row is 64 bits wide
// starting at a hashed slot, and whose right-hand side is the item's
// fingerprint. After back-substitution a query recomputes the row, XORs the
// selected solution entries and compares against the fingerprint, so every
// built item matches exactly and strangers match with probability 2^-fpBits.
//
// The two phases are strict: Add after Build returns ErrAlreadyBuilt and
// Contains before Build returns ErrNotBuilt. If elimination fails the build
// reseeds and retries from the buffered items.
//
// Ribbon filters are not mergeable: the solution vector satisfies one
// specific equation system and two systems cannot be combined.
type RibbonFilter struct {
	capacity uint64
	fpBits   uint8
	fpMask   uint16
	numSlots int
	seed     uint64

	// buildSeed is the seed that produced the solution; it differs from seed
	// after reseed recovery.
	buildSeed uint64
	pending   [][]byte
	solution  []uint16
}

// NewRibbonFilter creates a filter for the given number of items and target
// false positive rate.
func NewRibbonFilter(capacity uint64, fpRate float64, seed uint64) (*RibbonFilter, error) {
	if capacity == 0 {
		return nil, sketch.InvalidParamf("capacity", capacity, "must be > 0")
	}
	if fpRate <= 0 || fpRate >= 1 {
		return nil, sketch.InvalidParamf("fpRate", fpRate, "must be in (0, 1)")
	}
	fpBits := int(math.Ceil(math.Log2(1 / fpRate)))
	if fpBits < 1 {
		fpBits = 1
	}
	if fpBits > 16 {
		fpBits = 16
	}
	return &RibbonFilter{
		capacity: capacity,
		fpBits:   uint8(fpBits),
		fpMask:   uint16(1<<uint(fpBits) - 1),
		numSlots: int(math.Ceil(float64(capacity)/ribbonOverhead)) + ribbonBandWidth,
		seed:     seed,
	}, nil
}

func (f *RibbonFilter) Type() sketch.Type { return sketch.TypeRibbonFilter }
func (f *RibbonFilter) IsEmpty() bool     { return len(f.pending) == 0 && f.solution == nil }
func (f *RibbonFilter) Built() bool       { return f.solution != nil }
func (f *RibbonFilter) Capacity() uint64  { return f.capacity }

// FPBits is the fingerprint width; the false positive rate is 2^-FPBits.
func (f *RibbonFilter) FPBits() int { return int(f.fpBits) }

// Add buffers an item for the build. The item bytes are copied.
func (f *RibbonFilter) Add(item []byte) error {
	if f.solution != nil {
		return sketch.ErrAlreadyBuilt
	}
	if uint64(len(f.pending)) >= f.capacity {
		return sketch.ErrFilterFull
	}
	cp := make([]byte, len(item))
	copy(cp, item)
	f.pending = append(f.pending, cp)
	return nil
}

// row derives an item's equation: a start slot, a 64-bit coefficient word
// with its lowest bit set, and a fingerprint right-hand side.
func (f *RibbonFilter) row(seed uint64, item []byte) (int, uint64, uint16) {
	h1, h2 := hashing.Hash2(seed, item)
	start := int(h1 % uint64(f.numSlots-ribbonBandWidth+1))
	coeff := h2 | 1
	result := uint16(hashing.Mix64(h2)) & f.fpMask
	return start, coeff, result
}

// eliminate inserts one equation into the banded system. Returns false when
// the row is linearly dependent with a conflicting right-hand side.
func eliminate(coeffs []uint64, results []uint16, s int, c uint64, r uint16) bool {
	for {
		if coeffs[s] == 0 {
			coeffs[s] = c
			results[s] = r
			return true
		}
		c ^= coeffs[s]
		r ^= results[s]
		if c == 0 {
			// Dependent row: harmless for duplicates, fatal otherwise.
			return r == 0
		}
		tz := bits.TrailingZeros64(c)
		c >>= uint(tz)
		s += tz
	}
}

// Build solves the system and freezes the filter. On a dependent-row failure
// it reseeds and retries from the buffered items; ErrBuildFailed is returned
// only after all attempts fail, leaving the filter still in the add phase.
func (f *RibbonFilter) Build() error {
	if f.solution != nil {
		return sketch.ErrAlreadyBuilt
	}

	for attempt := 0; attempt < maxBuildAttempts; attempt++ {
		seed := f.seed
		if attempt > 0 {
			seed = hashing.Mix64(f.seed + uint64(attempt))
		}
		coeffs := make([]uint64, f.numSlots)
		results := make([]uint16, f.numSlots)

		ok := true
		for _, item := range f.pending {
			s, c, r := f.row(seed, item)
			if !eliminate(coeffs, results, s, c, r) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		f.solution = backSubstitute(coeffs, results)
		f.buildSeed = seed
		f.pending = nil
		return nil
	}
	return sketch.ErrBuildFailed
}

// backSubstitute walks the triangular system bottom-up. Free slots get zero.
func backSubstitute(coeffs []uint64, results []uint16) []uint16 {
	n := len(coeffs)
	solution := make([]uint16, n)
	for s := n - 1; s >= 0; s-- {
		if coeffs[s] == 0 {
			continue
		}
		v := results[s]
		c := coeffs[s] >> 1
		for j := 1; c != 0; j++ {
			if c&1 == 1 {
				v ^= solution[s+j]
			}
			c >>= 1
		}
		solution[s] = v
	}
	return solution
}

// Contains reports whether the item may be in the built set. Every item that
// went into the build answers true; others answer true with probability
// 2^-FPBits.
func (f *RibbonFilter) Contains(item []byte) (bool, error) {
	if f.solution == nil {
		return false, sketch.ErrNotBuilt
	}
	s, c, r := f.row(f.buildSeed, item)
	v := uint16(0)
	for j := 0; c != 0; j++ {
		if c&1 == 1 {
			v ^= f.solution[s+j]
		}
		c >>= 1
	}
	return v == r, nil
}

// Serialize encodes a built filter as
// [header][capacity:8][seed:8][buildSeed:8][fpBits:1][numSlots:8]
// [solution: u16 each]. An unbuilt filter cannot be serialized because the
// buffered items are not part of the wire contract.
func (f *RibbonFilter) Serialize() ([]byte, error) {
	if f.solution == nil {
		return nil, sketch.ErrNotBuilt
	}
	w := wire.NewWriter(f.Type())
	w.Uint64(f.capacity)
	w.Uint64(f.seed)
	w.Uint64(f.buildSeed)
	w.Uint8(f.fpBits)
	w.Uint64(uint64(f.numSlots))
	for _, v := range f.solution {
		w.Uint16(v)
	}
	return w.Finish(), nil
}

// DeserializeRibbonFilter reconstructs a built RibbonFilter from its wire
// form.
func DeserializeRibbonFilter(b []byte) (*RibbonFilter, error) {
	r := wire.NewReader(b, sketch.TypeRibbonFilter)
	capacity := r.Uint64()
	seed := r.Uint64()
	buildSeed := r.Uint64()
	fpBits := r.Uint8()
	numSlots := r.Uint64()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if fpBits < 1 || fpBits > 16 {
		return nil, sketch.InvalidParamf("fpBits", fpBits, "must be in [1, 16]")
	}
	if capacity == 0 {
		return nil, errors.Wrap(sketch.ErrCorruptData, "zero capacity")
	}
	// The slot count must match both the payload length and the geometry
	// implied by capacity; row derivation indexes out of bounds otherwise.
	if numSlots > math.MaxInt32 || uint64(r.Remaining()) != 2*numSlots {
		return nil, errors.Wrapf(sketch.ErrCorruptData, "payload holds %d solution slots, want %d", r.Remaining()/2, numSlots)
	}
	if capacity > numSlots || int(numSlots) != int(math.Ceil(float64(capacity)/ribbonOverhead))+ribbonBandWidth {
		return nil, errors.Wrapf(sketch.ErrCorruptData, "slot count %d does not match capacity %d", numSlots, capacity)
	}
	f := &RibbonFilter{
		capacity:  capacity,
		fpBits:    fpBits,
		fpMask:    uint16(1<<uint(fpBits) - 1),
		numSlots:  int(numSlots),
		seed:      seed,
		buildSeed: buildSeed,
		solution:  make([]uint16, numSlots),
	}
	for i := range f.solution {
		f.solution[i] = r.Uint16()
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return f, nil
}
