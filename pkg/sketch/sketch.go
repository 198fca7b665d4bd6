// Package sketch defines the capability surface shared by every sketch in this
// library. A concrete sketch implements Sketch plus whichever capability
// interfaces apply to it; callers (and the handle registry) program against
// these interfaces rather than concrete types.
//
// Merge support is deliberately a separate interface rather than a base method
// that errors: Cuckoo and Ribbon filters, HeavyKeeper and SimHash-style
// signatures have no safe merge, and that absence should be visible in the
// type system.
package sketch

// Type identifies a concrete sketch implementation. The value doubles as the
// type tag in the serialized form, so existing values must never be renumbered.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeCountMin
	TypeConservativeCountMin
	TypeCountSketch
	TypeSpaceSaving
	TypeHeavyKeeper
	TypeDDSketch
	TypeCuckooFilter
	TypeRibbonFilter
	TypeBloomFilter
	TypeHyperLogLog
	TypeTDigest
	TypeFrequentItems
	TypeMinHash
	TypeSimHash
)

func (t Type) String() string {
	switch t {
	case TypeCountMin:
		return "countmin"
	case TypeConservativeCountMin:
		return "countmin-conservative"
	case TypeCountSketch:
		return "countsketch"
	case TypeSpaceSaving:
		return "spacesaving"
	case TypeHeavyKeeper:
		return "heavykeeper"
	case TypeDDSketch:
		return "ddsketch"
	case TypeCuckooFilter:
		return "cuckoo"
	case TypeRibbonFilter:
		return "ribbon"
	case TypeBloomFilter:
		return "bloom"
	case TypeHyperLogLog:
		return "hyperloglog"
	case TypeTDigest:
		return "tdigest"
	case TypeFrequentItems:
		return "frequent"
	case TypeMinHash:
		return "minhash"
	case TypeSimHash:
		return "simhash"
	default:
		return "unknown"
	}
}

// Sketch is the minimal capability every variant implements.
type Sketch interface {
	Type() Type
	IsEmpty() bool
	// Serialize encodes the sketch into the versioned wire form. The blob
	// carries every structural parameter needed to reconstruct hashing
	// behavior, so any reader can rebuild an equivalent sketch from the
	// bytes alone.
	Serialize() ([]byte, error)
}

// Mergeable is implemented by sketches that can absorb a second,
// independently built sketch of identical structural parameters. Merge
// mutates the receiver and only reads other; it has no partial effect on
// failure.
type Mergeable interface {
	Sketch
	Merge(other Sketch) error
}

// FrequencyEstimator answers "how many times has this item been seen".
// Count is int64 because CountSketch's unbiased estimator can go negative.
type FrequencyEstimator interface {
	Sketch
	Update(item []byte)
	Count(item []byte) int64
}

// QuantileEstimator summarizes a stream of numeric observations.
type QuantileEstimator interface {
	Sketch
	Add(value float64)
	Quantile(q float64) (float64, error)
}

// MembershipFilter answers approximate set membership with no false
// negatives for items that were added and never removed. Both methods can
// fail for phased filters (Ribbon) used out of phase.
type MembershipFilter interface {
	Sketch
	Add(item []byte) error
	Contains(item []byte) (bool, error)
}

// Deletable is implemented by membership filters that support removal
// (Cuckoo). Removing an item that was never added is a documented caller
// obligation: it can introduce false negatives for colliding items.
type Deletable interface {
	MembershipFilter
	Remove(item []byte) bool
}

// CardinalityEstimator estimates the number of distinct items seen.
type CardinalityEstimator interface {
	Sketch
	Insert(item []byte)
	Estimate() uint64
}

// TopK is one entry of a top-k result, ordered by descending count.
type TopK struct {
	Item  string
	Count uint64
}
