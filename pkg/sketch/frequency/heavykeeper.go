package frequency

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"

	"github.com/axiomhq/hyperloglog"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
	"github.com/streamsketch/streamsketch/pkg/util/hashing"
)

// DefaultDecay is the decay base from the HeavyKeeper paper.
const DefaultDecay = 1.08

type hkSlot struct {
	fp    uint32
	count uint32
}

// HeavyKeeper finds top-k heavy hitters with a depth x width array of
// (fingerprint, count) slots. Colliding items decay an occupied slot with
// probability decay^-count, which biases eviction toward small counts and
// protects true heavy hitters from collision noise far better than a plain
// hash table of the same size.
//
// HeavyKeeper is not mergeable: slot ownership depends on insertion history,
// so two arrays cannot be combined without re-observing the streams.
type HeavyKeeper struct {
	k            uint32
	decay        float64
	width, depth uint32
	seed         uint64
	slots        [][]hkSlot
	top          *minHeap
	rnd          *rand.Rand
	hll          *hyperloglog.Sketch
	// stale marks the cached top-k as needing re-estimation, set by Decay.
	stale bool
}

// NewHeavyKeeper creates a HeavyKeeper tracking the top k events.
func NewHeavyKeeper(k int, width, depth uint32, decay float64, seed uint64) (*HeavyKeeper, error) {
	if k <= 0 {
		return nil, sketch.InvalidParamf("k", k, "must be > 0")
	}
	if width == 0 {
		return nil, sketch.InvalidParamf("width", width, "must be > 0")
	}
	if depth == 0 {
		return nil, sketch.InvalidParamf("depth", depth, "must be > 0")
	}
	if decay <= 1 {
		return nil, sketch.InvalidParamf("decay", decay, "must be > 1")
	}
	slots := make([][]hkSlot, depth)
	for i := range slots {
		slots[i] = make([]hkSlot, width)
	}
	return &HeavyKeeper{
		k:     uint32(k),
		decay: decay,
		width: width,
		depth: depth,
		seed:  seed,
		slots: slots,
		top:   newMinHeap(k),
		rnd:   rand.New(rand.NewSource(int64(seed))),
		hll:   hyperloglog.New16(),
	}, nil
}

// NewHeavyKeeperForCardinality sizes the slot array from the expected stream
// cardinality. The widths come from recall testing at depth 4; cardinalities
// beyond 1M get the largest predefined size and a warning.
func NewHeavyKeeperForCardinality(l log.Logger, k, cardinality int, decay float64, seed uint64) (*HeavyKeeper, error) {
	width := 32
	switch {
	case cardinality > 1000000:
		if l != nil {
			level.Warn(l).Log("msg", "no predefined sketch size for cardinality over 1M, using the largest", "cardinality", cardinality)
		}
		width = 307200
	case cardinality >= 1000000:
		width = 307200
	case cardinality >= 100000:
		width = 40960
	case cardinality >= 10000:
		width = 4096
	case cardinality >= 1000:
		width = 512
	case cardinality >= 100:
		width = 48
	}
	return NewHeavyKeeper(k, uint32(width), 4, decay, seed)
}

func (t *HeavyKeeper) Type() sketch.Type { return sketch.TypeHeavyKeeper }
func (t *HeavyKeeper) K() int            { return int(t.k) }
func (t *HeavyKeeper) Seed() uint64      { return t.seed }
func (t *HeavyKeeper) IsEmpty() bool     { return t.top.Len() == 0 }

// Update observes one occurrence of the item.
func (t *HeavyKeeper) Update(item []byte) {
	t.hll.Insert(item)

	h1, h2 := hashing.Hash2(t.seed, item)
	fp := uint32(h1)

	maxCount := uint32(0)
	for i := uint32(0); i < t.depth; i++ {
		pos := hashing.Position(h1, h2, i, t.width)
		slot := &t.slots[i][pos]

		switch {
		case slot.count == 0:
			slot.fp = fp
			slot.count = 1
		case slot.fp == fp:
			slot.count = satAdd32(slot.count, 1)
		default:
			// Occupied by another fingerprint: decay it with probability
			// decay^-count. The new item only takes the slot if the old
			// count reaches zero; otherwise this row drops the update.
			if t.rnd.Float64() < math.Pow(t.decay, -float64(slot.count)) {
				slot.count--
				if slot.count == 0 {
					slot.fp = fp
					slot.count = 1
				}
			}
		}
		if slot.fp == fp && slot.count > maxCount {
			maxCount = slot.count
		}
	}

	if maxCount == 0 {
		return
	}
	t.offer(string(item), maxCount)
}

func (t *HeavyKeeper) offer(event string, count uint32) {
	if n, ok := t.top.find(event); ok {
		if count > n.count {
			t.top.update(n, count)
		}
		return
	}
	if t.top.Len() < int(t.k) {
		heap.Push(t.top, &hkNode{event: event, count: count})
		return
	}
	if min := t.top.peek(); min != nil && count > min.count {
		heap.Pop(t.top)
		heap.Push(t.top, &hkNode{event: event, count: count})
	}
}

// Count returns the maximum count across rows whose slot holds the item's
// fingerprint, or 0 if no row does.
func (t *HeavyKeeper) Count(item []byte) int64 {
	h1, h2 := hashing.Hash2(t.seed, item)
	return int64(t.estimate(h1, h2))
}

func (t *HeavyKeeper) estimate(h1, h2 uint64) uint32 {
	fp := uint32(h1)
	max := uint32(0)
	for i := uint32(0); i < t.depth; i++ {
		pos := hashing.Position(h1, h2, i, t.width)
		if slot := t.slots[i][pos]; slot.fp == fp && slot.count > max {
			max = slot.count
		}
	}
	return max
}

// InTopK reports whether the event is currently tracked.
func (t *HeavyKeeper) InTopK(item []byte) bool {
	t.refresh()
	_, ok := t.top.find(string(item))
	return ok
}

// TopK returns the tracked events sorted by descending count. After a Decay
// the counts are re-estimated lazily here before sorting.
func (t *HeavyKeeper) TopK() []sketch.TopK {
	t.refresh()
	out := make([]sketch.TopK, 0, t.top.Len())
	for _, n := range t.top.nodes {
		out = append(out, sketch.TopK{Item: n.event, Count: uint64(n.count)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Item < out[j].Item
	})
	return out
}

// refresh re-estimates tracked events against the aged slot array, dropping
// any whose count decayed to zero.
func (t *HeavyKeeper) refresh() {
	if !t.stale {
		return
	}
	t.stale = false
	events := make([]*hkNode, len(t.top.nodes))
	copy(events, t.top.nodes)
	rebuilt := newMinHeap(int(t.k))
	for _, n := range events {
		h1, h2 := hashing.Hash2(t.seed, []byte(n.event))
		if c := t.estimate(h1, h2); c > 0 {
			heap.Push(rebuilt, &hkNode{event: n.event, count: c})
		}
	}
	heap.Init(rebuilt)
	t.top = rebuilt
}

// Decay ages the whole structure by dividing every slot count by the decay
// base. It is an explicit maintenance operation, never called implicitly by
// Update. Top-k membership is re-derived lazily on the next query.
func (t *HeavyKeeper) Decay() {
	for _, row := range t.slots {
		for j := range row {
			if row[j].count > 0 {
				row[j].count = uint32(float64(row[j].count) / t.decay)
				if row[j].count == 0 {
					row[j].fp = 0
				}
			}
		}
	}
	t.stale = true
}

// Cardinality estimates the number of distinct items observed.
func (t *HeavyKeeper) Cardinality() uint64 {
	return t.hll.Estimate()
}

// Serialize encodes the sketch as
// [header][k:4][decay:8][width:4][depth:4][seed:8]
// [slots: (fp:4, count:4) * width*depth][tracked: n:4, (event, count:4)*]
// [hll bytes].
func (t *HeavyKeeper) Serialize() ([]byte, error) {
	t.refresh()
	w := wire.NewWriter(t.Type())
	w.Uint32(t.k)
	w.Float64(t.decay)
	w.Uint32(t.width)
	w.Uint32(t.depth)
	w.Uint64(t.seed)
	for _, row := range t.slots {
		for _, slot := range row {
			w.Uint32(slot.fp)
			w.Uint32(slot.count)
		}
	}
	tracked := t.TopK()
	w.Uint32(uint32(len(tracked)))
	for _, e := range tracked {
		w.Bytes([]byte(e.Item))
		w.Uint32(uint32(e.Count))
	}
	hllBytes, err := t.hll.MarshalBinary()
	if err != nil {
		return nil, err
	}
	w.Bytes(hllBytes)
	return w.Finish(), nil
}

// DeserializeHeavyKeeper reconstructs a HeavyKeeper from its wire form.
func DeserializeHeavyKeeper(b []byte) (*HeavyKeeper, error) {
	r := wire.NewReader(b, sketch.TypeHeavyKeeper)
	k := r.Uint32()
	decay := r.Float64()
	width := r.Uint32()
	depth := r.Uint32()
	seed := r.Uint64()
	if err := r.Err(); err != nil {
		return nil, err
	}
	// The slot table is followed by a variable-length trailer, so the
	// claimed dimensions only bound the payload from below. Check before
	// the table is allocated; the header is untrusted input.
	if uint64(r.Remaining())/8 < uint64(width)*uint64(depth) {
		return nil, errors.Wrapf(sketch.ErrCorruptData, "payload too short for a %dx%d slot table", depth, width)
	}
	t, err := NewHeavyKeeper(int(k), width, depth, decay, seed)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < depth; i++ {
		for j := uint32(0); j < width; j++ {
			t.slots[i][j].fp = r.Uint32()
			t.slots[i][j].count = r.Uint32()
		}
	}
	n := r.Uint32()
	if r.Err() == nil && n > k {
		return nil, sketch.InvalidParamf("tracked", n, "exceeds k")
	}
	for i := uint32(0); i < n; i++ {
		event := r.Bytes()
		count := r.Uint32()
		if r.Err() != nil {
			break
		}
		heap.Push(t.top, &hkNode{event: string(event), count: count})
	}
	heap.Init(t.top)
	hllBytes := r.Bytes()
	if err := r.Close(); err != nil {
		return nil, err
	}
	if err := t.hll.UnmarshalBinary(hllBytes); err != nil {
		return nil, err
	}
	return t, nil
}
