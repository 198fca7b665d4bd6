package frequency

import (
	"math"
	"sort"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
)

type ssEntry struct {
	count uint64
	// errBound is the evicted count this entry inherited at insertion; the
	// true frequency lies in [count-errBound, count].
	errBound uint64
	// seq orders arrivals so eviction ties go to the oldest entry.
	seq uint64
}

// SpaceSaving monitors a fixed-capacity set of (item, count, error) triples.
// Any item whose true frequency exceeds N/capacity is guaranteed to be
// monitored; estimates overestimate by at most the recorded error bound.
type SpaceSaving struct {
	capacity  int
	items     map[string]*ssEntry
	streamLen uint64
	nextSeq   uint64
}

// NewSpaceSaving sizes the monitored set as ceil(1/epsilon).
func NewSpaceSaving(epsilon float64) (*SpaceSaving, error) {
	if epsilon <= 0 || epsilon >= 1 {
		return nil, sketch.InvalidParamf("epsilon", epsilon, "must be in (0, 1)")
	}
	return NewSpaceSavingWithCapacity(int(math.Ceil(1 / epsilon)))
}

// NewSpaceSavingWithCapacity creates a SpaceSaving sketch monitoring at most
// capacity items.
func NewSpaceSavingWithCapacity(capacity int) (*SpaceSaving, error) {
	if capacity <= 0 {
		return nil, sketch.InvalidParamf("capacity", capacity, "must be > 0")
	}
	hint := capacity
	if hint > 1<<16 {
		hint = 1 << 16
	}
	return &SpaceSaving{
		capacity: capacity,
		items:    make(map[string]*ssEntry, hint),
	}, nil
}

func (s *SpaceSaving) Type() sketch.Type { return sketch.TypeSpaceSaving }
func (s *SpaceSaving) Capacity() int     { return s.capacity }
func (s *SpaceSaving) StreamLength() uint64 {
	return s.streamLen
}
func (s *SpaceSaving) IsEmpty() bool { return s.streamLen == 0 }

// Update adds one occurrence of the item, evicting the globally smallest
// entry if the monitored set is full. Eviction picks the strictly smallest
// count; ties break by arrival order, oldest first.
func (s *SpaceSaving) Update(item []byte) {
	s.streamLen++
	key := string(item)

	if e, ok := s.items[key]; ok {
		e.count++
		return
	}

	if len(s.items) < s.capacity {
		s.items[key] = &ssEntry{count: 1, seq: s.nextSeq}
		s.nextSeq++
		return
	}

	var victim string
	var victimEntry *ssEntry
	for k, e := range s.items {
		if victimEntry == nil || e.count < victimEntry.count ||
			(e.count == victimEntry.count && e.seq < victimEntry.seq) {
			victim, victimEntry = k, e
		}
	}
	evicted := victimEntry.count
	delete(s.items, victim)
	s.items[key] = &ssEntry{count: evicted + 1, errBound: evicted, seq: s.nextSeq}
	s.nextSeq++
}

// Count returns the monitored estimate, or 0 for unmonitored items. An
// unmonitored item's true frequency is at most N/capacity.
func (s *SpaceSaving) Count(item []byte) int64 {
	if e, ok := s.items[string(item)]; ok {
		return int64(e.count)
	}
	return 0
}

// CountWithError returns the estimate and its recorded overestimation bound.
func (s *SpaceSaving) CountWithError(item []byte) (count, errBound uint64, ok bool) {
	e, found := s.items[string(item)]
	if !found {
		return 0, 0, false
	}
	return e.count, e.errBound, true
}

// HeavyHitters returns monitored items whose estimate reaches
// threshold * streamLength, sorted by descending count.
func (s *SpaceSaving) HeavyHitters(threshold float64) []sketch.TopK {
	bar := uint64(threshold * float64(s.streamLen))
	out := make([]sketch.TopK, 0)
	for k, e := range s.items {
		if e.count >= bar {
			out = append(out, sketch.TopK{Item: k, Count: e.count})
		}
	}
	sortTopK(out, s.items)
	return out
}

// TopK returns the k largest monitored items, sorted by descending count.
func (s *SpaceSaving) TopK(k int) []sketch.TopK {
	out := make([]sketch.TopK, 0, len(s.items))
	for key, e := range s.items {
		out = append(out, sketch.TopK{Item: key, Count: e.count})
	}
	sortTopK(out, s.items)
	if k < len(out) {
		out = out[:k]
	}
	return out
}

func sortTopK(out []sketch.TopK, items map[string]*ssEntry) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return items[out[i].Item].seq < items[out[j].Item].seq
	})
}

// Merge combines two same-capacity sketches. Items present in both sum their
// counts and error bounds. An item monitored on only one side gets the other
// side's minimum count added to both its count and its error bound, since the
// other stream may have seen it up to that many times. The union is then
// trimmed back to capacity by evicting the smallest entries.
func (s *SpaceSaving) Merge(other sketch.Sketch) error {
	from, ok := other.(*SpaceSaving)
	if !ok {
		return sketch.Incompatiblef("cannot merge %s into %s", other.Type(), s.Type())
	}
	if s.capacity != from.capacity {
		return sketch.Incompatiblef("capacities differ: %d vs %d", s.capacity, from.capacity)
	}

	minSelf := s.minCount()
	minOther := from.minCount()

	// An item monitored on only one side could have appeared up to the other
	// side's minimum count in the other stream without being monitored there.
	for k, e := range s.items {
		if theirs, shared := from.items[k]; shared {
			e.count += theirs.count
			e.errBound += theirs.errBound
		} else {
			e.count += minOther
			e.errBound += minOther
		}
	}
	for k, e := range from.items {
		if _, shared := s.items[k]; !shared {
			s.items[k] = &ssEntry{
				count:    e.count + minSelf,
				errBound: e.errBound + minSelf,
				seq:      s.nextSeq,
			}
			s.nextSeq++
		}
	}

	for len(s.items) > s.capacity {
		var victim string
		var victimEntry *ssEntry
		for k, e := range s.items {
			if victimEntry == nil || e.count < victimEntry.count ||
				(e.count == victimEntry.count && e.seq < victimEntry.seq) {
				victim, victimEntry = k, e
			}
		}
		delete(s.items, victim)
	}

	s.streamLen += from.streamLen
	return nil
}

func (s *SpaceSaving) minCount() uint64 {
	if len(s.items) < s.capacity {
		return 0
	}
	min := uint64(math.MaxUint64)
	for _, e := range s.items {
		if e.count < min {
			min = e.count
		}
	}
	return min
}

// Serialize encodes the sketch as
// [header][capacity:4][streamLen:8][n:4] then per entry
// [item bytes][count:8][errBound:8][seq:8]. Entries are written in arrival
// order so serialization is deterministic.
func (s *SpaceSaving) Serialize() ([]byte, error) {
	w := wire.NewWriter(s.Type())
	w.Uint32(uint32(s.capacity))
	w.Uint64(s.streamLen)
	w.Uint32(uint32(len(s.items)))

	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return s.items[keys[i]].seq < s.items[keys[j]].seq })

	for _, k := range keys {
		e := s.items[k]
		w.Bytes([]byte(k))
		w.Uint64(e.count)
		w.Uint64(e.errBound)
		w.Uint64(e.seq)
	}
	return w.Finish(), nil
}

// DeserializeSpaceSaving reconstructs a SpaceSaving sketch from its wire form.
func DeserializeSpaceSaving(b []byte) (*SpaceSaving, error) {
	r := wire.NewReader(b, sketch.TypeSpaceSaving)
	capacity := r.Uint32()
	streamLen := r.Uint64()
	n := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	s, err := NewSpaceSavingWithCapacity(int(capacity))
	if err != nil {
		return nil, err
	}
	if n > capacity {
		return nil, sketch.InvalidParamf("entries", n, "exceeds capacity")
	}
	s.streamLen = streamLen
	for i := uint32(0); i < n; i++ {
		item := r.Bytes()
		count := r.Uint64()
		errBound := r.Uint64()
		seq := r.Uint64()
		if r.Err() != nil {
			break
		}
		s.items[string(item)] = &ssEntry{count: count, errBound: errBound, seq: seq}
		if seq >= s.nextSeq {
			s.nextSeq = seq + 1
		}
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return s, nil
}
