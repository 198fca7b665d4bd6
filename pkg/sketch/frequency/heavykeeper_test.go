package frequency

import (
	"fmt"
	"math/rand"
	"strconv"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
)

func TestHeavyKeeperFindsTopK(t *testing.T) {
	hk, err := NewHeavyKeeper(10, 4096, 4, DefaultDecay, 42)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(42))
	// 10 heavy events with counts well above the noise floor.
	counts := map[string]uint32{}
	for i := 0; i < 10; i++ {
		counts[fmt.Sprintf("heavy-%d", i)] = uint32(1000 + r.Intn(500))
	}
	events := make([]string, 0, 100_000)
	for event, n := range counts {
		for j := uint32(0); j < n; j++ {
			events = append(events, event)
		}
	}
	for i := 0; i < 500; i++ {
		event := "noise-" + strconv.Itoa(i)
		for j := 0; j < 10; j++ {
			events = append(events, event)
		}
	}
	r.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })
	for _, e := range events {
		hk.Update([]byte(e))
	}

	top := hk.TopK()
	require.Len(t, top, 10)
	for event, want := range counts {
		require.True(t, hk.InTopK([]byte(event)), "missing heavy event %s", event)
		got := hk.Count([]byte(event))
		require.InDelta(t, want, got, float64(want)/10, "event %s", event)
	}
	for i := 1; i < len(top); i++ {
		require.GreaterOrEqual(t, top[i-1].Count, top[i].Count)
	}

	// ~510 distinct events were observed.
	require.InDelta(t, 510, hk.Cardinality(), 51)
}

func TestHeavyKeeperDecay(t *testing.T) {
	hk, err := NewHeavyKeeper(5, 1024, 4, DefaultDecay, 42)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		hk.Update([]byte("hot"))
	}
	for i := 0; i < 10; i++ {
		hk.Update([]byte("cold"))
	}

	before := hk.Count([]byte("hot"))
	hk.Decay()
	after := hk.Count([]byte("hot"))
	require.Less(t, after, before)
	require.Equal(t, int64(float64(before)/DefaultDecay), after)

	// Top-k membership is re-derived lazily after a decay.
	require.True(t, hk.InTopK([]byte("hot")))
	top := hk.TopK()
	require.Equal(t, "hot", top[0].Item)
	require.Equal(t, uint64(after), top[0].Count)
}

func TestHeavyKeeperForCardinality(t *testing.T) {
	hk, err := NewHeavyKeeperForCardinality(log.NewNopLogger(), 10, 50_000, DefaultDecay, 42)
	require.NoError(t, err)
	require.NotNil(t, hk)

	// Over 1M logs a warning and falls back to the largest predefined width.
	hk, err = NewHeavyKeeperForCardinality(log.NewNopLogger(), 10, 5_000_000, DefaultDecay, 42)
	require.NoError(t, err)
	require.NotNil(t, hk)
}

func TestHeavyKeeperSerializeRoundTrip(t *testing.T) {
	hk, err := NewHeavyKeeper(5, 512, 4, DefaultDecay, 42)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		hk.Update([]byte("alpha"))
	}
	for i := 0; i < 50; i++ {
		hk.Update([]byte("beta"))
	}

	blob, err := hk.Serialize()
	require.NoError(t, err)

	got, err := DeserializeHeavyKeeper(blob)
	require.NoError(t, err)
	require.Equal(t, hk.Count([]byte("alpha")), got.Count([]byte("alpha")))
	require.Equal(t, hk.Count([]byte("beta")), got.Count([]byte("beta")))
	require.Equal(t, hk.TopK(), got.TopK())
	require.Equal(t, hk.Cardinality(), got.Cardinality())
}

func TestHeavyKeeperInvalidParams(t *testing.T) {
	_, err := NewHeavyKeeper(0, 512, 4, DefaultDecay, 42)
	require.ErrorAs(t, err, &sketch.InvalidParamError{})
	_, err = NewHeavyKeeper(5, 0, 4, DefaultDecay, 42)
	require.ErrorAs(t, err, &sketch.InvalidParamError{})
	_, err = NewHeavyKeeper(5, 512, 0, DefaultDecay, 42)
	require.ErrorAs(t, err, &sketch.InvalidParamError{})
	_, err = NewHeavyKeeper(5, 512, 4, 1.0, 42)
	require.ErrorAs(t, err, &sketch.InvalidParamError{})
}

func TestHeavyKeeperDeserializeOversizedHeader(t *testing.T) {
	w := wire.NewWriter(sketch.TypeHeavyKeeper)
	w.Uint32(10)
	w.Float64(DefaultDecay)
	w.Uint32(10_000_000)
	w.Uint32(4)
	w.Uint64(42)
	_, err := DeserializeHeavyKeeper(w.Finish())
	require.ErrorIs(t, err, sketch.ErrCorruptData)
}
