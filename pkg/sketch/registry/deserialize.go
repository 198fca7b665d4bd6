package registry

import (
	"github.com/streamsketch/streamsketch/pkg/sketch"
	"github.com/streamsketch/streamsketch/pkg/sketch/cardinality"
	"github.com/streamsketch/streamsketch/pkg/sketch/filter"
	"github.com/streamsketch/streamsketch/pkg/sketch/frequency"
	"github.com/streamsketch/streamsketch/pkg/sketch/quantile"
	"github.com/streamsketch/streamsketch/pkg/sketch/similarity"
	"github.com/streamsketch/streamsketch/pkg/sketch/wire"
)

// Deserialize rebuilds any sketch from its wire form, dispatching on the
// type tag in the header.
func Deserialize(blob []byte) (sketch.Sketch, error) {
	t, err := wire.PeekType(blob)
	if err != nil {
		return nil, err
	}
	switch t {
	case sketch.TypeCountMin, sketch.TypeConservativeCountMin:
		return frequency.DeserializeCountMin(blob)
	case sketch.TypeCountSketch:
		return frequency.DeserializeCountSketch(blob)
	case sketch.TypeSpaceSaving:
		return frequency.DeserializeSpaceSaving(blob)
	case sketch.TypeHeavyKeeper:
		return frequency.DeserializeHeavyKeeper(blob)
	case sketch.TypeFrequentItems:
		return frequency.DeserializeFrequentItems(blob)
	case sketch.TypeDDSketch:
		return quantile.DeserializeDDSketch(blob)
	case sketch.TypeTDigest:
		return quantile.DeserializeTDigest(blob)
	case sketch.TypeCuckooFilter:
		return filter.DeserializeCuckooFilter(blob)
	case sketch.TypeRibbonFilter:
		return filter.DeserializeRibbonFilter(blob)
	case sketch.TypeBloomFilter:
		return filter.DeserializeBloomFilter(blob)
	case sketch.TypeHyperLogLog:
		return cardinality.DeserializeHyperLogLog(blob)
	case sketch.TypeMinHash:
		return similarity.DeserializeMinHash(blob)
	case sketch.TypeSimHash:
		return similarity.DeserializeSimHash(blob)
	default:
		return nil, sketch.InvalidParamf("type", t, "unknown sketch type tag")
	}
}
