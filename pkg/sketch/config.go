package sketch

import (
	"flag"

	"gopkg.in/yaml.v2"
)

// Config carries default structural parameters for sketch construction.
// Every field is validated up front; nothing is silently clamped.
type Config struct {
	// Epsilon bounds the additive error of frequency estimates (fraction of
	// the stream length).
	Epsilon float64 `yaml:"epsilon"`
	// Delta is the probability the epsilon bound is exceeded.
	Delta float64 `yaml:"delta"`
	// Alpha is the relative accuracy of quantile estimates.
	Alpha float64 `yaml:"relative_accuracy"`
	// TopK is the number of heavy hitters tracked by top-k sketches.
	TopK int `yaml:"top_k"`
	// Decay is the HeavyKeeper exponential decay base.
	Decay float64 `yaml:"decay"`
	// FilterCapacity is the expected item count for membership filters.
	FilterCapacity int `yaml:"filter_capacity"`
	// FalsePositiveRate is the target FPR for membership filters.
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
	// Precision is the HyperLogLog register precision, in [4, 18].
	Precision int `yaml:"precision"`
	// Seed fixes the hash family. Two sketches merge only if their seeds match.
	Seed uint64 `yaml:"seed"`
}

// RegisterFlags registers config flags with the default "sketch." prefix.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	c.RegisterFlagsWithPrefix("sketch.", f)
}

// RegisterFlagsWithPrefix registers config flags with a custom prefix.
func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.Float64Var(&c.Epsilon, prefix+"epsilon", 0.01, "Additive error bound for frequency estimates, as a fraction of stream length. Must be in (0, 1).")
	f.Float64Var(&c.Delta, prefix+"delta", 0.01, "Probability that the epsilon bound is exceeded. Must be in (0, 1).")
	f.Float64Var(&c.Alpha, prefix+"relative-accuracy", 0.01, "Relative accuracy of quantile estimates. Must be in (0, 1).")
	f.IntVar(&c.TopK, prefix+"top-k", 10, "Number of heavy hitters tracked by top-k sketches.")
	f.Float64Var(&c.Decay, prefix+"decay", 1.08, "HeavyKeeper exponential decay base. Must be > 1.")
	f.IntVar(&c.FilterCapacity, prefix+"filter-capacity", 100000, "Expected item count for membership filters.")
	f.Float64Var(&c.FalsePositiveRate, prefix+"false-positive-rate", 0.01, "Target false positive rate for membership filters. Must be in (0, 1).")
	f.IntVar(&c.Precision, prefix+"precision", 14, "HyperLogLog register precision, between 4 and 18.")
	f.Uint64Var(&c.Seed, prefix+"seed", 0, "Hash family seed. Sketches built with different seeds cannot be merged.")
}

// Validate rejects out-of-range parameters.
func (c *Config) Validate() error {
	if c.Epsilon <= 0 || c.Epsilon >= 1 {
		return InvalidParamf("epsilon", c.Epsilon, "must be in (0, 1)")
	}
	if c.Delta <= 0 || c.Delta >= 1 {
		return InvalidParamf("delta", c.Delta, "must be in (0, 1)")
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return InvalidParamf("relative_accuracy", c.Alpha, "must be in (0, 1)")
	}
	if c.TopK <= 0 {
		return InvalidParamf("top_k", c.TopK, "must be > 0")
	}
	if c.Decay <= 1 {
		return InvalidParamf("decay", c.Decay, "must be > 1")
	}
	if c.FilterCapacity <= 0 {
		return InvalidParamf("filter_capacity", c.FilterCapacity, "must be > 0")
	}
	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		return InvalidParamf("false_positive_rate", c.FalsePositiveRate, "must be in (0, 1)")
	}
	if c.Precision < 4 || c.Precision > 18 {
		return InvalidParamf("precision", c.Precision, "must be between 4 and 18")
	}
	return nil
}

// LoadConfig parses a YAML config on top of flag defaults and validates it.
func LoadConfig(data []byte) (Config, error) {
	var c Config
	fs := flag.NewFlagSet("sketch-defaults", flag.ContinueOnError)
	c.RegisterFlags(fs)
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
