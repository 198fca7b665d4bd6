package sketch

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	require.Equal(t, 0.01, c.Epsilon)
	require.Equal(t, 0.01, c.Delta)
	require.Equal(t, 0.01, c.Alpha)
	require.Equal(t, 10, c.TopK)
	require.Equal(t, 1.08, c.Decay)
	require.Equal(t, 100000, c.FilterCapacity)
	require.Equal(t, 0.01, c.FalsePositiveRate)
	require.Equal(t, 14, c.Precision)
	require.NoError(t, c.Validate())
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		var c Config
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		c.RegisterFlags(fs)
		return c
	}

	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"epsilon too low", func(c *Config) { c.Epsilon = 0 }},
		{"epsilon too high", func(c *Config) { c.Epsilon = 1 }},
		{"delta out of range", func(c *Config) { c.Delta = -0.5 }},
		{"alpha out of range", func(c *Config) { c.Alpha = 2 }},
		{"topk zero", func(c *Config) { c.TopK = 0 }},
		{"decay at one", func(c *Config) { c.Decay = 1 }},
		{"filter capacity zero", func(c *Config) { c.FilterCapacity = 0 }},
		{"fpr out of range", func(c *Config) { c.FalsePositiveRate = 1 }},
		{"precision too low", func(c *Config) { c.Precision = 3 }},
		{"precision too high", func(c *Config) { c.Precision = 19 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			require.ErrorAs(t, c.Validate(), &InvalidParamError{})
		})
	}
}

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig([]byte("epsilon: 0.005\ntop_k: 50\n"))
	require.NoError(t, err)
	require.Equal(t, 0.005, c.Epsilon)
	require.Equal(t, 50, c.TopK)
	// Unset fields keep flag defaults.
	require.Equal(t, 0.01, c.Delta)

	_, err = LoadConfig([]byte("epsilon: 7\n"))
	require.ErrorAs(t, err, &InvalidParamError{})

	_, err = LoadConfig([]byte("no_such_field: 1\n"))
	require.Error(t, err)
}

func TestTypeString(t *testing.T) {
	require.Equal(t, "countmin", TypeCountMin.String())
	require.Equal(t, "countmin-conservative", TypeConservativeCountMin.String())
	require.Equal(t, "ribbon", TypeRibbonFilter.String())
	require.Equal(t, "unknown", Type(200).String())
}

func TestErrorTypes(t *testing.T) {
	err := InvalidParamf("epsilon", 2.0, "must be in (0, 1)")
	require.Contains(t, err.Error(), "epsilon")
	require.Contains(t, err.Error(), "must be in (0, 1)")

	inc := Incompatiblef("seeds differ: %d vs %d", 1, 2)
	require.Contains(t, inc.Error(), "incompatible")
	require.Contains(t, inc.Error(), "seeds differ: 1 vs 2")
}
