package estimator

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/redstream/pkg/data"
)

func gaussianHeader() *data.Header {
	return data.NewHeader("gauss", []data.Attribute{
		data.Numeric("x"),
		data.Numeric("y"),
		data.Nominal("c", "a", "b", "c"),
	})
}

func vars(h *data.Header, names ...string) []data.RandomVariable {
	out := make([]data.RandomVariable, len(names))
	for i, n := range names {
		out[i] = data.VariableOf(h.Attribute(h.IndexOf(n)))
	}
	return out
}

func TestCheckConfiguration(t *testing.T) {
	h := gaussianHeader()

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, CheckConfiguration(h, vars(h, "x"), vars(h, "y"), []Type{ContinuousTarget}))
	})
	t.Run("wrong target kind", func(t *testing.T) {
		err := CheckConfiguration(h, vars(h, "c"), nil, []Type{ContinuousTarget})
		assert.ErrorIs(t, err, ErrUnsupportedConfiguration)
	})
	t.Run("overlap", func(t *testing.T) {
		err := CheckConfiguration(h, vars(h, "x"), vars(h, "x"), []Type{ContinuousTarget})
		assert.ErrorIs(t, err, ErrUnsupportedConfiguration)
	})
	t.Run("unknown variable", func(t *testing.T) {
		rv := data.VariableOf(data.Numeric("z"))
		err := CheckConfiguration(h, []data.RandomVariable{rv}, nil, []Type{ContinuousTarget})
		assert.ErrorIs(t, err, ErrUnsupportedConfiguration)
	})
	t.Run("no targets", func(t *testing.T) {
		err := CheckConfiguration(h, nil, vars(h, "x"), []Type{Joint})
		assert.ErrorIs(t, err, ErrUnsupportedConfiguration)
	})
}

func TestKernel_Marginal(t *testing.T) {
	h := gaussianHeader()
	k := NewKernel(KernelOptions{MaxKernels: 2000})
	require.NoError(t, k.Init(h, vars(h, "x"), nil))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		require.NoError(t, k.Update(data.NewInstance(h, []float64{rng.NormFloat64(), 0, 0})))
	}

	d, err := k.DensityValue(data.NewInstance(h, []float64{0, 0, 0}))
	require.NoError(t, err)
	// N(0,1) smoothed with a bandwidth around 0.25
	assert.InDelta(t, 0.387, d, 0.05)

	far, err := k.DensityValue(data.NewInstance(h, []float64{1e6, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, far)
}

func TestKernel_Conditional(t *testing.T) {
	h := gaussianHeader()
	k := NewKernel(KernelOptions{})
	require.NoError(t, k.Init(h, vars(h, "x"), vars(h, "y")))

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 800; i++ {
		y := rng.NormFloat64() * 3
		x := y + 0.2*rng.NormFloat64()
		require.NoError(t, k.Update(data.NewInstance(h, []float64{x, y, 0})))
	}

	near, err := k.DensityValue(data.NewInstance(h, []float64{2, 2, 0}))
	require.NoError(t, err)
	off, err := k.DensityValue(data.NewInstance(h, []float64{-2, 2, 0}))
	require.NoError(t, err)
	assert.Greater(t, near, 10*off)

	t.Run("unseen context falls back to marginal", func(t *testing.T) {
		d, err := k.DensityValue(data.NewInstance(h, []float64{0, 1e9, 0}))
		require.NoError(t, err)
		assert.False(t, math.IsNaN(d))
		assert.Greater(t, d, 0.0)
	})
}

func TestKernel_Reservoir(t *testing.T) {
	h := gaussianHeader()
	k := NewKernel(KernelOptions{MaxKernels: 10})
	require.NoError(t, k.Init(h, vars(h, "x"), nil))
	for i := 0; i < 100; i++ {
		require.NoError(t, k.Update(data.NewInstance(h, []float64{float64(i), 0, 0})))
	}
	mc := k.ModelCharacteristics()
	assert.Equal(t, 10, mc["kernels"])
	assert.Equal(t, int64(100), mc["seen"])
}

func TestKernel_Empty(t *testing.T) {
	h := gaussianHeader()
	k := NewKernel(KernelOptions{})
	_, err := k.DensityValue(data.NewInstance(h, []float64{0, 0, 0}))
	assert.Error(t, err)

	require.NoError(t, k.Init(h, vars(h, "x"), nil))
	d, err := k.DensityValue(data.NewInstance(h, []float64{0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestFrequency(t *testing.T) {
	h := gaussianHeader()

	t.Run("marginal with laplace correction", func(t *testing.T) {
		f := NewFrequency(FrequencyOptions{})
		require.NoError(t, f.Init(h, vars(h, "c"), nil))
		for i := 0; i < 100; i++ {
			c := 0.0
			switch {
			case i >= 90:
				c = 2
			case i >= 70:
				c = 1
			}
			require.NoError(t, f.Update(data.NewInstance(h, []float64{0, 0, c})))
		}
		p0, err := f.DensityValue(data.NewInstance(h, []float64{0, 0, 0}))
		require.NoError(t, err)
		assert.InDelta(t, 71.0/103.0, p0, 1e-12)

		var sum float64
		for c := 0; c < 3; c++ {
			p, err := f.DensityValue(data.NewInstance(h, []float64{0, 0, float64(c)}))
			require.NoError(t, err)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	})

	t.Run("conditioned on a continuous variable", func(t *testing.T) {
		f := NewFrequency(FrequencyOptions{Bins: 4})
		require.NoError(t, f.Init(h, vars(h, "c"), vars(h, "x")))
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 2000; i++ {
			x := rng.Float64()
			c := 0.0
			if x > 0.5 {
				c = 2
			}
			require.NoError(t, f.Update(data.NewInstance(h, []float64{x, 0, c})))
		}
		low, err := f.DensityValue(data.NewInstance(h, []float64{0.1, 0, 0}))
		require.NoError(t, err)
		high, err := f.DensityValue(data.NewInstance(h, []float64{0.9, 0, 0}))
		require.NoError(t, err)
		assert.Greater(t, low, 0.9)
		assert.Less(t, high, 0.1)
	})

	t.Run("rejects values outside the domain", func(t *testing.T) {
		f := NewFrequency(FrequencyOptions{})
		require.NoError(t, f.Init(h, vars(h, "c"), nil))
		assert.Error(t, f.Update(data.NewInstance(h, []float64{0, 0, 5})))
	})

	t.Run("continuous target is unsupported", func(t *testing.T) {
		f := NewFrequency(FrequencyOptions{})
		assert.ErrorIs(t, f.Init(h, vars(h, "x"), nil), ErrUnsupportedConfiguration)
	})
}

func TestChain(t *testing.T) {
	h := gaussianHeader()
	rng := rand.New(rand.NewSource(11))
	insts := make([]*data.Instance, 1500)
	for i := range insts {
		insts[i] = data.NewInstance(h, []float64{rng.NormFloat64(), rng.NormFloat64(), float64(rng.Intn(3))})
	}

	t.Run("independent continuous targets factorize", func(t *testing.T) {
		c := NewChain(DefaultChainOptions())
		require.NoError(t, c.Init(h, vars(h, "x", "y"), nil))
		for _, in := range insts {
			require.NoError(t, c.Update(in))
		}
		d, err := c.DensityValue(data.NewInstance(h, []float64{0, 0, 0}))
		require.NoError(t, err)
		assert.InDelta(t, 0.387*0.387, d, 0.04)
	})

	t.Run("mixed targets with several orders", func(t *testing.T) {
		opts := DefaultChainOptions()
		opts.Orders = 3
		c := NewChain(opts)
		require.NoError(t, c.Init(h, vars(h, "x", "c"), vars(h, "y")))
		for _, in := range insts {
			require.NoError(t, c.Update(in))
		}
		d, err := c.DensityValue(data.NewInstance(h, []float64{0, 0, 1}))
		require.NoError(t, err)
		assert.Greater(t, d, 0.0)
		assert.Equal(t, 3, c.ModelCharacteristics()["orders"])
	})

	t.Run("extreme query is exactly zero", func(t *testing.T) {
		c := NewChain(DefaultChainOptions())
		require.NoError(t, c.Init(h, vars(h, "x", "y"), nil))
		for _, in := range insts {
			require.NoError(t, c.Update(in))
		}
		d, err := c.DensityValue(data.NewInstance(h, []float64{1e6, -1e6, 0}))
		require.NoError(t, err)
		assert.Equal(t, 0.0, d)
	})
}
