package filter

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKalman_ConvergesToLevel(t *testing.T) {
	k := NewKalman(DefaultConfig())
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		k.Process(-3 + 2*rng.NormFloat64())
	}
	assert.InDelta(t, -3, k.State(), 0.6)
	assert.Equal(t, 2000, k.Observations())
	assert.Less(t, k.Covariance(), DefaultConfig().InitialCovariance)
	assert.Greater(t, k.Gain(), 0.0)
	assert.Less(t, k.Gain(), 1.0)
}

func TestKalman_FirstMeasurementInitializes(t *testing.T) {
	k := NewKalman(DefaultConfig())
	assert.Equal(t, 7.5, k.Process(7.5))
	assert.Equal(t, 0.0, k.Velocity())

	next := k.Process(9.5)
	assert.Greater(t, next, 7.5)
	assert.Less(t, next, 9.5)
	assert.InDelta(t, next-7.5, k.Velocity(), 1e-12)
}

func TestKalman_SkipsNonFinite(t *testing.T) {
	k := NewKalman(DefaultConfig())
	k.Process(1)
	assert.Equal(t, 1.0, k.Process(math.Inf(-1)))
	assert.Equal(t, 1.0, k.Process(math.NaN()))
	assert.Equal(t, 2, k.Skipped())
	assert.Equal(t, 1, k.Observations())

	k.Reset()
	assert.Equal(t, 0, k.Observations())
	assert.Equal(t, DefaultConfig().InitialCovariance, k.Covariance())
}

func TestKalman_ProcessBatch(t *testing.T) {
	k := NewKalman(DefaultConfig())
	out := k.ProcessBatch([]float64{1, 1, 1, 1})
	require.Len(t, out, 4)
	for _, v := range out {
		assert.Equal(t, 1.0, v)
	}
}

func TestWindow(t *testing.T) {
	w := NewWindow(3)
	assert.Equal(t, 0.0, w.Mean())

	w.Add(1)
	w.Add(2)
	assert.InDelta(t, 1.5, w.Mean(), 1e-12)
	assert.InDelta(t, 0.25, w.Variance(), 1e-12)

	w.Add(3)
	w.Add(10) // drops 1
	assert.InDelta(t, 5.0, w.Mean(), 1e-12)
	assert.InDelta(t, math.Sqrt((9+4+25)/3.0), w.StdDev(), 1e-9)
}
