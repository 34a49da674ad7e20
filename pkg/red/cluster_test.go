package red

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/orneryd/redstream/pkg/data"
)

func testParams() clusterParams {
	return clusterParams{threshold: 3, bufferSize: 5, priorWeight: 10, floor: 1e-4, llWarmup: 500}
}

func diag(values ...float64) *mat.SymDense {
	m := mat.NewSymDense(len(values), nil)
	for i, v := range values {
		m.SetSym(i, i, v)
	}
	return m
}

func TestObservation_Immutable(t *testing.T) {
	dist := []float64{1, 2}
	obs := NewObservation(nil, dist, 7)
	dist[0] = 99
	assert.Equal(t, 1.0, obs.Coordinate(0))

	got := obs.Distance()
	got[1] = 99
	assert.Equal(t, 2.0, obs.Coordinate(1))
	assert.Equal(t, Timestamp(7), obs.Timestamp())
	assert.Equal(t, int64(4), Timestamp(11).Sub(obs.Timestamp()))
}

func TestCluster_MembershipReflexive(t *testing.T) {
	center := NewObservation(nil, []float64{0.4, 1.2, 0.7}, 1)
	c := newCluster(0, 42, center, testParams())

	assert.False(t, c.Member(center.distance), "unseeded clusters match nothing")
	_, ok := c.MahalanobisDistance(center.distance)
	assert.False(t, ok)

	c.seedCovariance(diag(0.01, 0.02, 0.03))
	d, ok := c.MahalanobisDistance(center.distance)
	require.True(t, ok)
	assert.Equal(t, 0.0, d)
	assert.True(t, c.Member(center.distance))

	for i := 0; i < 20; i++ {
		require.NoError(t, c.add(NewObservation(nil, center.distance, Timestamp(i+2))))
	}
	assert.True(t, c.Member(center.distance))
	assert.Equal(t, int64(21), c.Count())
}

func TestCluster_MembershipFromCenterAfterDrift(t *testing.T) {
	center := NewObservation(nil, []float64{0, 0}, 1)
	c := newCluster(0, 42, center, testParams())
	c.seedCovariance(diag(0.01, 0.01))

	// spread along the first axis, constant offset along the second
	for i := 0; i < 200; i++ {
		u := -1 + 2*float64(i%11)/10
		require.NoError(t, c.add(NewObservation(nil, []float64{u, 0.2}, Timestamp(i+2))))
	}
	require.Greater(t, c.Mean()[1], 0.19, "running mean drifted away from the center")

	d, ok := c.MahalanobisDistance(center.Distance())
	require.True(t, ok)
	assert.Equal(t, 0.0, d)
	assert.True(t, c.Member(center.Distance()))

	far, ok := c.MahalanobisDistance(c.Mean())
	require.True(t, ok)
	assert.Greater(t, far, 0.0)
}

func TestCluster_SingularCovariance(t *testing.T) {
	p := testParams()
	p.floor = 0
	center := NewObservation(nil, []float64{1, 1}, 1)
	c := newCluster(3, 7, center, p)
	c.seedCovariance(mat.NewSymDense(2, nil))

	assert.True(t, c.Member(center.distance))
	d, ok := c.MahalanobisDistance([]float64{1.5, 0.5})
	require.True(t, ok)
	assert.False(t, math.IsNaN(d))
}

func TestCluster_InverseRescaled(t *testing.T) {
	c := newCluster(0, 1, NewObservation(nil, []float64{0, 0}, 1), testParams())
	c.seedCovariance(diag(4, 1))
	inv := c.inverse()
	assert.InDelta(t, 1.0, inv.At(0, 0), 1e-12)
	// Σ⁻¹ ∝ diag(1/4, 1) rescaled by 4
	assert.InDelta(t, 4.0, inv.At(1, 1), 1e-3)

	// with rescaling the first axis is measured in raw units
	d, _ := c.MahalanobisDistance([]float64{1, 0})
	assert.InDelta(t, 1.0, d, 1e-3)
	d, _ = c.MahalanobisDistance([]float64{0, 1})
	assert.InDelta(t, 2.0, d, 1e-3)
}

func TestCluster_JitterDeterministic(t *testing.T) {
	mk := func() *Cluster {
		c := newCluster(0, 99, NewObservation(nil, []float64{0, 0, 0}, 1), testParams())
		c.seedCovariance(diag(0.5, 0.5, 0.5))
		return c
	}
	a, b := mk(), mk()
	da, _ := a.MahalanobisDistance([]float64{0.3, -0.2, 0.1})
	db, _ := b.MahalanobisDistance([]float64{0.3, -0.2, 0.1})
	assert.Equal(t, da, db)
}

func TestCluster_WelfordStatistics(t *testing.T) {
	p := testParams()
	p.priorWeight = 1e-9
	p.floor = 0
	c := newCluster(0, 1, NewObservation(nil, []float64{1, 2}, 1), p)
	c.seedCovariance(diag(1, 1))
	for i, v := range [][]float64{{3, 2}, {5, 8}} {
		require.NoError(t, c.add(NewObservation(nil, v, Timestamp(i+2))))
	}
	assert.InDeltaSlice(t, []float64{3, 4}, c.Mean(), 1e-12)

	cov := c.Covariance()
	// sample covariance of (1,2), (3,2), (5,8)
	assert.InDelta(t, 4.0, cov.At(0, 0), 1e-6)
	assert.InDelta(t, 6.0, cov.At(0, 1), 1e-6)
	assert.InDelta(t, 12.0, cov.At(1, 1), 1e-6)
}

func TestCluster_BufferFIFO(t *testing.T) {
	c := newCluster(0, 1, NewObservation(nil, []float64{0}, 1), testParams())
	c.seedCovariance(diag(1))
	for i := 2; i <= 8; i++ {
		require.NoError(t, c.add(NewObservation(nil, []float64{float64(i)}, Timestamp(i))))
	}
	buf := c.Buffered()
	require.Len(t, buf, 5)
	for i, o := range buf {
		assert.Equal(t, Timestamp(i+4), o.Timestamp())
	}
	assert.Equal(t, Timestamp(8), c.LastUsed())
	assert.Equal(t, Timestamp(1), c.Born())
	assert.Equal(t, int64(8), c.Count())
}

func TestCluster_LogLikelihoodWarmup(t *testing.T) {
	p := testParams()
	p.llWarmup = 3
	c := newCluster(0, 1, NewObservation(nil, []float64{0, 0}, 1), p)
	c.seedCovariance(diag(1, 1))

	h := distanceHeader(2)
	est := &scripted{density: constantDensity(0.5)}
	require.NoError(t, est.Init(h, data.RandomVariables(h), nil))
	require.NoError(t, c.promote(est, h))
	assert.Equal(t, 1, est.updates, "warm start with the buffered center")

	for i := 0; i < 3; i++ {
		require.NoError(t, c.add(NewObservation(nil, []float64{0.1, 0.1}, Timestamp(i+2))))
	}
	assert.Equal(t, int64(4), c.Count())
	assert.Zero(t, est.queries)
	assert.Equal(t, 0.0, c.AverageLogLikelihood())

	require.NoError(t, c.add(NewObservation(nil, []float64{0.1, 0.1}, 5)))
	assert.Equal(t, 1, est.queries)
	assert.InDelta(t, math.Log(0.5), c.AverageLogLikelihood(), 1e-12)

	// density 0 is clamped
	est.density = constantDensity(0)
	require.NoError(t, c.add(NewObservation(nil, []float64{0.1, 0.1}, 6)))
	assert.InDelta(t, (math.Log(0.5)+math.Log(minDensity))/2, c.AverageLogLikelihood(), 1e-9)
	assert.Equal(t, 6, est.updates)
	assert.Equal(t, int64(6), c.Count())
}

func TestCluster_CandidateHasNoLogLikelihood(t *testing.T) {
	p := testParams()
	p.llWarmup = 0
	c := newCluster(0, 1, NewObservation(nil, []float64{0, 0}, 1), p)
	c.seedCovariance(diag(1, 1))
	for i := 0; i < 5; i++ {
		require.NoError(t, c.add(NewObservation(nil, []float64{0, 0}, Timestamp(i+2))))
	}
	assert.Equal(t, 0.0, c.AverageLogLikelihood())
	d, err := c.DensityValue(NewObservation(nil, []float64{0, 0}, 7))
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}
