package red

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/redstream/pkg/data"
	"github.com/orneryd/redstream/pkg/estimator"
)

func testLayerConfig() LayerConfig {
	return LayerConfig{
		Seed:                1,
		Threshold:           0.5,
		PromotionThreshold:  200,
		HelpingNeighbors:    3,
		GCPeriod:            1000,
		MaxIdle:             10000,
		BufferSize:          200,
		EvidenceFloor:       200,
		LogLikelihoodWarmup: 500,
		PriorWeight:         10,
		CovarianceFloor:     1e-4,
	}
}

func kernelChain() estimator.DensityEstimator {
	opts := estimator.DefaultChainOptions()
	opts.Kernel.MaxKernels = 200
	return estimator.NewChain(opts)
}

func newTestLayer(t *testing.T, cfg LayerConfig) *Layer {
	t.Helper()
	l, err := NewLayer(cfg, distanceHeader(2), kernelChain, []float64{0, 0}, diag(0.01, 0.01), nil)
	require.NoError(t, err)
	return l
}

// feeder hands out observations with consecutive timestamps.
type feeder struct {
	rng  *rand.Rand
	tick Timestamp
}

func newFeeder() *feeder { return &feeder{rng: rand.New(rand.NewSource(1))} }

func (f *feeder) near(x, y, std float64) Observation {
	f.tick++
	return NewObservation(nil, []float64{x + std*f.rng.NormFloat64(), y + std*f.rng.NormFloat64()}, f.tick)
}

func TestNewLayer_Validation(t *testing.T) {
	_, err := NewLayer(testLayerConfig(), distanceHeader(2), kernelChain, []float64{0}, diag(1, 1), nil)
	assert.Error(t, err)

	frequency := func() estimator.DensityEstimator { return estimator.NewFrequency(estimator.FrequencyOptions{}) }
	_, err = NewLayer(testLayerConfig(), distanceHeader(2), frequency, []float64{0, 0}, diag(1, 1), nil)
	assert.ErrorIs(t, err, estimator.ErrUnsupportedConfiguration)

	for _, w := range []float64{0, -1} {
		cfg := testLayerConfig()
		cfg.PriorWeight = w
		_, err = NewLayer(cfg, distanceHeader(2), kernelChain, []float64{0, 0}, diag(1, 1), nil)
		assert.Error(t, err, "prior weight %v", w)
	}

	cfg := testLayerConfig()
	cfg.BufferSize = 0
	_, err = NewLayer(cfg, distanceHeader(2), kernelChain, []float64{0, 0}, diag(1, 1), nil)
	assert.Error(t, err)
}

func TestLayer_FailedPromotionKeepsCandidate(t *testing.T) {
	broken := errors.New("broken estimator")
	cases := map[string]func(e *scripted){
		"init":       func(e *scripted) { e.initErr = broken },
		"warm start": func(e *scripted) { e.updateErr = broken },
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			fail := false
			factory := func() estimator.DensityEstimator {
				e := &scripted{density: constantDensity(1)}
				if fail {
					breakIt(e)
				}
				return e
			}
			cfg := testLayerConfig()
			cfg.PromotionThreshold = 5
			l, err := NewLayer(cfg, distanceHeader(2), factory, []float64{0, 0}, diag(0.01, 0.01), nil)
			require.NoError(t, err)
			f := newFeeder()

			for i := 0; i < 5; i++ {
				require.NoError(t, l.AddObservation(f.near(0, 0, 0.01)))
			}
			require.Len(t, l.Candidates(), 1)
			handle := l.Candidates()[0].Handle()

			fail = true
			assert.ErrorIs(t, l.AddObservation(f.near(0, 0, 0.01)), broken)
			require.Len(t, l.Candidates(), 1, "the candidate is not lost")
			assert.Equal(t, handle, l.Candidates()[0].Handle())
			assert.Equal(t, KindCandidate, l.Candidates()[0].Kind())
			assert.Empty(t, l.Representatives())
			assert.Zero(t, l.Stats().Promotions)

			fail = false
			require.NoError(t, l.AddObservation(f.near(0, 0, 0.01)))
			assert.Empty(t, l.Candidates())
			require.Len(t, l.Representatives(), 1)
			assert.Equal(t, handle, l.Representatives()[0].Handle())
			assert.Equal(t, int64(1), l.Stats().Promotions)
		})
	}
}

func TestLayer_PromotionPreservesMass(t *testing.T) {
	l := newTestLayer(t, testLayerConfig())
	f := newFeeder()

	var promotedAt []int64
	l.SetHooks(LayerHooks{OnPromote: func(c *Cluster) { promotedAt = append(promotedAt, c.Count()) }})

	for i := 0; i < 200; i++ {
		require.NoError(t, l.AddObservation(f.near(1, 1, 0.01)))
	}
	require.Len(t, l.Candidates(), 1)
	require.Empty(t, l.Representatives())
	candidate := l.Candidates()[0]
	before := candidate.Count()
	assert.Equal(t, int64(200), before)

	require.NoError(t, l.AddObservation(f.near(1, 1, 0.01)))
	require.Len(t, l.Representatives(), 1)
	assert.Empty(t, l.Candidates())

	rep := l.Representatives()[0]
	assert.Equal(t, candidate.Handle(), rep.Handle())
	assert.Equal(t, KindRepresentative, rep.Kind())
	assert.Equal(t, before+1, rep.Count())
	assert.Equal(t, []int64{201}, promotedAt)
	assert.NotNil(t, rep.Estimator())
	assert.Equal(t, 1.0, l.Weight(rep))

	s := l.Stats()
	assert.Equal(t, int64(1), s.CandidatesCreated)
	assert.Equal(t, int64(1), s.Promotions)
	assert.Equal(t, int64(201), s.Observations)
}

func TestLayer_PopulationBounds(t *testing.T) {
	cfg := testLayerConfig()
	cfg.PromotionThreshold = 20
	cfg.GCPeriod = 50
	cfg.MaxIdle = 100
	l := newTestLayer(t, cfg)
	f := newFeeder()

	centers := [][2]float64{{0, 0}, {3, 3}, {-3, 3}, {6, -2}}
	for i := 0; i < 2000; i++ {
		c := centers[f.rng.Intn(len(centers))]
		if i > 1000 {
			// drift away so that old clusters go idle
			c = [2]float64{c[0] + 20, c[1] + 20}
		}
		require.NoError(t, l.AddObservation(f.near(c[0], c[1], 0.05)))

		s := l.Stats()
		require.LessOrEqual(t, int64(s.Representatives), s.CandidatesCreated)
		for _, rep := range l.Representatives() {
			require.Greater(t, rep.Count(), cfg.PromotionThreshold)
		}
	}
	assert.Positive(t, l.Stats().Evictions)

	var total int64
	for _, c := range append(l.Candidates(), l.Representatives()...) {
		total += c.Count()
	}
	assert.LessOrEqual(t, total, l.Count())
}

func TestLayer_GarbageCollectionIdempotent(t *testing.T) {
	cfg := testLayerConfig()
	cfg.GCPeriod = 1 << 40
	cfg.MaxIdle = 10
	l := newTestLayer(t, cfg)
	f := newFeeder()

	require.NoError(t, l.AddObservation(f.near(5, 5, 0)))
	for i := 0; i < 30; i++ {
		require.NoError(t, l.AddObservation(f.near(0, 0, 0.01)))
	}
	require.Len(t, l.Candidates(), 2)

	assert.Equal(t, 1, l.CollectGarbage())
	assert.Equal(t, 0, l.CollectGarbage())
	assert.Len(t, l.Candidates(), 1)
	assert.Equal(t, int64(1), l.Stats().Evictions)
}

func TestLayer_IdleEviction(t *testing.T) {
	cfg := testLayerConfig()
	cfg.GCPeriod = 10
	cfg.MaxIdle = 20
	cfg.PromotionThreshold = 5
	l := newTestLayer(t, cfg)
	f := newFeeder()

	var evicted []Handle
	l.SetHooks(LayerHooks{OnEvict: func(c *Cluster) { evicted = append(evicted, c.Handle()) }})

	// a representative far away, then silence for it
	for i := 0; i < 8; i++ {
		require.NoError(t, l.AddObservation(f.near(5, 5, 0.01)))
	}
	require.Len(t, l.Representatives(), 1)
	idle := l.Representatives()[0]
	idleHandle := idle.Handle()

	for l.Now().Sub(idle.LastUsed()) <= cfg.MaxIdle {
		require.NoError(t, l.AddObservation(f.near(0, 0, 0.01)))
	}
	// the next sweep removes it
	for l.Count()%cfg.GCPeriod != 0 {
		require.NoError(t, l.AddObservation(f.near(0, 0, 0.01)))
	}
	assert.Contains(t, evicted, idleHandle)
	for _, c := range append(l.Candidates(), l.Representatives()...) {
		assert.NotEqual(t, idleHandle, c.Handle())
		assert.LessOrEqual(t, l.Now().Sub(c.LastUsed()), cfg.MaxIdle)
	}

	// freed handles are reused
	require.NoError(t, l.AddObservation(f.near(-9, -9, 0)))
	_, ok := l.Cluster(idleHandle)
	assert.True(t, ok)
}

func TestLayer_NearestRepresentative(t *testing.T) {
	cfg := testLayerConfig()
	cfg.PromotionThreshold = 10
	cfg.EvidenceFloor = 50
	l := newTestLayer(t, cfg)
	f := newFeeder()

	for i := 0; i < 30; i++ {
		require.NoError(t, l.AddObservation(f.near(0, 0, 0.01)))
	}
	require.Len(t, l.Representatives(), 1)
	_, ok := l.NearestRepresentative([]float64{0, 0})
	assert.False(t, ok, "below the evidence floor")

	for i := 0; i < 30; i++ {
		require.NoError(t, l.AddObservation(f.near(0, 0, 0.01)))
		require.NoError(t, l.AddObservation(f.near(4, 4, 0.01)))
	}
	require.Len(t, l.Representatives(), 2)
	rep, ok := l.NearestRepresentative([]float64{0.1, 0.1})
	require.True(t, ok)
	assert.InDelta(t, 0, rep.Mean()[0], 0.1)

	// the second one is still below the floor
	rep, ok = l.NearestRepresentative([]float64{4, 4})
	require.True(t, ok)
	assert.InDelta(t, 0, rep.Mean()[0], 0.1)
}

func TestLayer_NeighborCovariance(t *testing.T) {
	cfg := testLayerConfig()
	cfg.PromotionThreshold = 30
	l := newTestLayer(t, cfg)
	f := newFeeder()
	for i := 0; i < 40; i++ {
		require.NoError(t, l.AddObservation(f.near(0, 0, 0.05)))
	}
	require.Len(t, l.Representatives(), 1)

	cov := l.neighborCovariance(l.rank([]float64{3, 3}))
	require.NotNil(t, cov)
	assert.InDelta(t, 0.0025, cov.At(0, 0), 0.0015)
	assert.InDelta(t, 0.0025, cov.At(1, 1), 0.0015)

	require.NoError(t, l.AddObservation(f.near(3, 3, 0)))
	require.Len(t, l.Candidates(), 1)
	assert.True(t, l.Candidates()[0].Member([]float64{3.05, 2.95}))
}

func TestLayer_QueriesDoNotMutate(t *testing.T) {
	l := newTestLayer(t, testLayerConfig())
	f := newFeeder()
	for i := 0; i < 300; i++ {
		require.NoError(t, l.AddObservation(f.near(0, 0, 0.01)))
	}
	before := l.Stats()
	rep, ok := l.NearestRepresentative([]float64{0, 0})
	require.True(t, ok)
	_, err := rep.DensityValue(NewObservation(data.NewInstance(l.Schema(), []float64{0, 0}), []float64{0, 0}, l.Now()))
	require.NoError(t, err)
	assert.Equal(t, before, l.Stats())
	assert.Equal(t, int64(300), rep.Count())
}

func TestLayer_CandidateStartsAtItsObservation(t *testing.T) {
	l, err := NewLayer(testLayerConfig(), distanceHeader(2), kernelChain, []float64{5, 5}, diag(0.01, 0.01), nil)
	require.NoError(t, err)

	require.NoError(t, l.AddObservation(NewObservation(nil, []float64{1, 2}, 1)))
	require.Len(t, l.Candidates(), 1)
	c := l.Candidates()[0]
	assert.Equal(t, []float64{1, 2}, c.Mean())
	assert.Equal(t, []float64{1, 2}, c.Center().Distance())
	assert.True(t, c.Member([]float64{1, 2}))
	assert.Equal(t, []float64{5, 5}, l.DefaultMean())
}
