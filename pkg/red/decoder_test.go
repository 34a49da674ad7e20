package red

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/redstream/pkg/data"
	"github.com/orneryd/redstream/pkg/estimator"
)

// scripted is a DensityEstimator whose density is a fixed function of the
// last value of the queried instance.
type scripted struct {
	density   func(v float64) float64
	initErr   error
	updateErr error

	targets, conds []data.RandomVariable
	updates        int
	queries        int
	last           *data.Instance
}

func (s *scripted) Init(_ *data.Header, targetVars, condVars []data.RandomVariable) error {
	if s.initErr != nil {
		return s.initErr
	}
	s.targets, s.conds = targetVars, condVars
	return nil
}

func (s *scripted) SupportedTypes() []estimator.Type {
	return []estimator.Type{estimator.DiscreteTarget, estimator.ContinuousTarget, estimator.Joint}
}

func (s *scripted) TargetVariables() []data.RandomVariable      { return s.targets }
func (s *scripted) ConditionedVariables() []data.RandomVariable { return s.conds }

func (s *scripted) Update(*data.Instance) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates++
	return nil
}

func (s *scripted) DensityValue(inst *data.Instance) (float64, error) {
	s.queries++
	s.last = inst
	return s.density(inst.Value(inst.NumAttributes() - 1)), nil
}

func (s *scripted) ModelCharacteristics() map[string]any { return map[string]any{"type": "scripted"} }

func constantDensity(p float64) func(float64) float64 {
	return func(float64) float64 { return p }
}

func TestDecoder_Expectation(t *testing.T) {
	src := numericHeader("a", "b")

	t.Run("numeric target integrates over the range", func(t *testing.T) {
		// f(v) = v/8 on [0, 4] integrates to 1; the midpoint rule is exact
		// for linear densities
		est := &scripted{density: func(v float64) float64 { return v / 8 }}
		d, err := NewDecoder(src, 1, 2, 0, 4, 100, est)
		require.NoError(t, err)
		require.Len(t, est.targets, 1)
		require.Len(t, est.conds, 2)
		assert.Equal(t, "b", est.targets[0].Attribute.Name)

		e, err := d.Expectation([]float64{0.3, 0.7})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, e, 1e-12)
		assert.Equal(t, 100, est.queries)
		// the distance vector conditions every query
		assert.Equal(t, []float64{0.3, 0.7}, est.last.Values()[:2])
		assert.InDelta(t, 4-0.02, est.last.Value(2), 1e-12)
	})

	t.Run("default bin count", func(t *testing.T) {
		est := &scripted{density: constantDensity(0.125)}
		d, err := NewDecoder(src, 0, 2, 2, 6, 0, est)
		require.NoError(t, err)
		e, err := d.Expectation([]float64{0, 0})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, e, 1e-12)
		assert.Equal(t, DefaultDecoderBins, est.queries)
	})

	t.Run("constant attribute contributes one", func(t *testing.T) {
		est := &scripted{density: constantDensity(7)}
		d, err := NewDecoder(src, 0, 2, 3, 3, 10, est)
		require.NoError(t, err)
		e, err := d.Expectation([]float64{1, 1})
		require.NoError(t, err)
		assert.Equal(t, 1.0, e)
		assert.Zero(t, est.queries)
	})

	t.Run("nominal target contributes one over k", func(t *testing.T) {
		h := data.NewHeader("nominal", []data.Attribute{data.Numeric("a"), data.Nominal("c", "x", "y", "z")})
		est := &scripted{density: constantDensity(1)}
		d, err := NewDecoder(h, 1, 2, 0, 0, 10, est)
		require.NoError(t, err)
		e, err := d.Expectation([]float64{1, 1})
		require.NoError(t, err)
		assert.InDelta(t, 1.0/3, e, 1e-12)
		assert.Zero(t, est.queries)
	})

	t.Run("name collision", func(t *testing.T) {
		h := numericHeader("distance0")
		_, err := NewDecoder(h, 0, 2, 0, 1, 10, &scripted{density: constantDensity(1)})
		assert.Error(t, err)
	})

	t.Run("missing values are not trained", func(t *testing.T) {
		est := &scripted{density: constantDensity(1)}
		d, err := NewDecoder(src, 1, 2, 0, 1, 10, est)
		require.NoError(t, err)
		require.NoError(t, d.Update([]float64{0, 0}, data.NewInstance(src, []float64{1, math.NaN()})))
		assert.Zero(t, est.updates)
		require.NoError(t, d.Update([]float64{0, 0}, data.NewInstance(src, []float64{1, 0.5})))
		assert.Equal(t, 1, est.updates)
	})
}
