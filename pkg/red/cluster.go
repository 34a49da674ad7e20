package red

import (
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/orneryd/redstream/pkg/data"
	"github.com/orneryd/redstream/pkg/estimator"
)

const (
	jitterMagnitude      = 1e-5
	maxInversionAttempts = 1000
	// minDensity keeps log-likelihood contributions finite.
	minDensity = 1e-300
)

// Kind discriminates candidates from representatives.
type Kind uint8

const (
	KindCandidate Kind = iota
	KindRepresentative
)

func (k Kind) String() string {
	if k == KindRepresentative {
		return "representative"
	}
	return "candidate"
}

// Handle addresses a cluster inside its layer. Handles of evicted clusters
// are reused.
type Handle int32

// clusterParams are the settings a layer hands to every cluster it creates.
type clusterParams struct {
	threshold   float64
	bufferSize  int
	priorWeight float64
	floor       float64
	llWarmup    int64
	log         *zap.SugaredLogger
}

// Cluster is an incremental Gaussian over distance vectors. A candidate only
// accumulates statistics; a representative additionally trains an embedded
// density estimator on every observation it absorbs.
//
// Mean and scatter are maintained with Welford's algorithm. The covariance
// used for membership blends the seeding covariance Σ₀ with the scatter M₂:
//
//	Σ = (κ·Σ₀ + M₂) / (κ + n − 1) + floor·I
//
// Membership is measured from the fixed center, so the center is always a
// member of its own cluster however far the running mean drifts.
type Cluster struct {
	handle Handle
	kind   Kind
	seed   int64
	params clusterParams

	center Observation
	buffer []Observation
	head   int

	count    int64
	born     Timestamp
	lastUsed Timestamp

	mean  *mat.VecDense
	m2    *mat.SymDense
	prior *mat.SymDense

	inv   *mat.SymDense
	stale bool

	schema        *data.Header
	estimator     estimator.DensityEstimator
	logLikelihood float64
	llCount       int64
}

func newCluster(h Handle, seed int64, obs Observation, params clusterParams) *Cluster {
	dim := obs.Dim()
	c := &Cluster{
		handle:   h,
		kind:     KindCandidate,
		seed:     seed,
		params:   params,
		center:   obs,
		buffer:   make([]Observation, 0, params.bufferSize),
		count:    1,
		born:     obs.timestamp,
		lastUsed: obs.timestamp,
		mean:     mat.NewVecDense(dim, obs.Distance()),
		m2:       mat.NewSymDense(dim, nil),
		stale:    true,
	}
	c.push(obs)
	return c
}

// seedCovariance sets Σ₀. It must be called before the cluster is tested for
// membership.
func (c *Cluster) seedCovariance(cov *mat.SymDense) {
	c.prior = mat.NewSymDense(cov.SymmetricDim(), nil)
	c.prior.CopySym(cov)
	c.stale = true
}

func (c *Cluster) push(obs Observation) {
	if len(c.buffer) < c.params.bufferSize {
		c.buffer = append(c.buffer, obs)
		return
	}
	c.buffer[c.head] = obs
	c.head = (c.head + 1) % len(c.buffer)
}

// Buffered returns the buffered observations, oldest first.
func (c *Cluster) Buffered() []Observation {
	out := make([]Observation, 0, len(c.buffer))
	out = append(out, c.buffer[c.head:]...)
	return append(out, c.buffer[:c.head]...)
}

func (c *Cluster) observe(x []float64) {
	c.count++
	n := float64(c.count)
	delta := mat.NewVecDense(len(x), nil)
	delta.SubVec(mat.NewVecDense(len(x), x), c.mean)
	c.mean.AddScaledVec(c.mean, 1/n, delta)
	c.m2.SymRankOne(c.m2, (n-1)/n, delta)
	c.stale = true
}

// add absorbs obs. Representatives score the observation against their
// estimator before training it once they have seen more than the warm-up
// number of observations.
func (c *Cluster) add(obs Observation) error {
	if c.kind == KindRepresentative {
		inst := data.NewInstance(c.schema, obs.distance)
		if c.count > c.params.llWarmup {
			p, err := c.estimator.DensityValue(inst)
			if err != nil {
				return fmt.Errorf("representative %d: %w", c.handle, err)
			}
			c.logLikelihood += math.Log(math.Max(p, minDensity))
			c.llCount++
		}
		if err := c.estimator.Update(inst); err != nil {
			return fmt.Errorf("representative %d: %w", c.handle, err)
		}
	}
	c.push(obs)
	c.observe(obs.distance)
	c.lastUsed = obs.timestamp
	return nil
}

// promote turns a candidate into a representative backed by est, which must
// already be initialized against schema. est is warm-started with the
// buffered observations; every other field is kept.
func (c *Cluster) promote(est estimator.DensityEstimator, schema *data.Header) error {
	for _, obs := range c.Buffered() {
		if err := est.Update(data.NewInstance(schema, obs.distance)); err != nil {
			return fmt.Errorf("warm start of cluster %d: %w", c.handle, err)
		}
	}
	c.kind = KindRepresentative
	c.schema = schema
	c.estimator = est
	return nil
}

// Covariance returns the membership covariance, or nil before seeding.
func (c *Cluster) Covariance() *mat.SymDense {
	if c.prior == nil {
		return nil
	}
	dim := c.prior.SymmetricDim()
	k := c.params.priorWeight
	cov := mat.NewSymDense(dim, nil)
	cov.ScaleSym(k, c.prior)
	cov.AddSym(cov, c.m2)
	cov.ScaleSym(1/(k+float64(c.count-1)), cov)
	for i := 0; i < dim; i++ {
		cov.SetSym(i, i, cov.At(i, i)+c.params.floor)
	}
	return cov
}

// inverse returns the rescaled inverse of the jittered covariance. The
// jitter source is reseeded with the cluster seed on every call.
func (c *Cluster) inverse() *mat.SymDense {
	if !c.stale && c.inv != nil {
		return c.inv
	}
	cov := c.Covariance()
	dim := cov.SymmetricDim()
	rng := rand.New(rand.NewSource(c.seed))
	jittered := mat.NewSymDense(dim, nil)
	inv := mat.NewSymDense(dim, nil)
	var chol mat.Cholesky
	ok := false
	for attempt := 0; attempt < maxInversionAttempts && !ok; attempt++ {
		jittered.CopySym(cov)
		for i := 0; i < dim; i++ {
			for j := i; j < dim; j++ {
				jittered.SetSym(i, j, jittered.At(i, j)+rng.Float64()*jitterMagnitude)
			}
		}
		if chol.Factorize(jittered) && chol.InverseTo(inv) == nil && inv.At(0, 0) > 0 {
			ok = true
		}
	}
	if !ok {
		if c.params.log != nil {
			c.params.log.Warnw("Covariance stayed singular, falling back to identity",
				zap.Int32("cluster", int32(c.handle)), zap.Int("attempts", maxInversionAttempts))
		}
		inv = mat.NewSymDense(dim, nil)
		for i := 0; i < dim; i++ {
			inv.SetSym(i, i, 1)
		}
	}
	inv.ScaleSym(1/inv.At(0, 0), inv)
	c.inv, c.stale = inv, false
	return inv
}

// MahalanobisDistance returns the distance of v from the center under the
// rescaled inverse covariance. ok is false while the cluster is unseeded.
func (c *Cluster) MahalanobisDistance(v []float64) (d float64, ok bool) {
	if c.prior == nil || len(v) != len(c.center.distance) {
		return 0, false
	}
	delta := mat.NewVecDense(len(v), nil)
	delta.SubVec(mat.NewVecDense(len(v), append([]float64(nil), v...)),
		mat.NewVecDense(len(v), append([]float64(nil), c.center.distance...)))
	return math.Sqrt(math.Max(0, mat.Inner(delta, c.inverse(), delta))), true
}

// Member reports whether v lies within the membership threshold.
func (c *Cluster) Member(v []float64) bool {
	d, ok := c.MahalanobisDistance(v)
	return ok && d <= c.params.threshold
}

func (c *Cluster) Handle() Handle      { return c.handle }
func (c *Cluster) Kind() Kind          { return c.kind }
func (c *Cluster) Seed() int64         { return c.seed }
func (c *Cluster) Count() int64        { return c.count }
func (c *Cluster) Born() Timestamp     { return c.born }
func (c *Cluster) LastUsed() Timestamp { return c.lastUsed }

// Center returns the observation the cluster was created from.
func (c *Cluster) Center() Observation { return c.center }

// Mean returns a copy of the running mean. It is diagnostic only.
func (c *Cluster) Mean() []float64 {
	return append([]float64(nil), c.mean.RawVector().Data...)
}

// Estimator returns the embedded estimator of a representative, nil for
// candidates.
func (c *Cluster) Estimator() estimator.DensityEstimator { return c.estimator }

// DensityValue evaluates the embedded estimator at the distance vector of
// obs. Candidates have no density.
func (c *Cluster) DensityValue(obs Observation) (float64, error) {
	if c.kind != KindRepresentative {
		return 0, nil
	}
	return c.estimator.DensityValue(data.NewInstance(c.schema, obs.distance))
}

// AverageLogLikelihood is the mean log density the representative assigned
// to the observations it absorbed after its warm-up. It is 0 until the
// first such observation.
func (c *Cluster) AverageLogLikelihood() float64 {
	if c.llCount == 0 {
		return 0
	}
	return c.logLikelihood / float64(c.llCount)
}
