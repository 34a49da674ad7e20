// Package red implements RED, a representative-based online density
// estimator for data streams.
//
// RED buffers a warm-up batch, derives a small set of synthetic landmarks
// from it and from then on works in the space of distance vectors: every
// instance is replaced by its distances to the landmarks. A Layer groups
// the distance vectors into Gaussian clusters. Clusters start as candidates
// and become representatives, backed by their own density estimator, once
// they have absorbed enough observations; clusters left unused for too long
// are garbage collected.
//
// A density query projects the instance, picks the closest representative
// with enough evidence and multiplies its density with a correction factor
// computed by one Decoder per attribute the landmarks do not span.
//
// Example:
//
//	est, err := red.New(red.DefaultConfig(), red.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	h := s.Header()
//	if err := est.Init(h, data.RandomVariables(h), nil); err != nil {
//		return err
//	}
//	for s.HasMoreInstances() {
//		inst, _ := s.NextInstance()
//		if err := est.Update(inst); err != nil {
//			return err
//		}
//	}
//	d, err := est.DensityValue(query)
//
// RED is not safe for concurrent use.
package red

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/orneryd/redstream/pkg/data"
	"github.com/orneryd/redstream/pkg/estimator"
	"github.com/orneryd/redstream/pkg/math/vector"
	"github.com/orneryd/redstream/pkg/metrics"
)

// ErrNotInitialized is returned when RED is used before Init.
var ErrNotInitialized = errors.New("red: not initialized")

// RED is the representative-based online density estimator.
type RED struct {
	cfg  Config
	opts options
	log  *zap.SugaredLogger

	header  *data.Header
	targets []data.RandomVariable

	warmup     []*data.Instance
	projection *Projection
	layer      *Layer
	decoders   []*Decoder

	clock   Timestamp
	cfSum   float64
	cfCount int64
}

var _ estimator.DensityEstimator = (*RED)(nil)

// New validates cfg and creates an estimator. Init must be called before
// the estimator accepts instances.
func New(cfg Config, opts ...Option) (*RED, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("red: invalid config: %w", err)
	}
	o := defaultOptions(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return nil, fmt.Errorf("red: %w", err)
		}
	}
	if cfg.Name == "" {
		cfg.Name = "red"
	}
	return &RED{cfg: cfg, opts: o, log: o.log.Named("red")}, nil
}

// SupportedTypes implements estimator.DensityEstimator.
func (r *RED) SupportedTypes() []estimator.Type { return []estimator.Type{estimator.Joint} }

// Init prepares RED to model the joint density of every attribute of
// header. RED does not support conditioned variables. More landmarks than
// attributes are allowed; the extra landmarks only use baseline levels and
// no attribute is left for a decoder.
func (r *RED) Init(header *data.Header, targetVars, condVars []data.RandomVariable) error {
	if err := estimator.CheckConfiguration(header, targetVars, condVars, r.SupportedTypes()); err != nil {
		return fmt.Errorf("red: %w", err)
	}
	if len(condVars) > 0 {
		return fmt.Errorf("red: %w: conditioned variables are not supported", estimator.ErrUnsupportedConfiguration)
	}
	if len(targetVars) != header.NumAttributes() {
		return fmt.Errorf("red: %w: every attribute must be a target", estimator.ErrUnsupportedConfiguration)
	}
	trial := r.opts.representative()
	schema := distanceHeader(r.cfg.NumLandmarks + 1)
	if err := trial.Init(schema, data.RandomVariables(schema), nil); err != nil {
		return fmt.Errorf("red: representative estimator: %w", err)
	}

	r.header = header
	r.targets = append([]data.RandomVariable(nil), targetVars...)
	r.warmup = make([]*data.Instance, 0, r.warmupSize())
	r.projection, r.layer, r.decoders = nil, nil, nil
	r.clock, r.cfSum, r.cfCount = 0, 0, 0
	return nil
}

func (r *RED) warmupSize() int { return r.cfg.InitializationBatch + r.cfg.NumLandmarks }

// TargetVariables implements estimator.DensityEstimator.
func (r *RED) TargetVariables() []data.RandomVariable { return r.targets }

// ConditionedVariables implements estimator.DensityEstimator. RED never
// conditions.
func (r *RED) ConditionedVariables() []data.RandomVariable { return nil }

// Ready reports whether the warm-up is complete.
func (r *RED) Ready() bool { return r.layer != nil }

// Update processes one instance. During warm-up instances are only
// buffered; the instance completing the warm-up triggers landmark selection
// and then the whole buffer is processed in arrival order.
func (r *RED) Update(inst *data.Instance) error {
	if r.header == nil {
		return ErrNotInitialized
	}
	if r.Ready() {
		return r.process(inst)
	}
	r.warmup = append(r.warmup, inst)
	if len(r.warmup) < r.warmupSize() {
		return nil
	}
	if err := r.initialize(); err != nil {
		return err
	}
	buffered := r.warmup
	r.warmup = nil
	for _, in := range buffered {
		if err := r.process(in); err != nil {
			return err
		}
	}
	return nil
}

func (r *RED) initialize() error {
	r.projection = NewProjection(r.header, r.warmup, r.cfg.NumLandmarks, r.cfg.Norm)
	dim := r.projection.Dim()

	vectors := make([][]float64, len(r.warmup))
	for i, inst := range r.warmup {
		vectors[i] = r.projection.Project(inst)
	}
	mean := vector.Mean(vectors)
	if mean == nil {
		mean = make([]float64, dim)
	}
	layer, err := NewLayer(r.cfg.layerConfig(), distanceHeader(dim), r.opts.representative,
		mean, localCovariance(vectors, dim), r.log.Named("layer"))
	if err != nil {
		return fmt.Errorf("red: %w", err)
	}
	if r.opts.metrics {
		layer.SetHooks(LayerHooks{
			OnPromote: func(*Cluster) { metrics.PromotionsTotal.WithLabelValues(r.cfg.Name).Inc() },
			OnEvict:   func(*Cluster) { metrics.EvictionsTotal.WithLabelValues(r.cfg.Name).Inc() },
		})
	}

	var decoders []*Decoder
	for j := r.cfg.NumLandmarks; j < r.header.NumAttributes(); j++ {
		lo, hi := r.projection.Range(j)
		rv := data.VariableOf(r.header.Attribute(j))
		d, err := NewDecoder(r.header, j, dim, lo, hi, r.cfg.DecoderBins, r.opts.decoder(rv))
		if err != nil {
			return fmt.Errorf("red: %w", err)
		}
		decoders = append(decoders, d)
	}

	r.layer, r.decoders = layer, decoders
	r.log.Infow("Selected landmarks",
		zap.Int("landmarks", r.cfg.NumLandmarks), zap.Int("dimensions", dim),
		zap.Int("decoders", len(decoders)), zap.Int("warmup", len(r.warmup)))
	return nil
}

// localCovariance estimates the covariance of the local noise of a sample
// from nearest-neighbour differences: Σ = 1/(2n) Σ_i d_i d_iᵀ where d_i is
// the difference between x_i and its nearest other point.
func localCovariance(vectors [][]float64, dim int) *mat.SymDense {
	cov := mat.NewSymDense(dim, nil)
	if len(vectors) < 2 {
		return cov
	}
	for i, x := range vectors {
		nearest, best := -1, 0.0
		for j, y := range vectors {
			if i == j {
				continue
			}
			if d := vector.SquaredEuclidean(x, y); nearest < 0 || d < best {
				nearest, best = j, d
			}
		}
		diff := mat.NewVecDense(dim, nil)
		diff.SubVec(mat.NewVecDense(dim, x), mat.NewVecDense(dim, vectors[nearest]))
		cov.SymRankOne(cov, 1, diff)
	}
	cov.ScaleSym(1/(2*float64(len(vectors))), cov)
	return cov
}

func (r *RED) process(inst *data.Instance) error {
	r.clock = r.clock.Next()
	dist := r.projection.Project(inst)
	obs := NewObservation(inst, dist, r.clock)

	cf, err := r.correction(dist)
	if err != nil {
		return err
	}
	r.cfSum += cf
	r.cfCount++
	for _, d := range r.decoders {
		if err := d.Update(dist, inst); err != nil {
			return fmt.Errorf("red: %w", err)
		}
	}
	if err := r.layer.AddObservation(obs); err != nil {
		return fmt.Errorf("red: %w", err)
	}

	if r.opts.metrics {
		s := r.layer.Stats()
		metrics.ObservationsTotal.WithLabelValues(r.cfg.Name).Inc()
		metrics.Candidates.WithLabelValues(r.cfg.Name).Set(float64(s.Candidates))
		metrics.Representatives.WithLabelValues(r.cfg.Name).Set(float64(s.Representatives))
		metrics.CorrectionFactor.WithLabelValues(r.cfg.Name).Set(r.CorrectionFactor())
	}
	if r.layer.Count()%r.cfg.GarbageCollectionPeriod == 0 {
		s := r.layer.Stats()
		r.log.Debugw("Population", zap.Int64("now", int64(r.clock)),
			zap.Int("candidates", s.Candidates), zap.Int("representatives", s.Representatives))
	}
	return nil
}

// correction multiplies the decoder expectations for dist.
func (r *RED) correction(dist []float64) (float64, error) {
	cf := 1.0
	for _, d := range r.decoders {
		e, err := d.Expectation(dist)
		if err != nil {
			return 0, fmt.Errorf("red: %w", err)
		}
		cf *= e
	}
	return cf, nil
}

// DensityValue returns the corrected density of inst. It is 0 while RED is
// warming up and when no representative has enough evidence. Queries do not
// change the estimator.
func (r *RED) DensityValue(inst *data.Instance) (float64, error) {
	if r.header == nil {
		return 0, ErrNotInitialized
	}
	if !r.Ready() {
		return 0, nil
	}
	dist := r.projection.Project(inst)
	rep, ok := r.layer.NearestRepresentative(dist)
	if !ok {
		return 0, nil
	}
	cf, err := r.correction(dist)
	if err != nil {
		return 0, err
	}
	d, err := rep.DensityValue(NewObservation(inst, dist, r.clock))
	if err != nil {
		return 0, fmt.Errorf("red: %w", err)
	}
	return cf * d, nil
}

// Project returns the distance vector of inst, or nil during warm-up.
func (r *RED) Project(inst *data.Instance) []float64 {
	if !r.Ready() {
		return nil
	}
	return r.projection.Project(inst)
}

// Landmarks returns the landmark instances, or nil during warm-up.
func (r *RED) Landmarks() []*data.Instance {
	if !r.Ready() {
		return nil
	}
	return r.projection.Landmarks()
}

// Layer returns the cluster layer, or nil during warm-up.
func (r *RED) Layer() *Layer { return r.layer }

// Decoders returns the decoder bank.
func (r *RED) Decoders() []*Decoder { return r.decoders }

// CorrectionFactor is the running average of the correction factor over
// all processed instances.
func (r *RED) CorrectionFactor() float64 {
	if r.cfCount == 0 {
		return 1
	}
	return r.cfSum / float64(r.cfCount)
}

// Stats returns the population counts; zero during warm-up.
func (r *RED) Stats() Stats {
	if !r.Ready() {
		return Stats{}
	}
	return r.layer.Stats()
}

// ModelCharacteristics implements estimator.DensityEstimator.
func (r *RED) ModelCharacteristics() map[string]any {
	mc := map[string]any{
		"type":             "red",
		"ready":            r.Ready(),
		"numLandmarks":     r.cfg.NumLandmarks,
		"correctionFactor": r.CorrectionFactor(),
	}
	if !r.Ready() {
		mc["buffered"] = len(r.warmup)
		return mc
	}
	landmarks := make([][]float64, 0, r.projection.Dim())
	for _, l := range r.projection.Landmarks() {
		landmarks = append(landmarks, l.Values())
	}
	reps := r.layer.Representatives()
	weights := make([]float64, len(reps))
	ll := make([]float64, len(reps))
	for i, c := range reps {
		weights[i] = r.layer.Weight(c)
		ll[i] = c.AverageLogLikelihood()
	}
	s := r.layer.Stats()
	mc["landmarks"] = landmarks
	mc["defaultMean"] = r.layer.DefaultMean()
	mc["candidates"] = s.Candidates
	mc["representatives"] = s.Representatives
	mc["candidatesCreated"] = s.CandidatesCreated
	mc["promotions"] = s.Promotions
	mc["evictions"] = s.Evictions
	mc["observations"] = s.Observations
	mc["weights"] = weights
	mc["averageLogLikelihood"] = ll
	mc["decoders"] = len(r.decoders)
	return mc
}
