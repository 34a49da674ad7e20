package red

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/orneryd/redstream/pkg/data"
	"github.com/orneryd/redstream/pkg/estimator"
	"github.com/orneryd/redstream/pkg/math/vector"
)

// LayerConfig holds the routing and lifecycle parameters of a Layer.
type LayerConfig struct {
	Seed                int64
	Threshold           float64
	PromotionThreshold  int64
	HelpingNeighbors    int
	GCPeriod            int64
	MaxIdle             int64
	BufferSize          int
	EvidenceFloor       int64
	LogLikelihoodWarmup int64
	PriorWeight         float64
	CovarianceFloor     float64
}

// Stats is a snapshot of the population of a layer.
type Stats struct {
	Candidates        int   `json:"candidates"`
	Representatives   int   `json:"representatives"`
	CandidatesCreated int64 `json:"candidatesCreated"`
	Promotions        int64 `json:"promotions"`
	Evictions         int64 `json:"evictions"`
	Observations      int64 `json:"observations"`
}

// Layer owns every cluster of a RED estimator. Clusters live in an arena
// and are referenced by handle; the candidate and representative lists keep
// creation order.
//
// Each observation is routed in three steps:
//  1. the representative whose center is closest in Manhattan distance is
//     tested for membership
//  2. otherwise candidates are tested in creation order
//  3. otherwise a new candidate is created around the observation
//
// Afterwards candidates past the promotion threshold become representatives,
// and every GCPeriod observations clusters idle for more than MaxIdle ticks
// are removed.
type Layer struct {
	cfg     LayerConfig
	schema  *data.Header
	targets []data.RandomVariable
	factory estimator.Factory
	log     *zap.SugaredLogger
	hooks   LayerHooks

	arena           []*Cluster
	free            []Handle
	candidates      []Handle
	representatives []Handle

	now        Timestamp
	count      int64
	created    int64
	promotions int64
	evictions  int64

	defaultMean []float64
	defaultCov  *mat.SymDense
}

// LayerHooks are optional callbacks fired on lifecycle events.
type LayerHooks struct {
	OnPromote func(c *Cluster)
	OnEvict   func(c *Cluster)
}

// NewLayer creates a layer whose representatives model every coordinate of
// schema with estimators built by factory. defaultCov seeds the covariance
// of candidates created while no representative can lend one; defaultMean
// is only reported.
//
// A trial estimator is initialized against schema so that an unsupported
// factory fails here rather than at the first promotion.
func NewLayer(cfg LayerConfig, schema *data.Header, factory estimator.Factory,
	defaultMean []float64, defaultCov *mat.SymDense, log *zap.SugaredLogger) (*Layer, error) {
	dim := schema.NumAttributes()
	if len(defaultMean) != dim || defaultCov == nil || defaultCov.SymmetricDim() != dim {
		return nil, fmt.Errorf("layer: default statistics do not match %d coordinates", dim)
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("layer: buffer size must be positive")
	}
	if cfg.PriorWeight <= 0 {
		return nil, fmt.Errorf("layer: prior weight must be positive")
	}
	targets := data.RandomVariables(schema)
	if err := factory().Init(schema, targets, nil); err != nil {
		return nil, fmt.Errorf("layer: representative estimator: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cov := mat.NewSymDense(dim, nil)
	cov.CopySym(defaultCov)
	return &Layer{
		cfg:         cfg,
		schema:      schema,
		targets:     targets,
		factory:     factory,
		log:         log,
		defaultMean: append([]float64(nil), defaultMean...),
		defaultCov:  cov,
	}, nil
}

// SetHooks installs lifecycle callbacks.
func (l *Layer) SetHooks(h LayerHooks) { l.hooks = h }

func (l *Layer) params() clusterParams {
	return clusterParams{
		threshold:   l.cfg.Threshold,
		bufferSize:  l.cfg.BufferSize,
		priorWeight: l.cfg.PriorWeight,
		floor:       l.cfg.CovarianceFloor,
		llWarmup:    l.cfg.LogLikelihoodWarmup,
		log:         l.log,
	}
}

// AddObservation routes obs, runs the promotion sweep and, on every
// GCPeriod-th observation, the garbage collection.
func (l *Layer) AddObservation(obs Observation) error {
	l.now = obs.timestamp
	l.count++

	if err := l.route(obs); err != nil {
		return err
	}
	if err := l.promote(); err != nil {
		return err
	}
	if l.cfg.GCPeriod > 0 && l.count%l.cfg.GCPeriod == 0 {
		l.CollectGarbage()
	}
	return nil
}

func (l *Layer) route(obs Observation) error {
	ranked := l.rank(obs.distance)
	if len(ranked) > 0 {
		if c := l.arena[ranked[0]]; c.Member(obs.distance) {
			return c.add(obs)
		}
	}
	for _, h := range l.candidates {
		if c := l.arena[h]; c.Member(obs.distance) {
			return c.add(obs)
		}
	}
	l.createCandidate(obs, ranked)
	return nil
}

// rank orders representatives by Manhattan distance between their center
// and v, closest first.
func (l *Layer) rank(v []float64) []Handle {
	if len(l.representatives) == 0 {
		return nil
	}
	ranked := append([]Handle(nil), l.representatives...)
	dist := make(map[Handle]float64, len(ranked))
	for _, h := range ranked {
		dist[h] = vector.Manhattan(l.arena[h].center.distance, v)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return dist[ranked[i]] < dist[ranked[j]] })
	return ranked
}

func (l *Layer) alloc() Handle {
	if n := len(l.free); n > 0 {
		h := l.free[n-1]
		l.free = l.free[:n-1]
		return h
	}
	l.arena = append(l.arena, nil)
	return Handle(len(l.arena) - 1)
}

func (l *Layer) createCandidate(obs Observation, ranked []Handle) {
	h := l.alloc()
	c := newCluster(h, l.cfg.Seed+l.created, obs, l.params())
	l.created++

	cov := l.neighborCovariance(ranked)
	if cov == nil {
		cov = l.defaultCov
	}
	c.seedCovariance(cov)

	l.arena[h] = c
	l.candidates = append(l.candidates, h)
}

// neighborCovariance pools the within-cluster sample covariance of the
// buffers of the HelpingNeighbors closest representatives. It returns nil
// when they do not hold enough observations.
func (l *Layer) neighborCovariance(ranked []Handle) *mat.SymDense {
	k := min(l.cfg.HelpingNeighbors, len(ranked))
	if k == 0 {
		return nil
	}
	dim := l.schema.NumAttributes()
	pooled := mat.NewSymDense(dim, nil)
	var dof float64
	for _, h := range ranked[:k] {
		buf := l.arena[h].Buffered()
		if len(buf) < 2 {
			continue
		}
		rows := mat.NewDense(len(buf), dim, nil)
		for i, o := range buf {
			rows.SetRow(i, o.distance)
		}
		var cov mat.SymDense
		stat.CovarianceMatrix(&cov, rows, nil)
		w := float64(len(buf) - 1)
		pooled.AddSym(pooled, scaled(w, &cov))
		dof += w
	}
	if dof == 0 {
		return nil
	}
	pooled.ScaleSym(1/dof, pooled)
	return pooled
}

func scaled(f float64, a *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(a.SymmetricDim(), nil)
	out.ScaleSym(f, a)
	return out
}

// promote turns every candidate past the promotion threshold into a
// representative, in creation order. A candidate whose estimator fails to
// initialize or warm start stays a candidate.
func (l *Layer) promote() error {
	for i := 0; i < len(l.candidates); {
		h := l.candidates[i]
		c := l.arena[h]
		if c.count <= l.cfg.PromotionThreshold {
			i++
			continue
		}
		est := l.factory()
		if err := est.Init(l.schema, l.targets, nil); err != nil {
			return fmt.Errorf("promote cluster %d: %w", h, err)
		}
		if err := c.promote(est, l.schema); err != nil {
			return err
		}
		l.candidates = append(l.candidates[:i], l.candidates[i+1:]...)
		l.representatives = append(l.representatives, h)
		l.promotions++
		l.log.Debugw("Promoted candidate", zap.Int32("cluster", int32(h)),
			zap.Int64("count", c.count), zap.Int64("now", int64(l.now)))
		if l.hooks.OnPromote != nil {
			l.hooks.OnPromote(c)
		}
	}
	return nil
}

// CollectGarbage removes every cluster idle for more than MaxIdle ticks
// and returns how many were removed.
func (l *Layer) CollectGarbage() int {
	removed := 0
	sweep := func(list []Handle) []Handle {
		kept := list[:0]
		for _, h := range list {
			c := l.arena[h]
			if l.now.Sub(c.lastUsed) > l.cfg.MaxIdle {
				l.log.Debugw("Evicted idle cluster", zap.Int32("cluster", int32(h)),
					zap.Stringer("kind", c.kind), zap.Int64("count", c.count),
					zap.Int64("lastUsed", int64(c.lastUsed)))
				if l.hooks.OnEvict != nil {
					l.hooks.OnEvict(c)
				}
				l.arena[h] = nil
				l.free = append(l.free, h)
				removed++
				continue
			}
			kept = append(kept, h)
		}
		return kept
	}
	l.candidates = sweep(l.candidates)
	l.representatives = sweep(l.representatives)
	l.evictions += int64(removed)
	return removed
}

// NearestRepresentative returns the representative with more than
// EvidenceFloor observations whose center is closest to v in Euclidean
// distance.
func (l *Layer) NearestRepresentative(v []float64) (*Cluster, bool) {
	var (
		best     *Cluster
		bestDist float64
	)
	for _, h := range l.representatives {
		c := l.arena[h]
		if c.count <= l.cfg.EvidenceFloor {
			continue
		}
		d := vector.SquaredEuclidean(c.center.distance, v)
		if best == nil || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, best != nil
}

// Weight returns the share of all observations absorbed by c.
func (l *Layer) Weight(c *Cluster) float64 {
	if l.count == 0 {
		return 0
	}
	return float64(c.count) / float64(l.count)
}

// Cluster resolves a handle.
func (l *Layer) Cluster(h Handle) (*Cluster, bool) {
	if h < 0 || int(h) >= len(l.arena) || l.arena[h] == nil {
		return nil, false
	}
	return l.arena[h], true
}

func (l *Layer) resolve(list []Handle) []*Cluster {
	out := make([]*Cluster, len(list))
	for i, h := range list {
		out[i] = l.arena[h]
	}
	return out
}

// Candidates returns the live candidates in creation order.
func (l *Layer) Candidates() []*Cluster { return l.resolve(l.candidates) }

// Representatives returns the live representatives in promotion order.
func (l *Layer) Representatives() []*Cluster { return l.resolve(l.representatives) }

// Now returns the timestamp of the latest observation.
func (l *Layer) Now() Timestamp { return l.now }

// Count returns the number of observations ever routed through the layer.
func (l *Layer) Count() int64 { return l.count }

// Schema returns the header of the distance coordinates.
func (l *Layer) Schema() *data.Header { return l.schema }

// DefaultMean returns the mean of the warm-up sample.
func (l *Layer) DefaultMean() []float64 { return append([]float64(nil), l.defaultMean...) }

// Stats returns a snapshot of the population.
func (l *Layer) Stats() Stats {
	return Stats{
		Candidates:        len(l.candidates),
		Representatives:   len(l.representatives),
		CandidatesCreated: l.created,
		Promotions:        l.promotions,
		Evictions:         l.evictions,
		Observations:      l.count,
	}
}
