package red

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/orneryd/redstream/pkg/data"
	"github.com/orneryd/redstream/pkg/estimator"
)

// Config holds the parameters of a RED estimator. The JSON names follow the
// option names of job descriptions.
type Config struct {
	// Name labels the metrics of this estimator.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Seed                            int64   `json:"seed" yaml:"seed"`
	Norm                            float64 `json:"norm" yaml:"norm"`
	NumLandmarks                    int     `json:"numLandmarks" yaml:"numLandmarks"`
	MahalanobisDistance             float64 `json:"mahalonobisDistance" yaml:"mahalonobisDistance"`
	ThresholdBecomingRepresentative int64   `json:"thresholdBecomingRepresentative" yaml:"thresholdBecomingRepresentative"`
	HelpingNeighbors                int     `json:"helpingNeighbors" yaml:"helpingNeighbors"`
	GarbageCollectionPeriod         int64   `json:"tresholdGarbageCollection" yaml:"tresholdGarbageCollection"`
	MaxTimeBeingUnused              int64   `json:"maxTimeBeingUnused" yaml:"maxTimeBeingUnused"`

	InitializationBatch int     `json:"initializationBatch" yaml:"initializationBatch"`
	BufferSize          int     `json:"bufferSize" yaml:"bufferSize"`
	EvidenceFloor       int64   `json:"evidenceFloor" yaml:"evidenceFloor"`
	LogLikelihoodWarmup int64   `json:"logLikelihoodWarmup" yaml:"logLikelihoodWarmup"`
	PriorWeight         float64 `json:"priorWeight" yaml:"priorWeight"`
	CovarianceFloor     float64 `json:"covarianceFloor" yaml:"covarianceFloor"`
	KernelLimit         int     `json:"kernelLimit" yaml:"kernelLimit"`
	DecoderBins         int     `json:"decoderBins" yaml:"decoderBins"`
}

// DefaultConfig returns the default RED parameters.
func DefaultConfig() Config {
	return Config{
		Name:                            "red",
		Seed:                            1,
		Norm:                            2,
		NumLandmarks:                    1,
		MahalanobisDistance:             3,
		ThresholdBecomingRepresentative: 200,
		HelpingNeighbors:                3,
		GarbageCollectionPeriod:         1000,
		MaxTimeBeingUnused:              10000,
		InitializationBatch:             250,
		BufferSize:                      200,
		EvidenceFloor:                   200,
		LogLikelihoodWarmup:             500,
		PriorWeight:                     10,
		CovarianceFloor:                 1e-4,
		KernelLimit:                     500,
		DecoderBins:                     DefaultDecoderBins,
	}
}

// Validate reports every invalid parameter.
func (c Config) Validate() error {
	var err error
	positive := func(name string, ok bool) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%s must be positive", name))
		}
	}
	positive("norm", c.Norm > 0)
	positive("numLandmarks", c.NumLandmarks > 0)
	positive("mahalonobisDistance", c.MahalanobisDistance > 0)
	positive("thresholdBecomingRepresentative", c.ThresholdBecomingRepresentative > 0)
	positive("tresholdGarbageCollection", c.GarbageCollectionPeriod > 0)
	positive("maxTimeBeingUnused", c.MaxTimeBeingUnused > 0)
	positive("bufferSize", c.BufferSize > 0)
	positive("priorWeight", c.PriorWeight > 0)
	positive("kernelLimit", c.KernelLimit > 0)
	positive("decoderBins", c.DecoderBins > 0)
	if c.HelpingNeighbors < 0 {
		err = multierr.Append(err, fmt.Errorf("helpingNeighbors must not be negative"))
	}
	if c.InitializationBatch < 0 {
		err = multierr.Append(err, fmt.Errorf("initializationBatch must not be negative"))
	}
	if c.EvidenceFloor < 0 || c.LogLikelihoodWarmup < 0 || c.CovarianceFloor < 0 {
		err = multierr.Append(err, fmt.Errorf("evidenceFloor, logLikelihoodWarmup and covarianceFloor must not be negative"))
	}
	return err
}

func (c Config) layerConfig() LayerConfig {
	return LayerConfig{
		Seed:                c.Seed,
		Threshold:           c.MahalanobisDistance,
		PromotionThreshold:  c.ThresholdBecomingRepresentative,
		HelpingNeighbors:    c.HelpingNeighbors,
		GCPeriod:            c.GarbageCollectionPeriod,
		MaxIdle:             c.MaxTimeBeingUnused,
		BufferSize:          c.BufferSize,
		EvidenceFloor:       c.EvidenceFloor,
		LogLikelihoodWarmup: c.LogLikelihoodWarmup,
		PriorWeight:         c.PriorWeight,
		CovarianceFloor:     c.CovarianceFloor,
	}
}

type options struct {
	log            *zap.SugaredLogger
	representative estimator.Factory
	decoder        func(rv data.RandomVariable) estimator.DensityEstimator
	metrics        bool
}

// Option customizes a RED estimator.
type Option func(*options) error

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) error {
		if l == nil {
			return fmt.Errorf("nil logger")
		}
		o.log = l
		return nil
	}
}

// WithRepresentativeFactory replaces the estimator embedded in
// representatives.
func WithRepresentativeFactory(f estimator.Factory) Option {
	return func(o *options) error {
		if f == nil {
			return fmt.Errorf("nil representative factory")
		}
		o.representative = f
		return nil
	}
}

// WithDecoderFactory replaces the estimators embedded in decoders.
func WithDecoderFactory(f func(rv data.RandomVariable) estimator.DensityEstimator) Option {
	return func(o *options) error {
		if f == nil {
			return fmt.Errorf("nil decoder factory")
		}
		o.decoder = f
		return nil
	}
}

// WithMetrics enables the Prometheus collectors of package metrics.
func WithMetrics(enabled bool) Option {
	return func(o *options) error {
		o.metrics = enabled
		return nil
	}
}

func defaultOptions(cfg Config) options {
	kernel := estimator.KernelOptions{MaxKernels: cfg.KernelLimit, Seed: cfg.Seed}
	return options{
		log: zap.NewNop().Sugar(),
		representative: func() estimator.DensityEstimator {
			opts := estimator.DefaultChainOptions()
			opts.Seed = cfg.Seed
			opts.Kernel = kernel
			return estimator.NewChain(opts)
		},
		decoder: func(rv data.RandomVariable) estimator.DensityEstimator {
			if rv.IsDiscrete() {
				return estimator.NewFrequency(estimator.DefaultFrequencyOptions())
			}
			return estimator.NewKernel(kernel)
		},
	}
}
