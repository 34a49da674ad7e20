package estimator

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/orneryd/redstream/pkg/data"
)

const invSqrt2Pi = 0.3989422804014327

// KernelOptions configures a Kernel estimator.
type KernelOptions struct {
	// MaxKernels bounds the reservoir of stored observations.
	MaxKernels int
	// MinBandwidth is the smallest bandwidth used for any column.
	MinBandwidth float64
	// Seed drives reservoir replacement.
	Seed int64
}

// DefaultKernelOptions returns the options used when none are given.
func DefaultKernelOptions() KernelOptions {
	return KernelOptions{MaxKernels: 1000, MinBandwidth: 1e-4, Seed: 1}
}

// Kernel estimates f(X | Y) for a single continuous X with Gaussian product
// kernels centered on a uniform reservoir sample of the stream.
//
// The conditional density is the ratio of the joint kernel sum to the kernel
// sum over the conditioned columns only. When no stored observation carries
// weight near y (the denominator underflows to zero) the marginal f(X) is
// returned instead, so the result is never NaN.
//
// Bandwidths follow Scott's rule from the running standard deviation of
// every column. Discrete conditioned variables use an exact-match kernel.
type Kernel struct {
	opts KernelOptions

	header     *data.Header
	target     []data.RandomVariable
	cond       []data.RandomVariable
	columns    []int
	discrete   []bool
	points     [][]float64
	stats      []welford
	seen       int64
	rng        *rand.Rand
	bandwidths []float64
	dirty      bool
}

// NewKernel creates a kernel estimator. Zero fields of opts take their
// defaults.
func NewKernel(opts KernelOptions) *Kernel {
	def := DefaultKernelOptions()
	if opts.MaxKernels <= 0 {
		opts.MaxKernels = def.MaxKernels
	}
	if opts.MinBandwidth <= 0 {
		opts.MinBandwidth = def.MinBandwidth
	}
	return &Kernel{opts: opts}
}

// SupportedTypes implements DensityEstimator.
func (k *Kernel) SupportedTypes() []Type { return []Type{ContinuousTarget} }

// Init implements DensityEstimator.
func (k *Kernel) Init(h *data.Header, targetVars, condVars []data.RandomVariable) error {
	if err := CheckConfiguration(h, targetVars, condVars, k.SupportedTypes()); err != nil {
		return fmt.Errorf("kernel estimator: %w", err)
	}
	k.header = h
	k.target = append([]data.RandomVariable(nil), targetVars...)
	k.cond = append([]data.RandomVariable(nil), condVars...)
	k.columns = indexes(h, append(append([]data.RandomVariable(nil), targetVars...), condVars...))
	k.discrete = make([]bool, len(k.columns))
	for i, c := range k.columns {
		k.discrete[i] = h.Attribute(c).IsNominal()
	}
	k.points = make([][]float64, 0, min(k.opts.MaxKernels, 256))
	k.stats = make([]welford, len(k.columns))
	k.seen = 0
	k.rng = rand.New(rand.NewSource(k.opts.Seed))
	k.bandwidths = make([]float64, len(k.columns))
	k.dirty = true
	return nil
}

// TargetVariables implements DensityEstimator.
func (k *Kernel) TargetVariables() []data.RandomVariable { return k.target }

// ConditionedVariables implements DensityEstimator.
func (k *Kernel) ConditionedVariables() []data.RandomVariable { return k.cond }

func (k *Kernel) point(inst *data.Instance) []float64 {
	p := make([]float64, len(k.columns))
	for i, c := range k.columns {
		p[i] = inst.Value(c)
	}
	return p
}

// Update implements DensityEstimator.
func (k *Kernel) Update(inst *data.Instance) error {
	if k.header == nil {
		return fmt.Errorf("kernel estimator: update before init")
	}
	p := k.point(inst)
	for i, v := range p {
		if math.IsNaN(v) {
			return fmt.Errorf("kernel estimator: missing value for %q", k.header.Attribute(k.columns[i]).Name)
		}
		k.stats[i].add(v)
	}
	k.seen++
	if len(k.points) < k.opts.MaxKernels {
		k.points = append(k.points, p)
	} else if j := k.rng.Int63n(k.seen); j < int64(k.opts.MaxKernels) {
		k.points[j] = p
	}
	k.dirty = true
	return nil
}

func (k *Kernel) refreshBandwidths() {
	if !k.dirty {
		return
	}
	n := float64(len(k.points))
	factor := math.Pow(n, -1/float64(len(k.columns)+4))
	for i := range k.bandwidths {
		h := k.stats[i].stddev() * factor
		if h < k.opts.MinBandwidth || math.IsNaN(h) {
			h = k.opts.MinBandwidth
		}
		k.bandwidths[i] = h
	}
	k.dirty = false
}

// DensityValue implements DensityEstimator.
func (k *Kernel) DensityValue(inst *data.Instance) (float64, error) {
	if k.header == nil {
		return 0, fmt.Errorf("kernel estimator: query before init")
	}
	if len(k.points) == 0 {
		return 0, nil
	}
	k.refreshBandwidths()
	q := k.point(inst)
	h0 := k.bandwidths[0]

	var joint, condSum, marginal float64
	for _, p := range k.points {
		z := (q[0] - p[0]) / h0
		kx := invSqrt2Pi * math.Exp(-0.5*z*z) / h0
		marginal += kx

		weight := 1.0
		var exponent float64
		for i := 1; i < len(q); i++ {
			if k.discrete[i] {
				if q[i] != p[i] {
					weight = 0
					break
				}
				continue
			}
			zi := (q[i] - p[i]) / k.bandwidths[i]
			exponent += zi * zi
		}
		if weight == 0 {
			continue
		}
		weight = math.Exp(-0.5 * exponent)
		joint += weight * kx
		condSum += weight
	}
	if condSum > 0 {
		return joint / condSum, nil
	}
	return marginal / float64(len(k.points)), nil
}

// ModelCharacteristics implements DensityEstimator.
func (k *Kernel) ModelCharacteristics() map[string]any {
	k.refreshBandwidths()
	return map[string]any{
		"type":       "kernel",
		"kernels":    len(k.points),
		"seen":       k.seen,
		"bandwidths": append([]float64(nil), k.bandwidths...),
	}
}
