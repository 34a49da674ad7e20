package estimator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orneryd/redstream/pkg/data"
	"github.com/orneryd/redstream/pkg/discretize"
)

// FrequencyOptions configures a Frequency estimator.
type FrequencyOptions struct {
	// Bins is the number of bins used for continuous conditioned variables.
	Bins int
	// Discretization selects the partition type of those bins.
	Discretization discretize.Type
}

// DefaultFrequencyOptions returns the options used when none are given.
func DefaultFrequencyOptions() FrequencyOptions {
	return FrequencyOptions{Bins: 10, Discretization: discretize.EqualFrequency}
}

// Frequency estimates P(X | Y) for a single discrete X from Laplace-corrected
// counts. Continuous conditioned variables are discretized online, so the
// conditioning context is the tuple of bins and categories of Y. Contexts
// that were never seen fall back to the marginal distribution of X.
type Frequency struct {
	opts FrequencyOptions

	header   *data.Header
	target   []data.RandomVariable
	cond     []data.RandomVariable
	targetAt int
	condAt   []int
	filters  []*discretize.Filter

	counts   map[string][]float64
	totals   map[string]float64
	marginal []float64
	total    float64
}

// NewFrequency creates a frequency estimator.
func NewFrequency(opts FrequencyOptions) *Frequency {
	if opts.Bins <= 2 {
		opts.Bins = DefaultFrequencyOptions().Bins
	}
	return &Frequency{opts: opts}
}

// SupportedTypes implements DensityEstimator.
func (f *Frequency) SupportedTypes() []Type { return []Type{DiscreteTarget} }

// Init implements DensityEstimator.
func (f *Frequency) Init(h *data.Header, targetVars, condVars []data.RandomVariable) error {
	if err := CheckConfiguration(h, targetVars, condVars, f.SupportedTypes()); err != nil {
		return fmt.Errorf("frequency estimator: %w", err)
	}
	f.header = h
	f.target = append([]data.RandomVariable(nil), targetVars...)
	f.cond = append([]data.RandomVariable(nil), condVars...)
	f.targetAt = h.IndexOf(targetVars[0].Name)
	f.condAt = indexes(h, condVars)
	f.filters = make([]*discretize.Filter, len(condVars))
	for i, at := range f.condAt {
		if h.Attribute(at).IsNominal() {
			continue
		}
		filter, err := discretize.NewFilter(h, at, f.opts.Bins, f.opts.Discretization)
		if err != nil {
			return fmt.Errorf("frequency estimator: %w", err)
		}
		f.filters[i] = filter
	}
	f.counts = make(map[string][]float64)
	f.totals = make(map[string]float64)
	f.marginal = make([]float64, targetVars[0].NumValues())
	f.total = 0
	return nil
}

// TargetVariables implements DensityEstimator.
func (f *Frequency) TargetVariables() []data.RandomVariable { return f.target }

// ConditionedVariables implements DensityEstimator.
func (f *Frequency) ConditionedVariables() []data.RandomVariable { return f.cond }

func (f *Frequency) context(inst *data.Instance) string {
	var sb strings.Builder
	for i, at := range f.condAt {
		if i > 0 {
			sb.WriteByte(',')
		}
		v := inst.Value(at)
		if f.filters[i] != nil {
			sb.WriteString(strconv.Itoa(f.filters[i].Bin(v)))
		} else {
			sb.WriteString(strconv.Itoa(int(v)))
		}
	}
	return sb.String()
}

func (f *Frequency) category(inst *data.Instance) (int, error) {
	v := inst.Value(f.targetAt)
	c := int(v)
	if float64(c) != v || c < 0 || c >= len(f.marginal) {
		return 0, fmt.Errorf("frequency estimator: %v is not a category of %q", v, f.target[0].Name)
	}
	return c, nil
}

// Update implements DensityEstimator.
func (f *Frequency) Update(inst *data.Instance) error {
	if f.header == nil {
		return fmt.Errorf("frequency estimator: update before init")
	}
	c, err := f.category(inst)
	if err != nil {
		return err
	}
	key := f.context(inst)
	counts, ok := f.counts[key]
	if !ok {
		counts = make([]float64, len(f.marginal))
		f.counts[key] = counts
	}
	w := inst.Weight()
	counts[c] += w
	f.totals[key] += w
	f.marginal[c] += w
	f.total += w
	for i, filter := range f.filters {
		if filter != nil {
			filter.ObserveValue(inst.Value(f.condAt[i]))
		}
	}
	return nil
}

// DensityValue implements DensityEstimator.
func (f *Frequency) DensityValue(inst *data.Instance) (float64, error) {
	if f.header == nil {
		return 0, fmt.Errorf("frequency estimator: query before init")
	}
	c, err := f.category(inst)
	if err != nil {
		return 0, err
	}
	k := float64(len(f.marginal))
	key := f.context(inst)
	if counts, ok := f.counts[key]; ok {
		return (counts[c] + 1) / (f.totals[key] + k), nil
	}
	return (f.marginal[c] + 1) / (f.total + k), nil
}

// ModelCharacteristics implements DensityEstimator.
func (f *Frequency) ModelCharacteristics() map[string]any {
	return map[string]any{
		"type":     "frequency",
		"contexts": len(f.counts),
		"weight":   f.total,
	}
}
