package stream

import (
	"fmt"
	"math/rand"

	"github.com/orneryd/redstream/pkg/data"
)

// Component is one Gaussian of a MixtureStream.
type Component struct {
	Mean   []float64 `json:"mean" yaml:"mean"`
	StdDev float64   `json:"stdDev" yaml:"stdDev"`
	Weight float64   `json:"weight" yaml:"weight"`
}

// MixtureOptions configures a MixtureStream.
type MixtureOptions struct {
	Components []Component
	Count      int64
	Seed       int64
	// Label appends a nominal "component" attribute with the index of the
	// generating component.
	Label bool
	// Relation names the generated relation. Defaults to "mixture".
	Relation string
}

// MixtureStream generates instances from a mixture of isotropic Gaussians.
// The sequence is fully determined by the seed, so Restart replays it.
type MixtureStream struct {
	opts    MixtureOptions
	header  *data.Header
	rng     *rand.Rand
	cum     []float64
	emitted int64
}

// NewMixtureStream validates opts and creates the stream.
func NewMixtureStream(opts MixtureOptions) (*MixtureStream, error) {
	if len(opts.Components) == 0 {
		return nil, fmt.Errorf("mixture stream: no components")
	}
	dims := len(opts.Components[0].Mean)
	if dims == 0 {
		return nil, fmt.Errorf("mixture stream: components need at least one dimension")
	}
	var total float64
	cum := make([]float64, len(opts.Components))
	for i, c := range opts.Components {
		if len(c.Mean) != dims {
			return nil, fmt.Errorf("mixture stream: component %d has %d dimensions, want %d", i, len(c.Mean), dims)
		}
		if c.StdDev < 0 || c.Weight < 0 {
			return nil, fmt.Errorf("mixture stream: component %d has a negative parameter", i)
		}
		total += c.Weight
		cum[i] = total
	}
	if total == 0 {
		return nil, fmt.Errorf("mixture stream: weights sum to zero")
	}
	for i := range cum {
		cum[i] /= total
	}
	if opts.Relation == "" {
		opts.Relation = "mixture"
	}

	attrs := make([]data.Attribute, 0, dims+1)
	for j := 0; j < dims; j++ {
		attrs = append(attrs, data.Numeric(fmt.Sprintf("x%d", j)))
	}
	if opts.Label {
		labels := make([]string, len(opts.Components))
		for i := range labels {
			labels[i] = fmt.Sprintf("c%d", i)
		}
		attrs = append(attrs, data.Nominal("component", labels...))
	}
	return &MixtureStream{opts: opts, header: data.NewHeader(opts.Relation, attrs), cum: cum}, nil
}

func (m *MixtureStream) Init() error {
	m.rng = rand.New(rand.NewSource(m.opts.Seed))
	m.emitted = 0
	return nil
}

func (m *MixtureStream) HasMoreInstances() bool {
	return m.rng != nil && m.emitted < m.opts.Count
}

func (m *MixtureStream) NextInstance() (*data.Instance, error) {
	if m.rng == nil {
		return nil, ErrNotInitialized
	}
	if m.emitted >= m.opts.Count {
		return nil, ErrExhausted
	}
	u := m.rng.Float64()
	k := len(m.cum) - 1
	for i, c := range m.cum {
		if u < c {
			k = i
			break
		}
	}
	comp := m.opts.Components[k]
	values := make([]float64, m.header.NumAttributes())
	for j, mu := range comp.Mean {
		values[j] = mu + m.rng.NormFloat64()*comp.StdDev
	}
	if m.opts.Label {
		values[len(values)-1] = float64(k)
	}
	m.emitted++
	return data.NewInstance(m.header, values), nil
}

func (m *MixtureStream) Header() *data.Header { return m.header }

func (m *MixtureStream) RandomVariables() []data.RandomVariable {
	return data.RandomVariables(m.header)
}

func (m *MixtureStream) NumberOfInstances() int64 { return m.opts.Count }

func (m *MixtureStream) Restart() error { return m.Init() }
