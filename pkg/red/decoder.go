package red

import (
	"fmt"
	"math"

	"github.com/orneryd/redstream/pkg/data"
	"github.com/orneryd/redstream/pkg/estimator"
)

// DefaultDecoderBins is the number of bins the numeric expectation is
// integrated over.
const DefaultDecoderBins = 100

func coordinateAttributes(dim int) []data.Attribute {
	attrs := make([]data.Attribute, dim)
	for i := range attrs {
		attrs[i] = data.Numeric(fmt.Sprintf("distance%d", i))
	}
	return attrs
}

// distanceHeader is the schema of distance vectors.
func distanceHeader(dim int) *data.Header {
	return data.NewHeader("distances", coordinateAttributes(dim))
}

// Decoder models one source attribute given the distance vector. It is used
// to correct densities for attributes the landmarks do not span.
type Decoder struct {
	target int
	header *data.Header
	est    estimator.DensityEstimator
	lo, hi float64
	bins   int
}

// NewDecoder creates a decoder for attribute target of source over
// dim-dimensional distance vectors. lo and hi bound the integration range
// of numeric targets. est is initialized here with the target conditioned
// on every distance coordinate.
func NewDecoder(source *data.Header, target, dim int, lo, hi float64, bins int,
	est estimator.DensityEstimator) (*Decoder, error) {
	attr := source.Attribute(target)
	attrs := coordinateAttributes(dim)
	for _, a := range attrs {
		if a.Name == attr.Name {
			return nil, fmt.Errorf("decoder: attribute name %q collides with a distance coordinate", attr.Name)
		}
	}
	header := data.NewHeader(fmt.Sprintf("decoder-%s", attr.Name), append(attrs, attr))
	vars := data.RandomVariables(header)
	if err := est.Init(header, vars[dim:], vars[:dim]); err != nil {
		return nil, fmt.Errorf("decoder for %q: %w", attr.Name, err)
	}
	if bins <= 0 {
		bins = DefaultDecoderBins
	}
	return &Decoder{target: target, header: header, est: est, lo: lo, hi: hi, bins: bins}, nil
}

func (d *Decoder) instance(dist []float64, v float64) *data.Instance {
	values := make([]float64, len(dist)+1)
	copy(values, dist)
	values[len(dist)] = v
	return data.NewInstance(d.header, values)
}

// Update trains the decoder with the value inst holds for the target.
// Missing values are skipped.
func (d *Decoder) Update(dist []float64, inst *data.Instance) error {
	v := inst.Value(d.target)
	if math.IsNaN(v) {
		return nil
	}
	return d.est.Update(d.instance(dist, v))
}

// Expectation returns the decoder's contribution to the correction factor:
// 1/k for nominal targets, and for numeric targets the conditional density
// integrated over the observed range with a midpoint rule. A numeric
// attribute without range contributes 1.
func (d *Decoder) Expectation(dist []float64) (float64, error) {
	attr := d.header.Attribute(len(dist))
	if attr.IsNominal() {
		return 1 / float64(attr.NumValues()), nil
	}
	if d.hi <= d.lo {
		return 1, nil
	}
	width := (d.hi - d.lo) / float64(d.bins)
	var sum float64
	for b := 0; b < d.bins; b++ {
		f, err := d.est.DensityValue(d.instance(dist, d.lo+(float64(b)+0.5)*width))
		if err != nil {
			return 0, fmt.Errorf("decoder for %q: %w", attr.Name, err)
		}
		sum += f * width
	}
	return sum, nil
}

// TargetIndex returns the source attribute the decoder models.
func (d *Decoder) TargetIndex() int { return d.target }

// Header returns the schema of decoder instances.
func (d *Decoder) Header() *data.Header { return d.header }

// Estimator returns the embedded estimator.
func (d *Decoder) Estimator() estimator.DensityEstimator { return d.est }
