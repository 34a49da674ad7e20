package red

import (
	"math"

	"github.com/orneryd/redstream/pkg/data"
	"github.com/orneryd/redstream/pkg/math/vector"
)

// Projection maps instances to their distance vectors with respect to a
// fixed landmark set.
//
// Values are normalized before comparison: numeric attributes by the range
// observed during warm-up, nominal attributes by their number of
// categories. Attributes with zero range contribute nothing, as do missing
// values.
type Projection struct {
	header    *data.Header
	norm      float64
	min       []float64
	scale     []float64
	landmarks []*data.Instance
	// normalized landmark coordinates, one row per landmark
	anchors [][]float64
}

// NewProjection builds numLandmarks+1 landmarks from the warm-up sample.
//
// Landmark i places attribute i at its observed maximum (the last category
// for nominal attributes), every earlier attribute j at the baseline
// 0.1·(i−j+1) of its range ((i−j+1) mod k for nominal attributes) and every
// later attribute at its minimum. The final landmark sits at the minimum of
// every attribute.
func NewProjection(header *data.Header, sample []*data.Instance, numLandmarks int, norm float64) *Projection {
	n := header.NumAttributes()
	p := &Projection{
		header: header,
		norm:   norm,
		min:    make([]float64, n),
		scale:  make([]float64, n),
	}
	for j := 0; j < n; j++ {
		a := header.Attribute(j)
		if a.IsNominal() {
			p.scale[j] = 1 / float64(a.NumValues())
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, inst := range sample {
			v := inst.Value(j)
			if math.IsNaN(v) {
				continue
			}
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		if math.IsInf(lo, 1) {
			lo, hi = 0, 0
		}
		p.min[j] = lo
		if hi > lo {
			p.scale[j] = 1 / (hi - lo)
		}
	}

	for i := 0; i <= numLandmarks; i++ {
		values := make([]float64, n)
		for j := 0; j < n; j++ {
			a := header.Attribute(j)
			var level float64
			switch {
			case i == numLandmarks || j > i:
				level = 0
			case j == i:
				level = 1
			default:
				level = 0.1 * float64(i-j+1)
			}
			if a.IsNominal() {
				k := a.NumValues()
				switch {
				case i == numLandmarks || j > i:
					values[j] = 0
				case j == i:
					values[j] = float64(k - 1)
				default:
					values[j] = float64((i - j + 1) % k)
				}
				continue
			}
			values[j] = p.min[j]
			if p.scale[j] > 0 {
				values[j] += level / p.scale[j]
			}
		}
		inst := data.NewInstance(header, values)
		p.landmarks = append(p.landmarks, inst)
		p.anchors = append(p.anchors, p.normalize(inst))
	}
	return p
}

func (p *Projection) normalize(inst *data.Instance) []float64 {
	out := make([]float64, p.header.NumAttributes())
	for j := range out {
		v := inst.Value(j)
		if math.IsNaN(v) {
			continue
		}
		if p.header.Attribute(j).IsNominal() {
			out[j] = v * p.scale[j]
			continue
		}
		out[j] = (v - p.min[j]) * p.scale[j]
	}
	return out
}

// Project returns the distance vector of inst: its p-norm distance to every
// landmark in normalized coordinates.
func (p *Projection) Project(inst *data.Instance) []float64 {
	x := p.normalize(inst)
	var missing []int
	for j := range x {
		if math.IsNaN(inst.Value(j)) {
			missing = append(missing, j)
		}
	}
	out := make([]float64, len(p.anchors))
	for i, anchor := range p.anchors {
		// missing values take the landmark value so they contribute nothing
		for _, j := range missing {
			x[j] = anchor[j]
		}
		out[i] = vector.Minkowski(x, anchor, p.norm)
	}
	return out
}

// Landmarks returns the landmark instances in raw attribute space.
func (p *Projection) Landmarks() []*data.Instance {
	out := make([]*data.Instance, len(p.landmarks))
	for i, l := range p.landmarks {
		out[i] = l.Copy()
	}
	return out
}

// Dim returns the length of the distance vectors.
func (p *Projection) Dim() int { return len(p.anchors) }

// Range returns the warm-up minimum and maximum of numeric attribute j.
func (p *Projection) Range(j int) (lo, hi float64) {
	if p.scale[j] == 0 {
		return p.min[j], p.min[j]
	}
	return p.min[j], p.min[j] + 1/p.scale[j]
}
