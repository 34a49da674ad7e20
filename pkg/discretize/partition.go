// Package discretize turns continuous values into bins while the stream is
// being read.
//
// Partition implements Partition Incremental Discretization (PiD): a fine
// first layer of many equal-width bins is maintained online, splitting
// crowded bins as values arrive, and a coarse second layer of k bins is
// recomputed from it every time the value buffer is flushed. The second
// layer can follow an equal-width or an equal-frequency strategy.
//
// Filter applies a Partition to one attribute of a stream of instances.
package discretize

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Type selects how the coarse layer is derived from the fine layer.
type Type uint8

const (
	// EqualWidth spreads the coarse borders evenly over the observed range.
	EqualWidth Type = iota
	// EqualFrequency places the coarse borders so every bin holds roughly
	// the same number of values.
	EqualFrequency
)

func (t Type) String() string {
	if t == EqualFrequency {
		return "equal-frequency"
	}
	return "equal-width"
}

// ParseType returns the partition type named s ("equal-width" or
// "equal-frequency").
func ParseType(s string) (Type, error) {
	switch s {
	case "equal-width":
		return EqualWidth, nil
	case "equal-frequency":
		return EqualFrequency, nil
	}
	return 0, fmt.Errorf("discretize: unknown partition type %q", s)
}

// ErrTooFewBins is returned for k <= 2.
var ErrTooFewBins = errors.New("discretize: number of bins must be larger than 2")

const (
	defaultRecomputeThreshold = 50
	defaultSplitThreshold     = 100
)

// Partition is an online discretization into k bins.
//
// Border layout of both layers: index 0 is -Inf, the last index is +Inf, and
// bin i covers [border[i], border[i+1]).
type Partition struct {
	k   int
	typ Type

	buffer    []float64
	recompute int
	split     int

	fineBorders []float64
	fineCounts  []int64

	borders []float64
	counts  []int64

	observations int64
}

// NewPartition creates a partition for values expected in [min, max].
func NewPartition(k int, typ Type, min, max float64) (*Partition, error) {
	if k <= 2 {
		return nil, ErrTooFewBins
	}
	if !(max > min) {
		max = min + 1
	}
	p := &Partition{
		k:         k,
		typ:       typ,
		recompute: defaultRecomputeThreshold,
		split:     defaultSplitThreshold,
	}

	p.borders = openBorders(k, min, max)
	p.counts = make([]int64, k)

	fine := k * k
	p.fineBorders = openBorders(fine, min, max)
	p.fineCounts = make([]int64, fine)
	return p, nil
}

// NewPartitionFromSample derives the initial range from a sample, widening
// it by 10% on both sides, and adds the sample.
func NewPartitionFromSample(k int, typ Type, sample []float64) (*Partition, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("discretize: empty sample")
	}
	lo, hi := sample[0], sample[0]
	for _, v := range sample[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	margin := 0.1 * (hi - lo)
	if margin == 0 {
		margin = 0.1
	}
	p, err := NewPartition(k, typ, lo-margin, hi+margin)
	if err != nil {
		return nil, err
	}
	for _, v := range sample {
		p.Add(v)
	}
	return p, nil
}

// openBorders returns n+1 borders: -Inf, n-1 inner borders starting at min
// and spaced (max-min)/n apart, +Inf.
func openBorders(n int, min, max float64) []float64 {
	b := make([]float64, n+1)
	b[0] = math.Inf(-1)
	b[n] = math.Inf(1)
	step := (max - min) / float64(n)
	for i := 1; i < n; i++ {
		b[i] = min + float64(i-1)*step
	}
	return b
}

// SetRecomputeThreshold sets how many values are buffered before the layers
// are updated.
func (p *Partition) SetRecomputeThreshold(n int) {
	if n > 0 {
		p.recompute = n
	}
}

// SetSplitThreshold sets the fine-bin count above which a fine bin is split.
func (p *Partition) SetSplitThreshold(n int) {
	if n > 0 {
		p.split = n
	}
}

// Add buffers a value; the layers are refreshed once the buffer is full.
func (p *Partition) Add(x float64) {
	if math.IsNaN(x) {
		return
	}
	p.buffer = append(p.buffer, x)
	if len(p.buffer) >= p.recompute {
		p.Flush()
	}
}

// Flush pushes all buffered values into the fine layer and recomputes the
// coarse layer.
func (p *Partition) Flush() {
	for _, x := range p.buffer {
		p.addFine(x)
	}
	p.buffer = p.buffer[:0]
	p.updateCoarse()
}

func (p *Partition) addFine(x float64) {
	last := len(p.fineBorders) - 2
	step := (p.fineBorders[last] - p.fineBorders[1]) / float64(len(p.fineCounts))
	if step <= 0 {
		step = 1e-9
	}
	if x < p.fineBorders[1] {
		p.fineBorders[1] = x - step
	} else if x > p.fineBorders[last] {
		p.fineBorders[last] = x + step
	}

	bin := sort.Search(len(p.fineBorders), func(i int) bool { return p.fineBorders[i] > x }) - 1
	if bin < 0 {
		bin = 0
	}
	if bin > len(p.fineCounts)-1 {
		bin = len(p.fineCounts) - 1
	}
	p.fineCounts[bin]++
	p.observations++

	if p.fineCounts[bin]+1 > int64(p.split) {
		p.splitFine(bin, step)
	}
}

// splitFine halves the count of a crowded fine bin and inserts a border.
func (p *Partition) splitFine(bin int, step float64) {
	var border float64
	switch bin {
	case 0:
		border = p.fineBorders[1] - step
	case len(p.fineCounts) - 1:
		border = p.fineBorders[bin] + step
	default:
		border = (p.fineBorders[bin] + p.fineBorders[bin+1]) / 2
	}

	moved := p.fineCounts[bin] / 2
	p.fineCounts[bin] -= moved

	// the new border splits bin into [b_bin, border) and [border, b_bin+1)
	borders := make([]float64, 0, len(p.fineBorders)+1)
	borders = append(borders, p.fineBorders[:bin+1]...)
	borders = append(borders, border)
	borders = append(borders, p.fineBorders[bin+1:]...)
	sort.Float64s(borders)

	counts := make([]int64, 0, len(p.fineCounts)+1)
	counts = append(counts, p.fineCounts[:bin+1]...)
	counts = append(counts, moved)
	counts = append(counts, p.fineCounts[bin+1:]...)

	p.fineBorders = borders
	p.fineCounts = counts
}

func (p *Partition) updateCoarse() {
	switch p.typ {
	case EqualFrequency:
		p.updateEqualFrequency()
	default:
		p.updateEqualWidth()
	}
}

func (p *Partition) updateEqualWidth() {
	lo := p.fineBorders[1]
	hi := p.fineBorders[len(p.fineBorders)-2]
	p.borders[0] = math.Inf(-1)
	p.borders[p.k] = math.Inf(1)
	step := (hi - lo) / float64(p.k-2)
	for i := 1; i < p.k; i++ {
		p.borders[i] = lo + float64(i-1)*step
	}
	p.recount()
}

func (p *Partition) updateEqualFrequency() {
	p.borders[0] = math.Inf(-1)
	p.borders[p.k] = math.Inf(1)
	perBin := float64(p.observations) / float64(p.k)
	upper := p.fineBorders[len(p.fineBorders)-2]

	bin := 1
	var cum int64
	for j := 0; j < len(p.fineCounts)-1 && bin < p.k; j++ {
		cum += p.fineCounts[j]
		if float64(cum) >= float64(bin)*perBin {
			p.borders[bin] = p.fineBorders[j+1]
			bin++
		}
	}
	for ; bin < p.k; bin++ {
		p.borders[bin] = upper
	}
	for i := 2; i < p.k; i++ {
		if p.borders[i] < p.borders[i-1] {
			p.borders[i] = p.borders[i-1]
		}
	}
	p.recount()
}

// recount assigns every fine bin to the coarse bin holding its midpoint.
func (p *Partition) recount() {
	for i := range p.counts {
		p.counts[i] = 0
	}
	last := len(p.fineCounts) - 1
	for j, n := range p.fineCounts {
		if n == 0 {
			continue
		}
		var mid float64
		switch j {
		case 0:
			mid = math.Inf(-1)
		case last:
			mid = math.Inf(1)
		default:
			mid = (p.fineBorders[j] + p.fineBorders[j+1]) / 2
		}
		p.counts[p.Apply(mid)] += n
	}
}

// Apply returns the coarse bin of x.
func (p *Partition) Apply(x float64) int {
	inner := p.borders[1:p.k]
	return sort.Search(len(inner), func(i int) bool { return inner[i] > x })
}

// Bins returns k.
func (p *Partition) Bins() int { return p.k }

// Type returns the coarse layer strategy.
func (p *Partition) Type() Type { return p.typ }

// Border returns coarse border i, 0 <= i <= k.
func (p *Partition) Border(i int) (float64, error) {
	if i < 0 || i > p.k {
		return 0, fmt.Errorf("discretize: border index %d out of range [0, %d]", i, p.k)
	}
	return p.borders[i], nil
}

// BinCount returns the number of flushed values in coarse bin i.
func (p *Partition) BinCount(i int) int64 { return p.counts[i] }

// Observations returns the number of flushed values.
func (p *Partition) Observations() int64 { return p.observations }

// Distribution returns the Laplace-corrected coarse bin frequencies.
func (p *Partition) Distribution() []float64 {
	dist := make([]float64, p.k)
	var total float64
	for i, n := range p.counts {
		dist[i] = float64(n) + 1
		total += dist[i]
	}
	for i := range dist {
		dist[i] /= total
	}
	return dist
}
