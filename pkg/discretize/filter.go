package discretize

import (
	"fmt"

	"github.com/orneryd/redstream/pkg/data"
)

// initialSampleSize is the number of values collected before the partition
// range is fixed.
const initialSampleSize = 50

// Filter discretizes one continuous attribute of a stream of instances.
//
// Until enough values have been observed the filter keeps a raw sample; the
// partition is built from that sample and updated online afterwards.
type Filter struct {
	source *data.Header
	target *data.Header
	attr   int
	bins   int
	typ    Type

	sample    []float64
	partition *Partition
}

// NewFilter creates a filter for attribute attr of header h. The target
// header replaces the attribute with a nominal one named bin0..bin{k-1}.
func NewFilter(h *data.Header, attr, bins int, typ Type) (*Filter, error) {
	if attr < 0 || attr >= h.NumAttributes() {
		return nil, fmt.Errorf("discretize: attribute %d out of range", attr)
	}
	if bins <= 2 {
		return nil, ErrTooFewBins
	}
	attrs := make([]data.Attribute, h.NumAttributes())
	copy(attrs, h.Attributes)
	values := make([]string, bins)
	for i := range values {
		values[i] = fmt.Sprintf("bin%d", i)
	}
	attrs[attr] = data.Nominal(h.Attributes[attr].Name, values...)
	target := data.NewHeader(h.Relation, attrs)
	target.ClassIndex = h.ClassIndex

	return &Filter{source: h, target: target, attr: attr, bins: bins, typ: typ}, nil
}

// SourceHeader returns the header of incoming instances.
func (f *Filter) SourceHeader() *data.Header { return f.source }

// TargetHeader returns the header of discretized instances.
func (f *Filter) TargetHeader() *data.Header { return f.target }

// Variable returns the discretized random variable.
func (f *Filter) Variable() data.RandomVariable {
	return data.VariableOf(f.target.Attribute(f.attr))
}

// Observe feeds the filtered attribute of inst into the discretization.
func (f *Filter) Observe(inst *data.Instance) {
	f.ObserveValue(inst.Value(f.attr))
}

// ObserveValue feeds a raw value into the discretization.
func (f *Filter) ObserveValue(v float64) {
	if f.partition != nil {
		f.partition.Add(v)
		return
	}
	f.sample = append(f.sample, v)
	if len(f.sample) >= initialSampleSize {
		// cannot fail: bins > 2 and the sample is not empty
		f.partition, _ = NewPartitionFromSample(f.bins, f.typ, f.sample)
		f.partition.Flush()
		f.sample = nil
	}
}

// Bin returns the bin of a raw value. Before the partition exists, values
// are binned against a provisional partition built from the sample.
func (f *Filter) Bin(v float64) int {
	if f.partition != nil {
		return f.partition.Apply(v)
	}
	if len(f.sample) == 0 {
		return 0
	}
	p, err := NewPartitionFromSample(f.bins, f.typ, f.sample)
	if err != nil {
		return 0
	}
	p.Flush()
	return p.Apply(v)
}

// Apply returns a copy of inst bound to the target header with the filtered
// attribute replaced by its bin index.
func (f *Filter) Apply(inst *data.Instance) *data.Instance {
	values := inst.Values()
	values[f.attr] = float64(f.Bin(values[f.attr]))
	return data.NewInstance(f.target, values)
}

// Ready reports whether the partition has been built.
func (f *Filter) Ready() bool { return f.partition != nil }
