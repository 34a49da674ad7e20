// Package data describes the shape of stream records for redstream.
//
// A Header lists the attributes of a relation. Attributes are either numeric
// (continuous) or nominal (a fixed, ordered list of categories). An Instance
// is a dense row of float64 values bound to a Header; nominal values are
// stored as the index of their category.
//
// RandomVariable is the view estimators use: it names one attribute of a
// header and tells whether it is discrete or continuous.
//
// Example:
//
//	h := data.NewHeader("weather", []data.Attribute{
//		data.Numeric("temperature"),
//		data.Nominal("outlook", "sunny", "overcast", "rainy"),
//	})
//	inst := data.NewInstance(h, []float64{21.5, 1})
//	fmt.Println(inst.Value(1)) // 1 (overcast)
package data

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Attribute describes one column of a relation.
type Attribute struct {
	Name string
	// Values holds the categories of a nominal attribute. Empty for numeric
	// attributes.
	Values []string
}

// Numeric returns a continuous attribute.
func Numeric(name string) Attribute {
	return Attribute{Name: name}
}

// Nominal returns a discrete attribute with the given categories.
func Nominal(name string, values ...string) Attribute {
	vals := make([]string, len(values))
	copy(vals, values)
	return Attribute{Name: name, Values: vals}
}

// IsNominal reports whether the attribute takes categorical values.
func (a Attribute) IsNominal() bool { return len(a.Values) > 0 }

// IsNumeric reports whether the attribute is continuous.
func (a Attribute) IsNumeric() bool { return len(a.Values) == 0 }

// NumValues returns the number of categories, 0 for numeric attributes.
func (a Attribute) NumValues() int { return len(a.Values) }

// IndexOf returns the category index of v or -1.
func (a Attribute) IndexOf(v string) int {
	for i, s := range a.Values {
		if s == v {
			return i
		}
	}
	return -1
}

// Header is the schema shared by all instances of a stream.
type Header struct {
	Relation   string
	Attributes []Attribute
	// ClassIndex is the index of the class attribute, -1 if there is none.
	ClassIndex int

	index map[string]int
}

// NewHeader creates a header without class attribute.
func NewHeader(relation string, attrs []Attribute) *Header {
	h := &Header{
		Relation:   relation,
		Attributes: make([]Attribute, len(attrs)),
		ClassIndex: -1,
		index:      make(map[string]int, len(attrs)),
	}
	copy(h.Attributes, attrs)
	for i, a := range h.Attributes {
		h.index[a.Name] = i
	}
	return h
}

// NumAttributes returns the number of attributes.
func (h *Header) NumAttributes() int { return len(h.Attributes) }

// Attribute returns the i-th attribute.
func (h *Header) Attribute(i int) Attribute { return h.Attributes[i] }

// IndexOf returns the position of the named attribute or -1.
func (h *Header) IndexOf(name string) int {
	if h.index == nil {
		h.index = make(map[string]int, len(h.Attributes))
		for i, a := range h.Attributes {
			h.index[a.Name] = i
		}
	}
	if i, ok := h.index[name]; ok {
		return i
	}
	return -1
}

// WithClassIndex returns a copy of h whose class attribute is idx.
func (h *Header) WithClassIndex(idx int) *Header {
	c := NewHeader(h.Relation, h.Attributes)
	c.ClassIndex = idx
	return c
}

// String renders the header in ARFF notation.
func (h *Header) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "@relation %s\n", Quote(h.Relation))
	for _, a := range h.Attributes {
		if a.IsNominal() {
			values := make([]string, len(a.Values))
			for i, v := range a.Values {
				values[i] = Quote(v)
			}
			fmt.Fprintf(&b, "@attribute %s {%s}\n", Quote(a.Name), strings.Join(values, ","))
		} else {
			fmt.Fprintf(&b, "@attribute %s numeric\n", Quote(a.Name))
		}
	}
	return b.String()
}

// Quote renders a nominal value for ARFF. Values that contain separators,
// quotes or blanks, and the missing marker itself, are single-quoted with
// backslash escapes.
func Quote(v string) string {
	if v != "" && v != "?" && !strings.ContainsAny(v, ",'\"{}% \t\\") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Instance is a dense record bound to a header.
type Instance struct {
	header *Header
	values []float64
	weight float64
}

// NewInstance binds a copy of values to h with weight 1.
func NewInstance(h *Header, values []float64) *Instance {
	v := make([]float64, len(values))
	copy(v, values)
	return &Instance{header: h, values: v, weight: 1}
}

// Header returns the schema of the instance.
func (in *Instance) Header() *Header { return in.header }

// Value returns the value of attribute i.
func (in *Instance) Value(i int) float64 { return in.values[i] }

// SetValue overwrites the value of attribute i.
func (in *Instance) SetValue(i int, v float64) { in.values[i] = v }

// Values returns a copy of all values.
func (in *Instance) Values() []float64 {
	v := make([]float64, len(in.values))
	copy(v, in.values)
	return v
}

// NumAttributes returns the number of values.
func (in *Instance) NumAttributes() int { return len(in.values) }

// Weight returns the instance weight.
func (in *Instance) Weight() float64 { return in.weight }

// Copy returns a deep copy bound to the same header.
func (in *Instance) Copy() *Instance {
	c := NewInstance(in.header, in.values)
	c.weight = in.weight
	return c
}

// String renders the instance as an ARFF data line. Missing values are
// written as "?".
func (in *Instance) String() string {
	parts := make([]string, len(in.values))
	for i, v := range in.values {
		if math.IsNaN(v) {
			parts[i] = "?"
			continue
		}
		if in.header != nil && i < in.header.NumAttributes() && in.header.Attributes[i].IsNominal() {
			idx := int(v)
			if idx >= 0 && idx < in.header.Attributes[i].NumValues() {
				parts[i] = Quote(in.header.Attributes[i].Values[idx])
				continue
			}
		}
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
