package data

// Kind tells discrete and continuous random variables apart.
type Kind uint8

const (
	// Continuous variables take real values.
	Continuous Kind = iota
	// Discrete variables take one of a finite number of categories.
	Discrete
)

func (k Kind) String() string {
	if k == Discrete {
		return "discrete"
	}
	return "continuous"
}

// RandomVariable names an attribute of a header together with its kind.
type RandomVariable struct {
	Name      string
	Kind      Kind
	Attribute Attribute
}

// IsDiscrete reports whether the variable is discrete.
func (rv RandomVariable) IsDiscrete() bool { return rv.Kind == Discrete }

// NumValues returns the number of categories of a discrete variable.
func (rv RandomVariable) NumValues() int { return rv.Attribute.NumValues() }

// VariableOf returns the random variable describing attribute a.
func VariableOf(a Attribute) RandomVariable {
	kind := Continuous
	if a.IsNominal() {
		kind = Discrete
	}
	return RandomVariable{Name: a.Name, Kind: kind, Attribute: a}
}

// RandomVariables returns one random variable per attribute of h, in order.
func RandomVariables(h *Header) []RandomVariable {
	vars := make([]RandomVariable, 0, h.NumAttributes())
	for _, a := range h.Attributes {
		vars = append(vars, VariableOf(a))
	}
	return vars
}
