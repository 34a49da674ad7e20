// Package estimator defines the conditional density estimator contract used
// throughout redstream and ships the estimators RED embeds.
//
// A DensityEstimator models f(X1, ..., Xk | Y1, ..., Yl). The target
// variables X and the conditioned variables Y are chosen when the estimator
// is initialized; afterwards it is trained one instance at a time with
// Update and queried with DensityValue.
//
// Implementations in this package:
//   - Kernel: f(X | Y) for one continuous X, Gaussian product kernels over a
//     bounded reservoir of observations
//   - Frequency: f(X | Y) for one discrete X, Laplace-corrected counts keyed
//     by the (discretized) values of Y
//   - Chain: f(X1..Xk | Y) through the chain rule, one Kernel or Frequency
//     link per target, optionally averaged over several random orders
//
// Init rejects variable partitions an estimator cannot model with an error
// wrapping ErrUnsupportedConfiguration.
package estimator

import (
	"errors"
	"fmt"

	"github.com/orneryd/redstream/pkg/data"
)

// ErrUnsupportedConfiguration is returned by Init when the variable
// partition does not match the capabilities of an estimator.
var ErrUnsupportedConfiguration = errors.New("unsupported configuration")

// Type classifies the densities an estimator can model.
type Type uint8

const (
	// DiscreteTarget is f(X | Y1..Yl) with a single discrete X.
	DiscreteTarget Type = iota
	// ContinuousTarget is f(X | Y1..Yl) with a single continuous X.
	ContinuousTarget
	// Joint is f(X1..Xk | Y1..Yl) with targets of any kind.
	Joint
)

func (t Type) String() string {
	switch t {
	case DiscreteTarget:
		return "discrete-target"
	case ContinuousTarget:
		return "continuous-target"
	default:
		return "joint"
	}
}

// Matches reports whether the target variables fit the type.
func (t Type) Matches(targetVars []data.RandomVariable) bool {
	switch t {
	case DiscreteTarget:
		return len(targetVars) == 1 && targetVars[0].IsDiscrete()
	case ContinuousTarget:
		return len(targetVars) == 1 && !targetVars[0].IsDiscrete()
	default:
		return len(targetVars) > 0
	}
}

// DensityEstimator is a conditional density estimator.
type DensityEstimator interface {
	// Init (re)initializes the estimator for f(target | cond) over header.
	// Calling Init again discards everything learned so far.
	Init(header *data.Header, targetVars, condVars []data.RandomVariable) error

	// SupportedTypes lists the density types the estimator can model.
	SupportedTypes() []Type

	TargetVariables() []data.RandomVariable
	ConditionedVariables() []data.RandomVariable

	// Update trains the estimator with one instance.
	Update(inst *data.Instance) error

	// DensityValue returns f(x | y) for the values of inst.
	DensityValue(inst *data.Instance) (float64, error)

	// ModelCharacteristics describes the learned model for diagnostics.
	ModelCharacteristics() map[string]any
}

// Factory creates fresh, uninitialized estimators.
type Factory func() DensityEstimator

// CheckRequirements validates a variable partition against a header:
// every variable must name an attribute of the header, no variable may
// occur twice, and targets and conditioned variables must be disjoint.
func CheckRequirements(h *data.Header, targetVars, condVars []data.RandomVariable) error {
	if h == nil {
		return fmt.Errorf("%w: missing header", ErrUnsupportedConfiguration)
	}
	if len(targetVars) == 0 {
		return fmt.Errorf("%w: at least one target variable is required", ErrUnsupportedConfiguration)
	}
	seen := make(map[string]bool, len(targetVars)+len(condVars))
	check := func(role string, vars []data.RandomVariable) error {
		for _, rv := range vars {
			if h.IndexOf(rv.Name) < 0 {
				return fmt.Errorf("%w: %s variable %q is not part of relation %q",
					ErrUnsupportedConfiguration, role, rv.Name, h.Relation)
			}
			if seen[rv.Name] {
				return fmt.Errorf("%w: variable %q occurs more than once", ErrUnsupportedConfiguration, rv.Name)
			}
			seen[rv.Name] = true
		}
		return nil
	}
	if err := check("target", targetVars); err != nil {
		return err
	}
	return check("conditioned", condVars)
}

// CheckConfiguration runs CheckRequirements and verifies that one of the
// supported types matches the targets.
func CheckConfiguration(h *data.Header, targetVars, condVars []data.RandomVariable, supported []Type) error {
	if err := CheckRequirements(h, targetVars, condVars); err != nil {
		return err
	}
	for _, t := range supported {
		if t.Matches(targetVars) {
			return nil
		}
	}
	return fmt.Errorf("%w: targets do not match any of %v", ErrUnsupportedConfiguration, supported)
}

// indexes resolves variables to attribute positions of h.
func indexes(h *data.Header, vars []data.RandomVariable) []int {
	idx := make([]int, len(vars))
	for i, rv := range vars {
		idx[i] = h.IndexOf(rv.Name)
	}
	return idx
}
