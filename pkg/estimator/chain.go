package estimator

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/orneryd/redstream/pkg/data"
)

// ChainOptions configures a Chain estimator.
type ChainOptions struct {
	// Orders is the number of target orderings averaged. The first
	// ordering is always the order in which the targets were given; the
	// rest are random permutations drawn from Seed.
	Orders int
	Seed   int64

	Kernel    KernelOptions
	Frequency FrequencyOptions
}

// DefaultChainOptions returns the options used when none are given.
func DefaultChainOptions() ChainOptions {
	return ChainOptions{
		Orders:    1,
		Seed:      1,
		Kernel:    DefaultKernelOptions(),
		Frequency: DefaultFrequencyOptions(),
	}
}

// Chain estimates the joint f(X1..Xk | Y) with the chain rule
//
//	f(X1..Xk | Y) = f(X1 | Y) · f(X2 | Y, X1) · ... · f(Xk | Y, X1..Xk-1)
//
// where every factor is a Kernel (continuous Xi) or Frequency (discrete Xi)
// estimator. With Orders > 1 the result is the average over several target
// orderings.
type Chain struct {
	opts ChainOptions

	header *data.Header
	target []data.RandomVariable
	cond   []data.RandomVariable
	chains [][]DensityEstimator
	orders [][]int
}

// NewChain creates a chain-rule estimator.
func NewChain(opts ChainOptions) *Chain {
	if opts.Orders <= 0 {
		opts.Orders = 1
	}
	return &Chain{opts: opts}
}

// SupportedTypes implements DensityEstimator.
func (c *Chain) SupportedTypes() []Type {
	return []Type{Joint, DiscreteTarget, ContinuousTarget}
}

func (c *Chain) link(rv data.RandomVariable, seed int64) DensityEstimator {
	if rv.IsDiscrete() {
		return NewFrequency(c.opts.Frequency)
	}
	opts := c.opts.Kernel
	opts.Seed = seed
	return NewKernel(opts)
}

// Init implements DensityEstimator.
func (c *Chain) Init(h *data.Header, targetVars, condVars []data.RandomVariable) error {
	if err := CheckConfiguration(h, targetVars, condVars, c.SupportedTypes()); err != nil {
		return fmt.Errorf("chain estimator: %w", err)
	}
	c.header = h
	c.target = append([]data.RandomVariable(nil), targetVars...)
	c.cond = append([]data.RandomVariable(nil), condVars...)

	rng := rand.New(rand.NewSource(c.opts.Seed))
	c.orders = make([][]int, c.opts.Orders)
	c.chains = make([][]DensityEstimator, c.opts.Orders)
	for o := range c.orders {
		order := make([]int, len(targetVars))
		for i := range order {
			order[i] = i
		}
		if o > 0 {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		c.orders[o] = order

		given := append([]data.RandomVariable(nil), condVars...)
		links := make([]DensityEstimator, len(order))
		for i, t := range order {
			rv := targetVars[t]
			links[i] = c.link(rv, c.opts.Seed+int64(o*len(order)+i))
			if err := links[i].Init(h, []data.RandomVariable{rv}, given); err != nil {
				return fmt.Errorf("chain estimator: link %q: %w", rv.Name, err)
			}
			given = append(given, rv)
		}
		c.chains[o] = links
	}
	return nil
}

// TargetVariables implements DensityEstimator.
func (c *Chain) TargetVariables() []data.RandomVariable { return c.target }

// ConditionedVariables implements DensityEstimator.
func (c *Chain) ConditionedVariables() []data.RandomVariable { return c.cond }

// Update implements DensityEstimator.
func (c *Chain) Update(inst *data.Instance) error {
	if c.header == nil {
		return fmt.Errorf("chain estimator: update before init")
	}
	for _, links := range c.chains {
		for _, l := range links {
			if err := l.Update(inst); err != nil {
				return err
			}
		}
	}
	return nil
}

// DensityValue implements DensityEstimator.
func (c *Chain) DensityValue(inst *data.Instance) (float64, error) {
	if c.header == nil {
		return 0, fmt.Errorf("chain estimator: query before init")
	}
	var sum float64
	for _, links := range c.chains {
		p := 1.0
		for _, l := range links {
			v, err := l.DensityValue(inst)
			if err != nil {
				return 0, err
			}
			p *= v
			if p == 0 {
				break
			}
		}
		sum += p
	}
	d := sum / float64(len(c.chains))
	if math.IsNaN(d) {
		return 0, nil
	}
	return d, nil
}

// ModelCharacteristics implements DensityEstimator.
func (c *Chain) ModelCharacteristics() map[string]any {
	links := make([]map[string]any, 0, len(c.target))
	if len(c.chains) > 0 {
		for _, l := range c.chains[0] {
			links = append(links, l.ModelCharacteristics())
		}
	}
	return map[string]any{
		"type":   "chain",
		"orders": len(c.chains),
		"links":  links,
	}
}
