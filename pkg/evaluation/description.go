package evaluation

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/redstream/pkg/discretize"
	"github.com/orneryd/redstream/pkg/estimator"
	"github.com/orneryd/redstream/pkg/red"
	"github.com/orneryd/redstream/pkg/stream"
)

// Stream and estimator type names of job descriptions.
const (
	StreamARFF    = "arff"
	StreamMixture = "mixture"

	EstimatorRED   = "red"
	EstimatorChain = "chain"
)

// JobDescription describes one evaluation: a stream, an estimator, a
// measure and where to write the result.
type JobDescription struct {
	JobIndex   int                   `json:"jobIndex" yaml:"jobIndex"`
	OutputFile string                `json:"outputFile,omitempty" yaml:"outputFile,omitempty"`
	Stream     StreamDescription     `json:"stream" yaml:"stream"`
	Estimator  EstimatorDescription  `json:"estimator" yaml:"estimator"`
	Evaluation EvaluationDescription `json:"evaluation" yaml:"evaluation"`
}

// StreamDescription selects and configures a stream.
type StreamDescription struct {
	// Type is "arff" or "mixture".
	Type string `json:"type" yaml:"type"`

	// ARFF streams.
	Path       string `json:"path,omitempty" yaml:"path,omitempty"`
	ClassIndex int    `json:"classIndex" yaml:"classIndex"`
	Limit      int64  `json:"limit,omitempty" yaml:"limit,omitempty"`

	// Mixture streams.
	Components []stream.Component `json:"components,omitempty" yaml:"components,omitempty"`
	Count      int64              `json:"count,omitempty" yaml:"count,omitempty"`
	Seed       int64              `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// EstimatorDescription selects and configures the evaluated estimator. The
// RED parameters are inlined; the chain options also tune the estimators
// embedded in RED representatives.
type EstimatorDescription struct {
	// Type is "red" or "chain".
	Type string `json:"type" yaml:"type"`

	red.Config `yaml:",inline"`

	Orders         int    `json:"orders" yaml:"orders"`
	Bins           int    `json:"bins" yaml:"bins"`
	Discretization string `json:"discretization" yaml:"discretization"`
}

// EvaluationDescription selects the measure.
type EvaluationDescription struct {
	Measure string `json:"measure" yaml:"measure"`
}

// DefaultEstimatorDescription returns a RED description with default
// parameters.
func DefaultEstimatorDescription() EstimatorDescription {
	return EstimatorDescription{
		Type:           EstimatorRED,
		Config:         red.DefaultConfig(),
		Orders:         1,
		Bins:           10,
		Discretization: discretize.EqualFrequency.String(),
	}
}

// UnmarshalYAML fills the keys missing from the document with defaults.
func (d *EstimatorDescription) UnmarshalYAML(node *yaml.Node) error {
	type plain EstimatorDescription
	p := plain(DefaultEstimatorDescription())
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = EstimatorDescription(p)
	return nil
}

// UnmarshalJSON fills the keys missing from the document with defaults.
func (d *EstimatorDescription) UnmarshalJSON(b []byte) error {
	type plain EstimatorDescription
	p := plain(DefaultEstimatorDescription())
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = EstimatorDescription(p)
	return nil
}

// UnmarshalYAML defaults the class index to -1.
func (d *StreamDescription) UnmarshalYAML(node *yaml.Node) error {
	type plain StreamDescription
	p := plain{ClassIndex: -1}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = StreamDescription(p)
	return nil
}

// UnmarshalJSON defaults the class index to -1.
func (d *StreamDescription) UnmarshalJSON(b []byte) error {
	type plain StreamDescription
	p := plain{ClassIndex: -1}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = StreamDescription(p)
	return nil
}

// LoadJobs reads a list of job descriptions. Files ending in .json are
// decoded as JSON, everything else as YAML.
func LoadJobs(path string) ([]JobDescription, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	return ParseJobs(raw, strings.EqualFold(filepath.Ext(path), ".json"))
}

// ParseJobs decodes a list of job descriptions.
func ParseJobs(raw []byte, isJSON bool) ([]JobDescription, error) {
	var descs []JobDescription
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&descs); err != nil {
			return nil, fmt.Errorf("failed to parse job file: %w", err)
		}
	} else if err := yaml.Unmarshal(raw, &descs); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	for i := range descs {
		if err := descs[i].Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", descs[i].JobIndex, err)
		}
	}
	return descs, nil
}

// Validate checks the parts of a description that can be checked without
// opening the stream.
func (d *JobDescription) Validate() error {
	switch d.Stream.Type {
	case StreamARFF:
		if d.Stream.Path == "" {
			return fmt.Errorf("arff stream without path")
		}
	case StreamMixture:
	default:
		return fmt.Errorf("unknown stream type %q", d.Stream.Type)
	}
	switch d.Estimator.Type {
	case EstimatorRED:
		if err := d.Estimator.Config.Validate(); err != nil {
			return err
		}
	case EstimatorChain:
	default:
		return fmt.Errorf("unknown estimator type %q", d.Estimator.Type)
	}
	if _, err := discretize.ParseType(d.Estimator.Discretization); err != nil {
		return err
	}
	switch d.Evaluation.Measure {
	case MeasureLL, MeasurePrequentialLL:
	default:
		return fmt.Errorf("unknown measure %q", d.Evaluation.Measure)
	}
	return nil
}

// NewStream creates the described stream. It is not initialized.
func (d StreamDescription) NewStream() (stream.Stream, error) {
	switch d.Type {
	case StreamARFF:
		return stream.NewFileStream(d.Path, stream.WithClassIndex(d.ClassIndex), stream.WithLimit(d.Limit)), nil
	case StreamMixture:
		return stream.NewMixtureStream(stream.MixtureOptions{
			Components: d.Components,
			Count:      d.Count,
			Seed:       d.Seed,
		})
	}
	return nil, fmt.Errorf("evaluation: unknown stream type %q", d.Type)
}

// ChainOptions returns the chain options of the description.
func (d EstimatorDescription) ChainOptions() (estimator.ChainOptions, error) {
	typ, err := discretize.ParseType(d.Discretization)
	if err != nil {
		return estimator.ChainOptions{}, err
	}
	opts := estimator.DefaultChainOptions()
	opts.Orders = d.Orders
	opts.Seed = d.Seed
	opts.Kernel.MaxKernels = d.KernelLimit
	opts.Kernel.Seed = d.Seed
	opts.Frequency.Bins = d.Bins
	opts.Frequency.Discretization = typ
	return opts, nil
}

// NewEstimator creates the described estimator. It is not initialized.
func (d EstimatorDescription) NewEstimator(log *zap.SugaredLogger, withMetrics bool) (estimator.DensityEstimator, error) {
	opts, err := d.ChainOptions()
	if err != nil {
		return nil, err
	}
	switch d.Type {
	case EstimatorRED:
		redOpts := []red.Option{
			red.WithMetrics(withMetrics),
			red.WithRepresentativeFactory(func() estimator.DensityEstimator {
				return estimator.NewChain(opts)
			}),
		}
		if log != nil {
			redOpts = append(redOpts, red.WithLogger(log))
		}
		return red.New(d.Config, redOpts...)
	case EstimatorChain:
		return estimator.NewChain(opts), nil
	}
	return nil, fmt.Errorf("evaluation: unknown estimator type %q", d.Type)
}
