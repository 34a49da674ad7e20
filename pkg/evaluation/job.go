package evaluation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/orneryd/redstream/pkg/metrics"
)

// Result is the outcome of one job.
type Result struct {
	RunID            string         `json:"runId,omitempty"`
	Measure          float64        `json:"measure"`
	ElapsedTime      float64        `json:"elapsedTime"`
	ZeroDensities    int64          `json:"zeroDensities"`
	ModelDescription map[string]any `json:"modelDescription"`
	Measurements     []Measurement  `json:"measurements,omitempty"`
}

// Output is the JSON document written for a finished job.
type Output struct {
	JobDescription JobDescription `json:"jobDescription"`
	Result         *Result        `json:"result"`
}

// Job evaluates one estimator on one stream.
type Job struct {
	desc    JobDescription
	log     *zap.SugaredLogger
	metrics bool
	result  *Result
}

// NewJob creates a job for desc.
func NewJob(desc JobDescription, log *zap.SugaredLogger, withMetrics bool) *Job {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Job{
		desc:    desc,
		log:     log.With("job", desc.JobIndex),
		metrics: withMetrics,
	}
}

// Description returns the job description.
func (j *Job) Description() JobDescription { return j.desc }

// Result returns the result of the last run, nil before.
func (j *Job) Result() *Result { return j.result }

// Run initializes the stream and the estimator, targets every attribute of
// the stream and evaluates the estimator with the described measure.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	s, err := j.desc.Stream.NewStream()
	if err != nil {
		return nil, err
	}
	if c, ok := s.(interface{ Close() error }); ok {
		defer c.Close()
	}
	if err := s.Init(); err != nil {
		return nil, fmt.Errorf("could not read stream: %w", err)
	}

	label := "job-" + strconv.Itoa(j.desc.JobIndex)
	estDesc := j.desc.Estimator
	if estDesc.Name == "" {
		estDesc.Name = label
	}
	est, err := estDesc.NewEstimator(j.log, j.metrics)
	if err != nil {
		return nil, err
	}
	if err := est.Init(s.Header(), s.RandomVariables(), nil); err != nil {
		return nil, err
	}

	m, err := NewMeasure(j.desc.Evaluation.Measure, j.log)
	if err != nil {
		return nil, err
	}

	j.log.Infow("Evaluating", "measure", m.Name(), "estimator", estDesc.Type, "instances", s.NumberOfInstances())
	start := time.Now()
	if err := m.Evaluate(ctx, s, est); err != nil {
		return nil, err
	}
	elapsed := time.Since(start).Seconds()
	if j.metrics {
		metrics.JobDuration.WithLabelValues(label).Observe(elapsed)
	}

	res := &Result{
		Measure:          m.Result(),
		ElapsedTime:      elapsed,
		ZeroDensities:    m.ZeroDensities(),
		ModelDescription: est.ModelCharacteristics(),
	}
	if p, ok := m.(*PrequentialLL); ok {
		res.Measurements = p.Measurements()
	}
	j.result = res
	j.log.Infow("Finished", "measure", res.Measure, "elapsedTime", res.ElapsedTime, "zeroDensities", res.ZeroDensities)
	return res, nil
}

// WriteOutput writes the description and the result of the last run as
// JSON to path.
func (j *Job) WriteOutput(path string) error {
	if j.result == nil {
		return fmt.Errorf("job %d has not been run", j.desc.JobIndex)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	raw, err := json.MarshalIndent(Output{JobDescription: j.desc, Result: j.result}, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode result of job %d: %w", j.desc.JobIndex, err)
	}
	return os.WriteFile(path, raw, 0644)
}
