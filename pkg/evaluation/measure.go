// Package evaluation measures how well density estimators fit a stream.
//
// A Measure trains an estimator on a stream and scores it. LL holds out the
// second half of the stream; PrequentialLL scores every instance before it
// is used for training. Jobs bind a stream, an estimator and a measure
// together from a JobDescription, and a JobCenter runs a range of jobs from
// a job file concurrently, writing one JSON result per job.
//
// Example:
//
//	descs, err := evaluation.LoadJobs("experiments.yaml")
//	if err != nil {
//		return err
//	}
//	center, err := evaluation.NewJobCenter(descs, evaluation.WithParallelism(4))
//	if err != nil {
//		return err
//	}
//	results, err := center.Run(ctx, 1, 15)
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/orneryd/redstream/pkg/data"
	"github.com/orneryd/redstream/pkg/estimator"
	"github.com/orneryd/redstream/pkg/filter"
	"github.com/orneryd/redstream/pkg/stream"
)

const (
	// MeasureLL is the hold-out average log-likelihood.
	MeasureLL = "ll"
	// MeasurePrequentialLL is the test-then-train average log-likelihood.
	MeasurePrequentialLL = "prequential-ll"

	// DefaultPrefixSize is the number of leading instances a prequential
	// evaluation trains on without scoring.
	DefaultPrefixSize = 100
	// DefaultWindowSize is the number of recent scores the sliding
	// statistics of a prequential evaluation cover.
	DefaultWindowSize = 100
)

// minLogDensity replaces log(0) so results stay finite and encodable.
var minLogDensity = math.Log(math.SmallestNonzeroFloat64)

// ErrNoTestInstances is returned when a stream is too short to score.
var ErrNoTestInstances = errors.New("evaluation: no instances left to score")

// Measure trains an estimator on a stream and scores it.
type Measure interface {
	Name() string
	// Evaluate consumes the stream. est must already be initialized with
	// the header of s.
	Evaluate(ctx context.Context, s stream.Stream, est estimator.DensityEstimator) error
	// Result is the score of the last evaluation.
	Result() float64
	// ZeroDensities is the number of scored instances of density 0.
	ZeroDensities() int64
}

// Measurement is the running average log-likelihood after Timestamp
// instances, together with the Kalman-smoothed per-instance log-likelihood
// and the mean and standard deviation of the last WindowSize scores.
type Measurement struct {
	Timestamp    int64   `json:"timestamp"`
	LL           float64 `json:"LL"`
	Trend        float64 `json:"trend"`
	WindowLL     float64 `json:"windowLL"`
	WindowStdDev float64 `json:"windowStdDev"`
}

// NewMeasure returns the measure called name.
func NewMeasure(name string, log *zap.SugaredLogger) (Measure, error) {
	switch name {
	case MeasureLL:
		return &LL{}, nil
	case MeasurePrequentialLL:
		return NewPrequentialLL(DefaultPrefixSize, filter.DefaultConfig(), log), nil
	}
	return nil, fmt.Errorf("evaluation: unknown measure %q", name)
}

// logDensity scores inst and reports whether its density was 0.
func logDensity(est estimator.DensityEstimator, inst *data.Instance) (float64, bool, error) {
	d, err := est.DensityValue(inst)
	if err != nil {
		return 0, false, err
	}
	if d <= 0 || math.IsNaN(d) {
		return minLogDensity, true, nil
	}
	return math.Log(d), false, nil
}

// LL trains on the first half of a stream and returns the average
// log-likelihood of the second half.
type LL struct {
	ll    float64
	zeros int64
}

func (m *LL) Name() string { return MeasureLL }

func (m *LL) Evaluate(ctx context.Context, s stream.Stream, est estimator.DensityEstimator) error {
	numTrain := s.NumberOfInstances() / 2
	numTest := s.NumberOfInstances() - numTrain
	m.ll, m.zeros = 0, 0

	var trained int64
	for s.HasMoreInstances() && trained < numTrain {
		if err := ctx.Err(); err != nil {
			return err
		}
		inst, err := s.NextInstance()
		if err != nil {
			return err
		}
		if err := est.Update(inst); err != nil {
			return fmt.Errorf("evaluation: update: %w", err)
		}
		trained++
	}

	var tested int64
	var sum float64
	for s.HasMoreInstances() && tested < numTest {
		if err := ctx.Err(); err != nil {
			return err
		}
		inst, err := s.NextInstance()
		if err != nil {
			return err
		}
		ll, zero, err := logDensity(est, inst)
		if err != nil {
			return fmt.Errorf("evaluation: density: %w", err)
		}
		if zero {
			m.zeros++
		}
		sum += ll
		tested++
	}
	if tested == 0 {
		return ErrNoTestInstances
	}
	m.ll = sum / float64(tested)
	return nil
}

func (m *LL) Result() float64 { return m.ll }

func (m *LL) ZeroDensities() int64 { return m.zeros }

// PrequentialLL scores every instance after the first PrefixSize before
// training on it. It records one Measurement per scored instance.
type PrequentialLL struct {
	PrefixSize int64
	WindowSize int

	trendCfg filter.Config
	log      *zap.SugaredLogger

	sum          float64
	scored       int64
	zeros        int64
	measurements []Measurement
}

// NewPrequentialLL creates a prequential measure. The trend of the
// per-instance log-likelihood is smoothed with a Kalman filter of cfg.
func NewPrequentialLL(prefixSize int64, cfg filter.Config, log *zap.SugaredLogger) *PrequentialLL {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PrequentialLL{PrefixSize: prefixSize, WindowSize: DefaultWindowSize, trendCfg: cfg, log: log}
}

func (m *PrequentialLL) Name() string { return MeasurePrequentialLL }

func (m *PrequentialLL) Evaluate(ctx context.Context, s stream.Stream, est estimator.DensityEstimator) error {
	m.sum, m.scored, m.zeros = 0, 0, 0
	m.measurements = m.measurements[:0]
	trend := filter.NewKalman(m.trendCfg)
	recent := filter.NewWindow(m.WindowSize)

	var counter int64
	for s.HasMoreInstances() {
		if err := ctx.Err(); err != nil {
			return err
		}
		inst, err := s.NextInstance()
		if err != nil {
			return err
		}
		if counter >= m.PrefixSize {
			ll, zero, err := logDensity(est, inst)
			if err != nil {
				return fmt.Errorf("evaluation: density: %w", err)
			}
			if zero {
				m.zeros++
			}
			m.sum += ll
			m.scored++
			smoothed := trend.Process(ll)
			recent.Add(ll)
			avg := m.sum / float64(m.scored)
			m.measurements = append(m.measurements, Measurement{
				Timestamp:    counter,
				LL:           avg,
				Trend:        smoothed,
				WindowLL:     recent.Mean(),
				WindowStdDev: recent.StdDev(),
			})
			m.log.Debugw("Scored instance", "instance", counter, "ll", avg, "trend", smoothed)
		}
		if err := est.Update(inst); err != nil {
			return fmt.Errorf("evaluation: update: %w", err)
		}
		counter++
	}
	if m.scored == 0 {
		return ErrNoTestInstances
	}
	return nil
}

func (m *PrequentialLL) Result() float64 {
	if m.scored == 0 {
		return 0
	}
	return m.sum / float64(m.scored)
}

func (m *PrequentialLL) ZeroDensities() int64 { return m.zeros }

// Measurements returns the running averages of the last evaluation.
func (m *PrequentialLL) Measurements() []Measurement {
	out := make([]Measurement, len(m.measurements))
	copy(out, m.measurements)
	return out
}
