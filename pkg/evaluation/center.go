package evaluation

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CenterOption configures a JobCenter.
type CenterOption func(*JobCenter)

// WithParallelism bounds the number of jobs running at once.
func WithParallelism(n int) CenterOption {
	return func(c *JobCenter) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithOutputDir sets the directory of jobs without an output file. Results
// are named job-<index>.json.
func WithOutputDir(dir string) CenterOption {
	return func(c *JobCenter) { c.outputDir = dir }
}

// WithCenterLogger sets the logger of the center and its jobs.
func WithCenterLogger(log *zap.SugaredLogger) CenterOption {
	return func(c *JobCenter) {
		if log != nil {
			c.log = log
		}
	}
}

// WithJobMetrics enables the Prometheus collectors for every job.
func WithJobMetrics(enabled bool) CenterOption {
	return func(c *JobCenter) { c.metrics = enabled }
}

// JobCenter runs the jobs of a job file whose index lies in a range.
type JobCenter struct {
	descs       map[int]JobDescription
	parallelism int
	outputDir   string
	metrics     bool
	log         *zap.SugaredLogger
}

// NewJobCenter indexes descs by job index. Indexes must be unique.
func NewJobCenter(descs []JobDescription, opts ...CenterOption) (*JobCenter, error) {
	c := &JobCenter{
		descs:       make(map[int]JobDescription, len(descs)),
		parallelism: 1,
		log:         zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, d := range descs {
		if _, dup := c.descs[d.JobIndex]; dup {
			return nil, fmt.Errorf("duplicate job index %d", d.JobIndex)
		}
		c.descs[d.JobIndex] = d
	}
	c.log = c.log.Named("jobcenter")
	return c, nil
}

// Indexes returns the job indexes in [start, end] in ascending order.
func (c *JobCenter) Indexes(start, end int) []int {
	var idx []int
	for i := range c.descs {
		if i >= start && i <= end {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	return idx
}

// Run runs every job with an index in [start, end] and writes its output.
// All jobs of one call share a run ID. The first failing job cancels the
// others; results are returned in index order.
func (c *JobCenter) Run(ctx context.Context, start, end int) ([]*Result, error) {
	runID := uuid.NewString()
	idx := c.Indexes(start, end)
	c.log.Infow("Running jobs", "runId", runID, "jobs", len(idx), "parallelism", c.parallelism)

	results := make([]*Result, len(idx))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, jobIndex := range idx {
		i, jobIndex := i, jobIndex
		g.Go(func() error {
			desc := c.descs[jobIndex]
			job := NewJob(desc, c.log, c.metrics)
			res, err := job.Run(ctx)
			if err != nil {
				return fmt.Errorf("job %d: %w", jobIndex, err)
			}
			res.RunID = runID
			if path := c.outputPath(desc); path != "" {
				if err := job.WriteOutput(path); err != nil {
					return fmt.Errorf("could not write results of job %d: %w", jobIndex, err)
				}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Errorw("Job failed", "runId", runID, zap.Error(err))
		return nil, err
	}
	c.log.Infow("Jobs finished", "runId", runID)
	return results, nil
}

func (c *JobCenter) outputPath(d JobDescription) string {
	switch {
	case d.OutputFile != "":
		return d.OutputFile
	case c.outputDir != "":
		return filepath.Join(c.outputDir, fmt.Sprintf("job-%d.json", d.JobIndex))
	}
	return ""
}
