// Package main provides the redstream CLI entry point.
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/redstream/pkg/config"
	"github.com/orneryd/redstream/pkg/evaluation"
	"github.com/orneryd/redstream/pkg/logging"
	"github.com/orneryd/redstream/pkg/metrics"
	"github.com/orneryd/redstream/pkg/stream"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "redstream",
		Short: "redstream - online density estimation on data streams",
		Long: `redstream estimates probability densities of data streams in a single
pass with RED, a representative-based estimator that clusters instances
by their distances to a few synthetic landmarks.

Commands:
  • run       evaluate the jobs of a job file
  • estimate  evaluate the configured estimator on one ARFF file
  • generate  write a synthetic Gaussian-mixture stream as ARFF`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: search redstream.yaml, ~/.redstream/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: json, console")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("redstream v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the jobs of a job file",
		Long:  "Run every job of a YAML or JSON job file whose index lies in [start, end] and write one JSON result per job",
		RunE:  runJobs,
	}
	runCmd.Flags().StringP("file", "f", "", "Job file (.yaml or .json)")
	runCmd.Flags().Int("start", 0, "First job index")
	runCmd.Flags().Int("end", 0, "Last job index")
	runCmd.Flags().Int("parallelism", 0, "Jobs running at once (default from config)")
	runCmd.Flags().String("output-dir", "", "Directory for jobs without an output file")
	_ = runCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(runCmd)

	estimateCmd := &cobra.Command{
		Use:   "estimate [file.arff]",
		Short: "Evaluate the configured estimator on an ARFF file",
		Args:  cobra.ExactArgs(1),
		RunE:  runEstimate,
	}
	estimateCmd.Flags().String("estimator", "", "Estimator: red, chain")
	estimateCmd.Flags().String("measure", "", "Measure: ll, prequential-ll")
	estimateCmd.Flags().Int("num-landmarks", 0, "Number of landmarks")
	estimateCmd.Flags().Float64("mahalanobis-distance", 0, "Membership threshold")
	estimateCmd.Flags().Int("class-index", -1, "Class attribute index (-1 for none)")
	estimateCmd.Flags().Int64("limit", 0, "Read at most this many instances (0 = all)")
	estimateCmd.Flags().StringP("output", "o", "", "Write the result to this file instead of stdout")
	rootCmd.AddCommand(estimateCmd)

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic Gaussian-mixture stream as ARFF",
		RunE:  runGenerate,
	}
	generateCmd.Flags().Int64("count", 5000, "Number of instances")
	generateCmd.Flags().Int("dims", 2, "Number of numeric attributes")
	generateCmd.Flags().Int("clusters", 3, "Number of mixture components")
	generateCmd.Flags().Float64("spread", 1, "Component means are drawn uniformly from [0, spread)")
	generateCmd.Flags().Float64("stddev", 0.02, "Standard deviation of every component")
	generateCmd.Flags().Int64("seed", 1, "Random seed")
	generateCmd.Flags().Bool("label", false, "Append the generating component as a nominal attribute")
	generateCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	rootCmd.AddCommand(generateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration, applies the persistent flags and starts
// logging and metrics.
func setup(cmd *cobra.Command) (context.Context, context.CancelFunc, *config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = v
	}

	log, err := logging.NewLoggerWithLevel(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx = logging.WithLogger(ctx, log)
	if path != "" {
		log.Infow("Loaded config", "path", path)
	}
	log.Debugw("Configuration", "config", cfg.String())

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Address); err != nil {
				log.Errorw("Metrics server failed", zap.Error(err))
			}
		}()
		log.Infow("Serving metrics", "address", cfg.Metrics.Address)
	}
	return ctx, cancel, cfg, nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx, cancel, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	log := logging.FromContext(ctx)

	file, _ := cmd.Flags().GetString("file")
	start, _ := cmd.Flags().GetInt("start")
	end, _ := cmd.Flags().GetInt("end")
	if cmd.Flags().Changed("parallelism") {
		cfg.Evaluation.Parallelism, _ = cmd.Flags().GetInt("parallelism")
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.Evaluation.OutputDir, _ = cmd.Flags().GetString("output-dir")
	}
	if !cmd.Flags().Changed("end") {
		end = math.MaxInt
	}

	descs, err := evaluation.LoadJobs(file)
	if err != nil {
		return err
	}
	center, err := evaluation.NewJobCenter(descs,
		evaluation.WithParallelism(cfg.Evaluation.Parallelism),
		evaluation.WithOutputDir(cfg.Evaluation.OutputDir),
		evaluation.WithCenterLogger(log),
		evaluation.WithJobMetrics(cfg.Metrics.Enabled),
	)
	if err != nil {
		return err
	}
	results, err := center.Run(ctx, start, end)
	if err != nil {
		return err
	}
	fmt.Printf("✅ %d jobs finished, results in %s\n", len(results), cfg.Evaluation.OutputDir)
	return nil
}

func runEstimate(cmd *cobra.Command, args []string) error {
	ctx, cancel, cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	flags := cmd.Flags()
	if flags.Changed("estimator") {
		cfg.Estimator.Name, _ = flags.GetString("estimator")
	}
	if flags.Changed("measure") {
		cfg.Evaluation.Measure, _ = flags.GetString("measure")
	}
	if flags.Changed("num-landmarks") {
		cfg.RED.NumLandmarks, _ = flags.GetInt("num-landmarks")
	}
	if flags.Changed("mahalanobis-distance") {
		cfg.RED.MahalanobisDistance, _ = flags.GetFloat64("mahalanobis-distance")
	}
	if flags.Changed("limit") {
		cfg.Evaluation.Limit, _ = flags.GetInt64("limit")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	classIndex, _ := flags.GetInt("class-index")

	desc := describeJob(cfg, args[0], classIndex)
	if err := desc.Validate(); err != nil {
		return err
	}
	job := evaluation.NewJob(desc, logging.FromContext(ctx), cfg.Metrics.Enabled)
	if _, err := job.Run(ctx); err != nil {
		return err
	}

	if out, _ := flags.GetString("output"); out != "" {
		return job.WriteOutput(out)
	}
	raw, err := json.MarshalIndent(evaluation.Output{JobDescription: desc, Result: job.Result()}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return err
}

// describeJob builds the description of a single evaluation of path from
// the configuration.
func describeJob(cfg *config.Config, path string, classIndex int) evaluation.JobDescription {
	est := evaluation.DefaultEstimatorDescription()
	est.Type = cfg.Estimator.Name
	est.Config = cfg.ToRED()
	est.Orders = cfg.Estimator.ChainOrders
	est.Bins = cfg.Estimator.Bins
	est.Discretization = cfg.Estimator.Discretization
	return evaluation.JobDescription{
		Stream: evaluation.StreamDescription{
			Type:       evaluation.StreamARFF,
			Path:       path,
			ClassIndex: classIndex,
			Limit:      cfg.Evaluation.Limit,
		},
		Estimator:  est,
		Evaluation: evaluation.EvaluationDescription{Measure: cfg.Evaluation.Measure},
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	count, _ := flags.GetInt64("count")
	dims, _ := flags.GetInt("dims")
	clusters, _ := flags.GetInt("clusters")
	spread, _ := flags.GetFloat64("spread")
	stddev, _ := flags.GetFloat64("stddev")
	seed, _ := flags.GetInt64("seed")
	label, _ := flags.GetBool("label")
	output, _ := flags.GetString("output")
	if clusters <= 0 || dims <= 0 || count <= 0 {
		return fmt.Errorf("count, dims and clusters must be positive")
	}

	rng := rand.New(rand.NewSource(seed))
	components := make([]stream.Component, clusters)
	for i := range components {
		mean := make([]float64, dims)
		for j := range mean {
			mean[j] = rng.Float64() * spread
		}
		components[i] = stream.Component{Mean: mean, StdDev: stddev, Weight: 1}
	}
	s, err := stream.NewMixtureStream(stream.MixtureOptions{
		Components: components,
		Count:      count,
		Seed:       seed,
		Label:      label,
	})
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := stream.WriteARFF(w, s.Header(), s); err != nil {
		return err
	}
	if output != "" {
		fmt.Fprintf(os.Stderr, "✅ Wrote %d instances with %d components to %s\n", count, clusters, output)
	}
	return nil
}
