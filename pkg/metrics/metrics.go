// Package metrics exposes the Prometheus collectors describing a running
// estimator population, labeled by job.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "redstream"

	LabelJob = "job"
)

var (
	// Candidates is the number of live candidate clusters.
	Candidates = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "candidates",
		Help:      "Number of live candidate clusters",
	}, []string{LabelJob})

	// Representatives is the number of live representatives.
	Representatives = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "representatives",
		Help:      "Number of live representatives",
	}, []string{LabelJob})

	// CorrectionFactor is the running average decoder correction factor.
	CorrectionFactor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "correction_factor",
		Help:      "Running average of the decoder correction factor",
	}, []string{LabelJob})

	ObservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observations_total",
		Help:      "Total number of observations routed through the layer",
	}, []string{LabelJob})

	PromotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "promotions_total",
		Help:      "Total number of candidates promoted to representatives",
	}, []string{LabelJob})

	EvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evictions_total",
		Help:      "Total number of clusters removed by garbage collection",
	}, []string{LabelJob})

	// JobDuration records the wall time of finished evaluation jobs.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Wall time of evaluation jobs",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{LabelJob})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
