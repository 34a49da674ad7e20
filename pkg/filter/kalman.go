// Package filter smooths noisy per-instance measurements of a running
// evaluation, such as the log density a prequential evaluation assigns to
// every instance.
//
// Kalman is a scalar random-walk Kalman filter: the state is the current
// level of the signal, process noise lets the level drift, measurement noise
// says how far a single measurement may stray from it. Window keeps the mean
// and variance of the most recent measurements.
//
// Example:
//
//	trend := filter.NewKalman(filter.DefaultConfig())
//	for _, ll := range perInstance {
//		smoothed := trend.Process(ll)
//		fmt.Printf("%.3f\n", smoothed)
//	}
package filter

import (
	"math"
	"sync"
)

// Config holds Kalman filter configuration.
type Config struct {
	// ProcessNoise (Q) is the expected drift of the level per measurement.
	ProcessNoise float64
	// MeasurementNoise (R) is the variance of a single measurement.
	MeasurementNoise float64
	// InitialCovariance (P) is the uncertainty of the first estimate.
	InitialCovariance float64
}

// DefaultConfig returns settings suited to per-instance log-likelihoods,
// which scatter by several nats around a slowly moving level.
func DefaultConfig() Config {
	return Config{
		ProcessNoise:      1e-3,
		MeasurementNoise:  4,
		InitialCovariance: 4,
	}
}

// Kalman is a scalar Kalman filter. It is safe for concurrent use.
type Kalman struct {
	mu sync.RWMutex

	cfg   Config
	x     float64 // level estimate
	lastX float64
	p     float64 // estimate covariance
	k     float64 // last gain

	observations int
	skipped      int
}

// NewKalman creates a filter. The first finite measurement becomes the
// initial state.
func NewKalman(cfg Config) *Kalman {
	return &Kalman{cfg: cfg, p: cfg.InitialCovariance}
}

// Process folds a measurement into the estimate and returns the new level.
// NaN and infinite measurements are counted as skipped and leave the state
// untouched.
func (k *Kalman) Process(measurement float64) float64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	if math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		k.skipped++
		return k.x
	}
	k.lastX = k.x
	if k.observations == 0 {
		k.x, k.lastX = measurement, measurement
		k.observations++
		return k.x
	}

	k.p += k.cfg.ProcessNoise
	k.k = k.p / (k.p + k.cfg.MeasurementNoise)
	k.x += k.k * (measurement - k.x)
	k.p *= 1 - k.k
	k.observations++
	return k.x
}

// ProcessBatch processes measurements in order and returns every estimate.
func (k *Kalman) ProcessBatch(measurements []float64) []float64 {
	out := make([]float64, len(measurements))
	for i, m := range measurements {
		out[i] = k.Process(m)
	}
	return out
}

// State returns the current level estimate.
func (k *Kalman) State() float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.x
}

// Velocity returns the change of the estimate caused by the last measurement.
func (k *Kalman) Velocity() float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.x - k.lastX
}

// Covariance returns the current estimate uncertainty.
func (k *Kalman) Covariance() float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.p
}

// Gain returns the last Kalman gain.
func (k *Kalman) Gain() float64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.k
}

// Observations returns the number of measurements used.
func (k *Kalman) Observations() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.observations
}

// Skipped returns the number of rejected non-finite measurements.
func (k *Kalman) Skipped() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.skipped
}

// Reset returns the filter to its initial state.
func (k *Kalman) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.x, k.lastX, k.k = 0, 0, 0
	k.p = k.cfg.InitialCovariance
	k.observations, k.skipped = 0, 0
}

// Window tracks the mean and variance of the last n samples.
type Window struct {
	mu sync.Mutex

	samples []float64
	next    int
	filled  bool
	sum     float64
	sumSq   float64
}

// NewWindow creates a window over the last size samples.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{samples: make([]float64, size)}
}

// Add pushes a sample, dropping the oldest when the window is full.
func (w *Window) Add(sample float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	old := w.samples[w.next]
	if !w.filled {
		old = 0
	}
	w.samples[w.next] = sample
	w.sum += sample - old
	w.sumSq += sample*sample - old*old

	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

func (w *Window) n() int {
	if w.filled {
		return len(w.samples)
	}
	return w.next
}

// Mean returns the mean of the samples in the window.
func (w *Window) Mean() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n() == 0 {
		return 0
	}
	return w.sum / float64(w.n())
}

// Variance returns the population variance of the samples in the window.
func (w *Window) Variance() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := float64(w.n())
	if n == 0 {
		return 0
	}
	mean := w.sum / n
	return math.Abs(w.sumSq/n - mean*mean)
}

// StdDev returns the standard deviation of the samples in the window.
func (w *Window) StdDev() float64 {
	return math.Sqrt(w.Variance())
}
