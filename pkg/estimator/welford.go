package estimator

import "math"

// welford keeps the running mean and variance of one column.
type welford struct {
	count int64
	mean  float64
	m2    float64
}

func (w *welford) add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (x - w.mean)
}

func (w *welford) variance() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count-1)
}

func (w *welford) stddev() float64 {
	return math.Sqrt(w.variance())
}
