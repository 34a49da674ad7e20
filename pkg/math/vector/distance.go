// Package vector provides the float64 distance kernels used by redstream.
//
// All projection, ranking and nearest-neighbour code goes through these
// functions so that distances are computed the same way everywhere.
//
// Main Functions:
//   - Minkowski: p-norm distance, used by the landmark projection
//   - Manhattan: L1 distance, used to rank representatives
//   - Euclidean: L2 distance, used to pick the representative answering a query
//   - SquaredEuclidean: L2 without the square root, for nearest-neighbour scans
//
// Mismatched or empty inputs yield 0 rather than panicking, matching the
// rest of the math helpers.
package vector

import (
	"math"

	"github.com/viterin/vek"
)

// Minkowski returns (Σ|a_i - b_i|^p)^(1/p).
//
// p = 1 and p = 2 are dispatched to the vek kernels.
//
// Example:
//
//	a := []float64{0, 0}
//	b := []float64{3, 4}
//	d := Minkowski(a, b, 2) // 5
func Minkowski(a, b []float64, p float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	switch p {
	case 1:
		return vek.ManhattanDistance(a, b)
	case 2:
		return vek.Distance(a, b)
	}
	diff := vek.Sub(a, b)
	vek.Abs_Inplace(diff)
	return PNorm(diff, p)
}

// PNorm returns (Σ|x_i|^p)^(1/p) for p > 0.
func PNorm(x []float64, p float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += math.Pow(math.Abs(v), p)
	}
	return math.Pow(sum, 1/p)
}

// Manhattan returns Σ|a_i - b_i|.
//
// Example:
//
//	d := Manhattan([]float64{1, 2}, []float64{4, 0}) // 5
func Manhattan(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return vek.ManhattanDistance(a, b)
}

// Euclidean returns the L2 distance between a and b.
func Euclidean(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return vek.Distance(a, b)
}

// SquaredEuclidean returns Σ(a_i - b_i)^2.
func SquaredEuclidean(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Mean returns the component-wise mean of rows. All rows must share the
// length of the first one; nil is returned for an empty input.
func Mean(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}
	mean := make([]float64, len(rows[0]))
	for _, r := range rows {
		vek.Add_Inplace(mean, r)
	}
	vek.DivNumber_Inplace(mean, float64(len(rows)))
	return mean
}
