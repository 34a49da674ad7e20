package red

import "github.com/orneryd/redstream/pkg/data"

// Timestamp is the logical clock of a RED estimator: one tick per processed
// instance.
type Timestamp int64

// Sub returns the number of ticks between t and earlier.
func (t Timestamp) Sub(earlier Timestamp) int64 { return int64(t - earlier) }

// Next returns the following tick.
func (t Timestamp) Next() Timestamp { return t + 1 }

// Observation is a processed instance together with its distance vector and
// the tick at which it was seen. Observations are never modified; the
// distance vector is copied on construction and on access.
type Observation struct {
	instance  *data.Instance
	distance  []float64
	timestamp Timestamp
}

// NewObservation wraps inst with a copy of its distance vector.
func NewObservation(inst *data.Instance, distance []float64, ts Timestamp) Observation {
	d := make([]float64, len(distance))
	copy(d, distance)
	return Observation{instance: inst, distance: d, timestamp: ts}
}

// Instance returns the source instance.
func (o Observation) Instance() *data.Instance { return o.instance }

// Distance returns a copy of the distance vector.
func (o Observation) Distance() []float64 {
	d := make([]float64, len(o.distance))
	copy(d, o.distance)
	return d
}

// Coordinate returns the i-th component of the distance vector.
func (o Observation) Coordinate(i int) float64 { return o.distance[i] }

// Dim returns the length of the distance vector.
func (o Observation) Dim() int { return len(o.distance) }

// Timestamp returns the tick at which the observation was made.
func (o Observation) Timestamp() Timestamp { return o.timestamp }
