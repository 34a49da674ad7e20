// Package stream provides the instance sources redstream estimators consume.
//
// A Stream is initialized once, then drained with HasMoreInstances and
// NextInstance. Restart rewinds it to the first instance so the same data
// can feed several evaluations.
//
// Example:
//
//	s := stream.NewFileStream("data/covtype.arff", stream.WithLimit(10000))
//	if err := s.Init(); err != nil {
//		return err
//	}
//	for s.HasMoreInstances() {
//		inst, err := s.NextInstance()
//		if err != nil {
//			return err
//		}
//		est.Update(inst)
//	}
package stream

import (
	"errors"

	"github.com/orneryd/redstream/pkg/data"
)

// ErrExhausted is returned by NextInstance when no instance is left.
var ErrExhausted = errors.New("stream exhausted")

// ErrNotInitialized is returned when a stream is used before Init.
var ErrNotInitialized = errors.New("stream not initialized")

// Stream is a restartable, single-pass source of instances.
type Stream interface {
	Init() error
	HasMoreInstances() bool
	NextInstance() (*data.Instance, error)
	Header() *data.Header
	RandomVariables() []data.RandomVariable
	// NumberOfInstances is the number of instances one pass yields.
	NumberOfInstances() int64
	Restart() error
}

// SliceStream serves instances from memory.
type SliceStream struct {
	header    *data.Header
	instances []*data.Instance
	pos       int
	ready     bool
}

// NewSliceStream creates a stream over instances, all bound to header.
func NewSliceStream(header *data.Header, instances []*data.Instance) *SliceStream {
	return &SliceStream{header: header, instances: instances}
}

func (s *SliceStream) Init() error {
	s.pos = 0
	s.ready = true
	return nil
}

func (s *SliceStream) HasMoreInstances() bool {
	return s.ready && s.pos < len(s.instances)
}

func (s *SliceStream) NextInstance() (*data.Instance, error) {
	if !s.ready {
		return nil, ErrNotInitialized
	}
	if s.pos >= len(s.instances) {
		return nil, ErrExhausted
	}
	inst := s.instances[s.pos]
	s.pos++
	return inst, nil
}

func (s *SliceStream) Header() *data.Header { return s.header }

func (s *SliceStream) RandomVariables() []data.RandomVariable {
	return data.RandomVariables(s.header)
}

func (s *SliceStream) NumberOfInstances() int64 { return int64(len(s.instances)) }

func (s *SliceStream) Restart() error { return s.Init() }

// Collect drains s into memory.
func Collect(s Stream) ([]*data.Instance, error) {
	var out []*data.Instance
	for s.HasMoreInstances() {
		inst, err := s.NextInstance()
		if err != nil {
			return out, err
		}
		out = append(out, inst)
	}
	return out, nil
}
