// Package model defines the dual-stream denoiser contract the trainer drives
// and a reference implementation of it.
package model

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/viterin/vek"
)

// ErrShapeMismatch is returned when a snapshot does not fit a parameter set.
var ErrShapeMismatch = errors.New("parameter shape mismatch")

// Stream identifies one of the two independently optimized sub-models.
type Stream int

const (
	// StreamX denoises node attributes.
	StreamX Stream = iota
	// StreamE denoises edge types.
	StreamE
)

// Streams lists both streams in a fixed order.
var Streams = []Stream{StreamX, StreamE}

func (s Stream) String() string {
	switch s {
	case StreamX:
		return "X"
	case StreamE:
		return "E"
	default:
		return fmt.Sprintf("Stream(%d)", int(s))
	}
}

// ParseStream maps "X" or "E" to a Stream.
func ParseStream(name string) (Stream, error) {
	switch name {
	case "X", "x":
		return StreamX, nil
	case "E", "e":
		return StreamE, nil
	default:
		return 0, fmt.Errorf("unknown stream %q", name)
	}
}

// Param is one named tensor with its accumulated gradient.
type Param struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

// NewParam allocates a zeroed tensor of the given shape.
func NewParam(name string, shape ...int) *Param {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: make([]float64, size),
		Grad:  make([]float64, size),
	}
}

// Params is the parameter set of one stream.
type Params []*Param

// ZeroGrad clears every gradient.
func (p Params) ZeroGrad() {
	for _, param := range p {
		clear(param.Grad)
	}
}

// GradNorm returns the L2 norm of all gradients taken together.
func (p Params) GradNorm() float64 {
	var sq float64
	for _, param := range p {
		sq += vek.Dot(param.Grad, param.Grad)
	}
	return math.Sqrt(sq)
}

// Size returns the total number of scalars.
func (p Params) Size() int {
	n := 0
	for _, param := range p {
		n += len(param.Value)
	}
	return n
}

// Lookup finds a parameter by name.
func (p Params) Lookup(name string) (*Param, bool) {
	for _, param := range p {
		if param.Name == name {
			return param, true
		}
	}
	return nil, false
}

// Snapshot copies the current values. The result shares no memory with p.
func (p Params) Snapshot() Snapshot {
	s := make(Snapshot, len(p))
	for _, param := range p {
		s[param.Name] = append([]float64(nil), param.Value...)
	}
	return s
}

// Restore overwrites the values of p with those of s.
func (p Params) Restore(s Snapshot) error {
	if len(s) != len(p) {
		return fmt.Errorf("snapshot has %d tensors, want %d: %w", len(s), len(p), ErrShapeMismatch)
	}
	for _, param := range p {
		v, ok := s[param.Name]
		if !ok {
			return fmt.Errorf("snapshot lacks %q: %w", param.Name, ErrShapeMismatch)
		}
		if len(v) != len(param.Value) {
			return fmt.Errorf("tensor %q has %d values, want %d: %w", param.Name, len(v), len(param.Value), ErrShapeMismatch)
		}
		copy(param.Value, v)
	}
	return nil
}

// Snapshot is a value copy of a parameter set keyed by tensor name.
type Snapshot map[string][]float64

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = append([]float64(nil), v...)
	}
	return out
}

// Names returns the tensor names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
