package model

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/Benny93/graphdiff/internal/batching"
	"github.com/Benny93/graphdiff/internal/dataset"
)

// State is the full noised graph handed to the denoiser with every batch.
type State struct {
	X3D   []*mat.Dense
	XFlat *mat.Dense
	E     *dataset.EdgeTypes
	Y     []int
}

// NewState wraps preprocessed features as a denoiser input.
func NewState(f *dataset.Features) *State {
	return &State{
		X3D:   f.X3D,
		XFlat: f.XFlat,
		E:     f.E,
		Y:     f.Y,
	}
}

// NumNodes returns N.
func (s *State) NumNodes() int { return len(s.Y) }

// Losses are the per-stream scalar losses of one batch.
type Losses struct {
	X float64
	E float64
}

// Of returns the loss of one stream.
func (l Losses) Of(s Stream) float64 {
	if s == StreamX {
		return l.X
	}
	return l.E
}

// Validation is the per-stream result of a validation pass. All three
// metrics are lower-is-better.
type Validation struct {
	NLL          float64 `json:"nll"`
	LogP0        float64 `json:"log_p0"`
	DenoiseMatch float64 `json:"denoise_match"`
}

// Denoiser is a two-stream model whose streams share no parameters.
//
// A training step is exactly one StepLosses followed by one Backward.
// Backward accumulates the gradient of loss_X + loss_E into both parameter
// sets at once; forward passes are never repeated per stream.
type Denoiser interface {
	// Params returns the live parameter set of a stream.
	Params(s Stream) Params

	// StepLosses runs one forward pass over a batch of node pairs.
	StepLosses(ctx context.Context, st *State, b batching.Batch) (Losses, error)

	// Backward accumulates gradients for the last StepLosses call.
	Backward() error

	// Validate evaluates both streams over the validation loader.
	Validate(ctx context.Context, st *State, val *batching.ValLoader) (map[Stream]Validation, error)
}
