package train

import (
	"math"

	"github.com/Benny93/graphdiff/internal/model"
)

// BestRecord is the best validation result of a stream. Snapshot is a value
// copy taken when the record was made; later parameter updates never show
// through it.
type BestRecord struct {
	Epoch        int
	Snapshot     model.Snapshot
	NLL          float64
	LogP0        float64
	DenoiseMatch float64
}

// Valid reports whether a best has been recorded.
func (b BestRecord) Valid() bool { return b.Snapshot != nil }

// StreamState is everything one stream owns: parameters, optimizer,
// scheduler and best record. Two streams never share any of it.
type StreamState struct {
	Stream      model.Stream
	Params      model.Params
	Optimizer   *AdamW
	Scheduler   *ReduceLROnPlateau
	MaxGradNorm float64
	Best        BestRecord

	// SinceImprovement counts validation cycles since Best last changed.
	SinceImprovement int

	// Frozen streams are no longer clipped, stepped or scheduled.
	Frozen bool
}

// NewStreamState builds the optimizer and scheduler for a parameter set.
func NewStreamState(s model.Stream, params model.Params, opt AdamWConfig, sched SchedulerConfig, maxGradNorm float64) *StreamState {
	o := NewAdamW(params, opt)
	return &StreamState{
		Stream:      s,
		Params:      params,
		Optimizer:   o,
		Scheduler:   NewReduceLROnPlateau(o, sched),
		MaxGradNorm: maxGradNorm,
		Best:        BestRecord{Epoch: -1, NLL: math.Inf(1)},
	}
}

// Observe applies the checkpoint-selection rule to a validation result and
// reports whether it became the new best. Only a strictly lower NLL
// replaces the record.
func (s *StreamState) Observe(epoch int, v model.Validation) bool {
	if !(v.NLL < s.Best.NLL) {
		s.SinceImprovement++
		return false
	}
	s.Best = BestRecord{
		Epoch:        epoch,
		Snapshot:     s.Params.Snapshot(),
		NLL:          v.NLL,
		LogP0:        v.LogP0,
		DenoiseMatch: v.DenoiseMatch,
	}
	s.SinceImprovement = 0
	return true
}
