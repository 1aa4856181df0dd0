// Package storage persists per-stream training checkpoints.
//
// It defines the CheckpointStore protocol that all storage implementations
// must satisfy, along with the checkpoint record shared across backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a checkpoint or best marker does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// ErrNotInitialized is returned when a store is used before Initialize or
// after Close.
var ErrNotInitialized = errors.New("checkpoint store not initialized")

// Checkpoint is a saved parameter snapshot of one stream.
type Checkpoint struct {
	// Stream is the stream name, "X" or "E".
	Stream string `json:"stream"`

	// Epoch is the epoch the snapshot was taken after.
	Epoch int `json:"epoch"`

	// Validation metrics at that epoch.
	NLL          float64 `json:"nll"`
	LogP0        float64 `json:"log_p0"`
	DenoiseMatch float64 `json:"denoise_match"`

	// Params holds the tensors keyed by name. It is nil in listings.
	Params map[string][]float64 `json:"params,omitempty"`

	SavedAt time.Time `json:"saved_at"`
}

// Summary returns a copy of c without its tensors.
func (c *Checkpoint) Summary() Checkpoint {
	s := *c
	s.Params = nil
	return s
}

func cloneParams(p map[string][]float64) map[string][]float64 {
	if p == nil {
		return nil
	}
	out := make(map[string][]float64, len(p))
	for k, v := range p {
		out[k] = append([]float64(nil), v...)
	}
	return out
}

// CheckpointStore defines the interface for checkpoint persistence.
//
// Implementations must be thread-safe and support concurrent access.
type CheckpointStore interface {
	// Initialize opens or creates the store at the given path.
	// If readOnly is true, the store is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the store.
	Close() error

	// SaveCheckpoint writes a checkpoint, replacing any with the same
	// stream and epoch.
	SaveCheckpoint(ctx context.Context, c *Checkpoint) error

	// GetCheckpoint returns the checkpoint of a stream at an epoch.
	GetCheckpoint(ctx context.Context, stream string, epoch int) (*Checkpoint, error)

	// SetBest marks an existing checkpoint as the final best of its stream.
	SetBest(ctx context.Context, stream string, epoch int) error

	// GetBest returns the checkpoint marked best for a stream.
	GetBest(ctx context.Context, stream string) (*Checkpoint, error)

	// ListCheckpoints returns tensor-free summaries ordered by epoch.
	ListCheckpoints(ctx context.Context, stream string) ([]Checkpoint, error)

	// Count returns the number of stored checkpoints across streams.
	Count(ctx context.Context) (int, error)
}
