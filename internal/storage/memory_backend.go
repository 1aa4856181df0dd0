package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type checkpointKey struct {
	stream string
	epoch  int
}

// MemoryBackend is an in-memory implementation of CheckpointStore for testing.
type MemoryBackend struct {
	mu          sync.RWMutex
	checkpoints map[checkpointKey]*Checkpoint
	best        map[string]int
	initialized bool
}

// NewMemoryBackend creates a new in-memory checkpoint store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		checkpoints: make(map[checkpointKey]*Checkpoint),
		best:        make(map[string]int),
	}
}

// Initialize implements CheckpointStore.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

// Close implements CheckpointStore.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	return nil
}

// IsInitialized reports whether Initialize has been called since the last Close.
func (m *MemoryBackend) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// SaveCheckpoint implements CheckpointStore. The stored record is a copy.
func (m *MemoryBackend) SaveCheckpoint(ctx context.Context, c *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *c
	stored.Params = cloneParams(c.Params)
	m.checkpoints[checkpointKey{c.Stream, c.Epoch}] = &stored
	return nil
}

// GetCheckpoint implements CheckpointStore.
func (m *MemoryBackend) GetCheckpoint(ctx context.Context, stream string, epoch int) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(stream, epoch)
}

func (m *MemoryBackend) get(stream string, epoch int) (*Checkpoint, error) {
	c, ok := m.checkpoints[checkpointKey{stream, epoch}]
	if !ok {
		return nil, fmt.Errorf("stream %s epoch %d: %w", stream, epoch, ErrNotFound)
	}
	out := *c
	out.Params = cloneParams(c.Params)
	return &out, nil
}

// SetBest implements CheckpointStore.
func (m *MemoryBackend) SetBest(ctx context.Context, stream string, epoch int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.checkpoints[checkpointKey{stream, epoch}]; !ok {
		return fmt.Errorf("stream %s epoch %d: %w", stream, epoch, ErrNotFound)
	}
	m.best[stream] = epoch
	return nil
}

// GetBest implements CheckpointStore.
func (m *MemoryBackend) GetBest(ctx context.Context, stream string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	epoch, ok := m.best[stream]
	if !ok {
		return nil, fmt.Errorf("best of stream %s: %w", stream, ErrNotFound)
	}
	return m.get(stream, epoch)
}

// ListCheckpoints implements CheckpointStore.
func (m *MemoryBackend) ListCheckpoints(ctx context.Context, stream string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Checkpoint
	for k, c := range m.checkpoints {
		if k.stream == stream {
			out = append(out, c.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out, nil
}

// Count implements CheckpointStore.
func (m *MemoryBackend) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkpoints), nil
}
