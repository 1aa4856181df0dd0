package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for different data types
const (
	prefixCheckpoint = "c:" // c:<stream>:<epoch>
	prefixBest       = "b:" // b:<stream> -> epoch
)

// BadgerBackend is a BadgerDB-backed checkpoint store.
type BadgerBackend struct {
	db          *badger.DB
	initialized bool
	mu          sync.RWMutex
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	b.initialized = true
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.initialized = false
	return err
}

func (b *BadgerBackend) ready() error {
	if !b.initialized || b.db == nil {
		return ErrNotInitialized
	}
	return nil
}

func (b *BadgerBackend) checkpointKey(stream string, epoch int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", prefixCheckpoint, stream, epoch))
}

func (b *BadgerBackend) bestKey(stream string) []byte {
	return []byte(prefixBest + stream)
}

// SaveCheckpoint implements CheckpointStore.
func (b *BadgerBackend) SaveCheckpoint(ctx context.Context, c *Checkpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready(); err != nil {
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(b.checkpointKey(c.Stream, c.Epoch), data); err != nil {
			return fmt.Errorf("setting checkpoint: %w", err)
		}
		return nil
	})
}

// GetCheckpoint implements CheckpointStore.
func (b *BadgerBackend) GetCheckpoint(ctx context.Context, stream string, epoch int) (*Checkpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ready(); err != nil {
		return nil, err
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	return b.getCheckpoint(txn, stream, epoch)
}

func (b *BadgerBackend) getCheckpoint(txn *badger.Txn, stream string, epoch int) (*Checkpoint, error) {
	item, err := txn.Get(b.checkpointKey(stream, epoch))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("stream %s epoch %d: %w", stream, epoch, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting checkpoint: %w", err)
	}

	var c Checkpoint
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &c)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}
	return &c, nil
}

// SetBest implements CheckpointStore.
func (b *BadgerBackend) SetBest(ctx context.Context, stream string, epoch int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ready(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := b.getCheckpoint(txn, stream, epoch); err != nil {
			return err
		}
		data, err := json.Marshal(epoch)
		if err != nil {
			return fmt.Errorf("marshaling best epoch: %w", err)
		}
		if err := txn.Set(b.bestKey(stream), data); err != nil {
			return fmt.Errorf("setting best: %w", err)
		}
		return nil
	})
}

// GetBest implements CheckpointStore.
func (b *BadgerBackend) GetBest(ctx context.Context, stream string) (*Checkpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ready(); err != nil {
		return nil, err
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	item, err := txn.Get(b.bestKey(stream))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("best of stream %s: %w", stream, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting best: %w", err)
	}

	var epoch int
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &epoch)
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling best epoch: %w", err)
	}

	return b.getCheckpoint(txn, stream, epoch)
}

// ListCheckpoints implements CheckpointStore. Epoch keys are zero padded,
// so prefix iteration yields epoch order.
func (b *BadgerBackend) ListCheckpoints(ctx context.Context, stream string) ([]Checkpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ready(); err != nil {
		return nil, err
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixCheckpoint + stream + ":")
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []Checkpoint
	for it.Rewind(); it.Valid(); it.Next() {
		var c Checkpoint
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		}); err != nil {
			return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
		}
		out = append(out, c.Summary())
	}
	return out, nil
}

// Count implements CheckpointStore.
func (b *BadgerBackend) Count(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ready(); err != nil {
		return 0, err
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixCheckpoint)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n, nil
}
