package batching

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the size of the training prefetch pool.
const DefaultWorkers = 4

// TrainLoader serves the edge index in a fresh random order every epoch.
// Batches are assembled by a bounded pool of workers and delivered in
// completion order, so their order within an epoch is not deterministic.
type TrainLoader struct {
	index     *EdgeIndex
	labels    LabelSource
	batchSize int
	workers   int
	rng       *rand.Rand
}

// NewTrainLoader creates a shuffling loader. rng is the only randomness
// source; callers decide how it is seeded.
func NewTrainLoader(index *EdgeIndex, labels LabelSource, batchSize, workers int, rng *rand.Rand) (*TrainLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if rng == nil {
		return nil, fmt.Errorf("train loader needs a random source")
	}
	if workers <= 0 {
		workers = 1
	}
	return &TrainLoader{
		index:     index,
		labels:    labels,
		batchSize: batchSize,
		workers:   workers,
		rng:       rng,
	}, nil
}

// NumBatches returns the number of batches per epoch.
func (l *TrainLoader) NumBatches() int {
	return numBatches(l.index.Len(), l.batchSize)
}

// Epoch shuffles the index and calls fn once per batch from the calling
// goroutine. It stops at the first error returned by fn or on context
// cancellation.
func (l *TrainLoader) Epoch(ctx context.Context, fn func(Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	order := l.rng.Perm(l.index.Len())
	total := l.NumBatches()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	out := make(chan Batch, l.workers)

	g.Go(func() error {
		defer close(jobs)
		for n := 0; n < total; n++ {
			select {
			case jobs <- n:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for w := 0; w < l.workers; w++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for n := range jobs {
				start := n * l.batchSize
				end := min(start+l.batchSize, len(order))
				b := gather(l.index, l.labels, order[start:end])
				select {
				case out <- b:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	var consumeErr error
	for b := range out {
		if consumeErr != nil {
			continue
		}
		if err := fn(b); err != nil {
			consumeErr = err
			cancel()
		}
	}

	err := g.Wait()
	if consumeErr != nil {
		return consumeErr
	}
	return err
}

// ValLoader serves the edge index in canonical order from a single
// goroutine. Two epochs over the same loader yield identical batches.
type ValLoader struct {
	index     *EdgeIndex
	labels    LabelSource
	batchSize int
}

// NewValLoader creates an ordered loader.
func NewValLoader(index *EdgeIndex, labels LabelSource, batchSize int) (*ValLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	return &ValLoader{index: index, labels: labels, batchSize: batchSize}, nil
}

// NumBatches returns the number of batches per pass.
func (l *ValLoader) NumBatches() int {
	return numBatches(l.index.Len(), l.batchSize)
}

// Epoch calls fn for every batch in canonical order.
func (l *ValLoader) Epoch(ctx context.Context, fn func(Batch) error) error {
	total := l.index.Len()
	positions := make([]int, 0, l.batchSize)
	for start := 0; start < total; start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		positions = positions[:0]
		for k := start; k < min(start+l.batchSize, total); k++ {
			positions = append(positions, k)
		}
		if err := fn(gather(l.index, l.labels, positions)); err != nil {
			return err
		}
	}
	return nil
}
