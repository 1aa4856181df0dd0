package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCheckpoint(stream string, epoch int, nll float64) *Checkpoint {
	return &Checkpoint{
		Stream:       stream,
		Epoch:        epoch,
		NLL:          nll,
		LogP0:        nll / 2,
		DenoiseMatch: nll / 2,
		Params:       map[string][]float64{"w": {float64(epoch), nll}},
		SavedAt:      time.Date(2024, 1, 1, 0, 0, epoch, 0, time.UTC),
	}
}

// exerciseStore runs the behavior every CheckpointStore must share.
func exerciseStore(t *testing.T, store CheckpointStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.GetCheckpoint(ctx, "X", 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetBest(ctx, "X")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetBest(ctx, "X", 3), ErrNotFound)

	for _, c := range []*Checkpoint{
		testCheckpoint("X", 10, 1.5),
		testCheckpoint("X", 2, 2.5),
		testCheckpoint("E", 4, 0.7),
	} {
		require.NoError(t, store.SaveCheckpoint(ctx, c))
	}

	got, err := store.GetCheckpoint(ctx, "X", 2)
	require.NoError(t, err)
	assert.Equal(t, 2.5, got.NLL)
	assert.Equal(t, []float64{2, 2.5}, got.Params["w"])
	assert.True(t, got.SavedAt.Equal(time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)))

	list, err := store.ListCheckpoints(ctx, "X")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].Epoch)
	assert.Equal(t, 10, list[1].Epoch)
	assert.Nil(t, list[0].Params)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Saving the same key replaces it.
	require.NoError(t, store.SaveCheckpoint(ctx, testCheckpoint("X", 2, 0.1)))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, store.SetBest(ctx, "X", 10))
	best, err := store.GetBest(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, 10, best.Epoch)
	assert.Equal(t, []float64{10, 1.5}, best.Params["w"])

	_, err = store.GetBest(ctx, "E")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackend_Initialize(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	require.NoError(t, backend.Initialize("/tmp/test", false))
	assert.True(t, backend.IsInitialized())

	require.NoError(t, backend.Close())
	assert.False(t, backend.IsInitialized())
}

func TestMemoryBackend_Checkpoints(t *testing.T) {
	t.Parallel()

	backend := NewMemoryBackend()
	require.NoError(t, backend.Initialize("", false))
	exerciseStore(t, backend)
}

func TestMemoryBackend_CopiesParams(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := NewMemoryBackend()
	c := testCheckpoint("E", 1, 3)
	require.NoError(t, backend.SaveCheckpoint(ctx, c))

	c.Params["w"][0] = 99
	got, err := backend.GetCheckpoint(ctx, "E", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Params["w"][0])

	got.Params["w"][0] = 42
	again, err := backend.GetCheckpoint(ctx, "E", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Params["w"][0])
}

func TestCheckpoint_Summary(t *testing.T) {
	t.Parallel()

	c := testCheckpoint("X", 5, 1)
	s := c.Summary()
	assert.Nil(t, s.Params)
	assert.NotNil(t, c.Params)
	assert.Equal(t, 5, s.Epoch)
}
