package model

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/graphdiff/internal/batching"
	"github.com/Benny93/graphdiff/internal/dataset"
)

func testFeatures(t *testing.T) *dataset.Features {
	t.Helper()
	ds, err := dataset.FromRaw(&dataset.Raw{
		Name:     "amazon_photo",
		NumNodes: 6,
		Edges:    [][2]int{{0, 1}, {1, 0}, {2, 3}, {3, 2}, {1, 4}, {4, 1}, {4, 5}, {5, 4}},
		Features: [][]int{
			{1, 0, 1},
			{1, 0, 0},
			{0, 1, 1},
			{0, 1, 0},
			{1, 1, 1},
			{0, 0, 1},
		},
		Labels: []int{0, 0, 1, 1, 2, 2},
	})
	require.NoError(t, err)
	return dataset.Preprocess(ds)
}

func TestStream(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "X", StreamX.String())
	assert.Equal(t, "E", StreamE.String())

	s, err := ParseStream("E")
	require.NoError(t, err)
	assert.Equal(t, StreamE, s)

	_, err = ParseStream("Y")
	assert.Error(t, err)
}

func TestParams(t *testing.T) {
	t.Parallel()

	t.Run("GradNorm", func(t *testing.T) {
		a := NewParam("a", 1)
		b := NewParam("b", 1)
		a.Grad[0] = 3
		b.Grad[0] = 4
		p := Params{a, b}
		assert.InDelta(t, 5.0, p.GradNorm(), 1e-12)

		p.ZeroGrad()
		assert.Zero(t, p.GradNorm())
	})

	t.Run("SnapshotIsACopy", func(t *testing.T) {
		w := NewParam("w", 2, 2)
		copy(w.Value, []float64{1, 2, 3, 4})
		p := Params{w}

		snap := p.Snapshot()
		w.Value[0] = 100

		assert.Equal(t, []float64{1, 2, 3, 4}, snap["w"])

		clone := snap.Clone()
		clone["w"][1] = -1
		assert.Equal(t, 2.0, snap["w"][1])
	})

	t.Run("Restore", func(t *testing.T) {
		w := NewParam("w", 3)
		p := Params{w}
		require.NoError(t, p.Restore(Snapshot{"w": {7, 8, 9}}))
		assert.Equal(t, []float64{7, 8, 9}, w.Value)

		assert.ErrorIs(t, p.Restore(Snapshot{"w": {1}}), ErrShapeMismatch)
		assert.ErrorIs(t, p.Restore(Snapshot{"v": {1, 2, 3}}), ErrShapeMismatch)
		assert.ErrorIs(t, p.Restore(Snapshot{}), ErrShapeMismatch)
	})
}

func allPairs(t *testing.T, f *dataset.Features) batching.Batch {
	t.Helper()
	idx, err := batching.NewEdgeIndex(len(f.Y))
	require.NoError(t, err)
	val, err := batching.NewValLoader(idx, f.E, idx.Len())
	require.NoError(t, err)

	var out batching.Batch
	require.NoError(t, val.Epoch(context.Background(), func(b batching.Batch) error {
		out = b
		return nil
	}))
	return out
}

func TestBaseline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("BackwardNeedsForward", func(t *testing.T) {
		m := NewBaseline(testFeatures(t))
		assert.ErrorIs(t, m.Backward(), ErrNoForward)
	})

	t.Run("LossesNonNegative", func(t *testing.T) {
		f := testFeatures(t)
		m := NewBaseline(f)
		losses, err := m.StepLosses(ctx, NewState(f), allPairs(t, f))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, losses.X, 0.0)
		assert.GreaterOrEqual(t, losses.E, 0.0)
	})

	t.Run("GradientsMatchFiniteDifferences", func(t *testing.T) {
		f := testFeatures(t)
		st := NewState(f)
		b := allPairs(t, f)
		m := NewBaseline(f)

		// Move away from the symmetric initialization.
		for _, s := range Streams {
			for _, p := range m.Params(s) {
				for i := range p.Value {
					p.Value[i] += 0.1 * float64(i%5-2)
				}
			}
		}

		_, err := m.StepLosses(ctx, st, b)
		require.NoError(t, err)
		require.NoError(t, m.Backward())

		const h = 1e-6
		for _, s := range Streams {
			for _, p := range m.Params(s) {
				for i := range p.Value {
					orig := p.Value[i]
					p.Value[i] = orig + h
					up, err := m.StepLosses(ctx, st, b)
					require.NoError(t, err)
					p.Value[i] = orig - h
					down, err := m.StepLosses(ctx, st, b)
					require.NoError(t, err)
					p.Value[i] = orig

					numeric := ((up.X + up.E) - (down.X + down.E)) / (2 * h)
					assert.InDelta(t, numeric, p.Grad[i], 1e-5, "%s[%d]", p.Name, i)
				}
			}
		}
	})

	t.Run("BackwardAccumulatesIntoBothStreams", func(t *testing.T) {
		f := testFeatures(t)
		m := NewBaseline(f)
		_, err := m.StepLosses(ctx, NewState(f), allPairs(t, f))
		require.NoError(t, err)
		require.NoError(t, m.Backward())

		assert.Greater(t, m.Params(StreamX).GradNorm(), 0.0)
		assert.Greater(t, m.Params(StreamE).GradNorm(), 0.0)
		assert.ErrorIs(t, m.Backward(), ErrNoForward)
	})

	t.Run("Validate", func(t *testing.T) {
		f := testFeatures(t)
		m := NewBaseline(f)
		idx, err := batching.NewEdgeIndex(len(f.Y))
		require.NoError(t, err)
		val, err := batching.NewValLoader(idx, f.E, 4)
		require.NoError(t, err)

		res, err := m.Validate(ctx, NewState(f), val)
		require.NoError(t, err)
		require.Len(t, res, 2)
		for _, s := range Streams {
			v := res[s]
			assert.GreaterOrEqual(t, v.LogP0, 0.0)
			assert.GreaterOrEqual(t, v.DenoiseMatch, -1e-12)
			assert.InDelta(t, v.LogP0+v.DenoiseMatch, v.NLL, 1e-12)
		}
		assert.Greater(t, res[StreamX].DenoiseMatch, 0.0)
	})

	t.Run("ValidateAtEmpiricalConditional", func(t *testing.T) {
		f := testFeatures(t)
		m := NewBaseline(f)
		b := allPairs(t, f)

		// Point the edge logits at the empirical type distribution per flag.
		var counts [2][2]float64
		for k := range b.Dst {
			counts[sameClass(f.Y, b.Dst[k], b.Src[k])][b.Labels[k]]++
		}
		logits := m.Params(StreamE)[0].Value
		for g := 0; g < 2; g++ {
			n := counts[g][0] + counts[g][1]
			for ty := 0; ty < 2; ty++ {
				logits[g*2+ty] = math.Log(counts[g][ty]/n + 1e-15)
			}
		}

		idx, err := batching.NewEdgeIndex(len(f.Y))
		require.NoError(t, err)
		val, err := batching.NewValLoader(idx, f.E, 5)
		require.NoError(t, err)

		res, err := m.Validate(ctx, NewState(f), val)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, res[StreamE].DenoiseMatch, 1e-9)
	})

	t.Run("Cancelled", func(t *testing.T) {
		f := testFeatures(t)
		m := NewBaseline(f)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := m.StepLosses(cctx, NewState(f), allPairs(t, f))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
