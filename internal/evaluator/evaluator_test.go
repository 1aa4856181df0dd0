package evaluator

import (
	"math/rand"
	randv2 "math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/Benny93/graphdiff/internal/dataset"
	"github.com/Benny93/graphdiff/internal/graph"
)

func oneHot(y []int) *mat.Dense {
	c := 0
	for _, label := range y {
		c = max(c, label+1)
	}
	m := mat.NewDense(len(y), c, nil)
	for v, label := range y {
		m.Set(v, label, 1)
	}
	return m
}

func undirected(t *testing.T, n int, pairs ...[2]int) *graph.Graph {
	t.Helper()
	g := graph.New(n)
	for _, p := range pairs {
		g.AddEdge(p[0], p[1])
		g.AddEdge(p[1], p[0])
	}
	return g
}

func complete(n int) *graph.Graph {
	g := graph.New(n)
	for u := 0; u < n; u++ {
		for v := 0; v < n; v++ {
			if u != v {
				g.AddEdge(u, v)
			}
		}
	}
	return g
}

func TestTriangleCount(t *testing.T) {
	t.Parallel()

	t.Run("Triangle", func(t *testing.T) {
		g := undirected(t, 3, [2]int{0, 1}, [2]int{1, 2}, [2]int{0, 2})
		assert.Equal(t, 1.0, TriangleCount(g))
	})

	t.Run("Path", func(t *testing.T) {
		g := undirected(t, 3, [2]int{0, 1}, [2]int{1, 2})
		assert.Equal(t, 0.0, TriangleCount(g))
	})

	t.Run("OneDirectionSuffices", func(t *testing.T) {
		g := graph.New(3)
		g.AddEdge(0, 1)
		g.AddEdge(1, 2)
		g.AddEdge(2, 0)
		assert.Equal(t, 1.0, TriangleCount(g))
	})

	t.Run("K4", func(t *testing.T) {
		assert.Equal(t, 4.0, TriangleCount(complete(4)))
	})

	t.Run("SelfLoopsIgnored", func(t *testing.T) {
		g := undirected(t, 3, [2]int{0, 1}, [2]int{1, 2})
		g.AddEdge(1, 1)
		assert.Equal(t, 0.0, TriangleCount(g))
	})
}

func TestCommunities(t *testing.T) {
	t.Parallel()

	t.Run("TwoDisjointTriangles", func(t *testing.T) {
		g := undirected(t, 6, [2]int{0, 1}, [2]int{1, 2}, [2]int{0, 2}, [2]int{3, 4}, [2]int{4, 5}, [2]int{3, 5})

		count, q := Communities(g.ToUndirected(), randv2.NewPCG(1, 2))
		assert.Equal(t, 2, count)
		assert.InDelta(t, 0.5, q, 1e-9)
	})

	t.Run("NoEdges", func(t *testing.T) {
		count, q := Communities(graph.New(4).ToUndirected(), randv2.NewPCG(1, 2))
		assert.Equal(t, 4, count)
		assert.Zero(t, q)
	})
}

func TestLinkxHomophily(t *testing.T) {
	t.Parallel()

	t.Run("SameClassEdgesOnly", func(t *testing.T) {
		g := undirected(t, 4, [2]int{0, 1}, [2]int{2, 3})
		h, err := LinkxHomophily(g, []int{0, 0, 1, 1})
		require.NoError(t, err)
		// Both classes add 1 - 2/4 and C-1 = 1.
		assert.InDelta(t, 1.0, h, 1e-12)
	})

	t.Run("RatioEqualsShare", func(t *testing.T) {
		// Every node receives one edge from each node, itself included, so
		// half of its in-edges are same-class.
		g := complete(4)
		for v := 0; v < 4; v++ {
			g.AddEdge(v, v)
		}
		h, err := LinkxHomophily(g, []int{0, 0, 1, 1})
		require.NoError(t, err)
		assert.Equal(t, 0.0, h)
	})

	t.Run("OneHomophilousClass", func(t *testing.T) {
		// Class 0 only links internally; class 1 only receives from class 0.
		g := graph.New(4)
		g.AddEdge(0, 1)
		g.AddEdge(1, 0)
		g.AddEdge(0, 2)
		g.AddEdge(1, 3)
		h, err := LinkxHomophily(g, []int{0, 0, 1, 1})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, h, 1e-12)
	})

	t.Run("CrossClassEdgesOnly", func(t *testing.T) {
		g := undirected(t, 4, [2]int{0, 2}, [2]int{1, 3})
		h, err := LinkxHomophily(g, []int{0, 0, 1, 1})
		require.NoError(t, err)
		assert.Equal(t, 0.0, h)
	})

	t.Run("IsolatedClassContributesNothing", func(t *testing.T) {
		g := undirected(t, 5, [2]int{0, 1}, [2]int{2, 3})
		h, err := LinkxHomophily(g, []int{0, 0, 1, 1, 2})
		require.NoError(t, err)
		// Classes 0 and 1 each add 1 - 2/5.
		assert.InDelta(t, 2*(1-0.4)/2, h, 1e-12)
	})

	t.Run("SingleClass", func(t *testing.T) {
		g := undirected(t, 3, [2]int{0, 1})
		_, err := LinkxHomophily(g, []int{0, 0, 0})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTooFewClasses)
	})

	t.Run("LabelCountMismatch", func(t *testing.T) {
		g := undirected(t, 3, [2]int{0, 1})
		_, err := LinkxHomophily(g, []int{0, 1})
		require.Error(t, err)
	})
}

func classLabels(sizes ...int) []int {
	var y []int
	for c, n := range sizes {
		for i := 0; i < n; i++ {
			y = append(y, c)
		}
	}
	return y
}

func TestAddMask(t *testing.T) {
	t.Parallel()

	t.Run("UniformQuota", func(t *testing.T) {
		y := classLabels(60, 10)
		g := graph.New(len(y))
		ev := &Evaluator{Kind: dataset.AmazonPhoto, rng: rand.New(rand.NewSource(1))}

		require.NoError(t, ev.AddMask(g, oneHot(y)))

		m, ok := g.Masks()
		require.True(t, ok)
		assert.True(t, m.Disjoint())

		counts := map[int][3]int{}
		for v, c := range y {
			got := counts[c]
			if m.Train[v] {
				got[0]++
			}
			if m.Val[v] {
				got[1]++
			}
			if m.Test[v] {
				got[2]++
			}
			counts[c] = got
		}
		assert.Equal(t, [3]int{20, 30, 10}, counts[0])
		// Ten members cannot fill the train quota: val and test stay empty.
		assert.Equal(t, [3]int{10, 0, 0}, counts[1])
	})

	t.Run("FixedTables", func(t *testing.T) {
		quota := dataset.Cora.Quota()
		sizes := make([]int, len(quota.Val))
		for c := range sizes {
			sizes[c] = quota.Train + quota.Val[c] + quota.Test[c] + 5
		}
		y := classLabels(sizes...)
		g := graph.New(len(y))
		ev := &Evaluator{Kind: dataset.Cora, rng: rand.New(rand.NewSource(7))}

		require.NoError(t, ev.AddMask(g, oneHot(y)))

		m, _ := g.Masks()
		assert.True(t, m.Disjoint())
		for c := range sizes {
			var train, val, test int
			for v, label := range y {
				if label != c {
					continue
				}
				if m.Train[v] {
					train++
				}
				if m.Val[v] {
					val++
				}
				if m.Test[v] {
					test++
				}
			}
			assert.Equal(t, quota.Train, train, "class %d", c)
			assert.Equal(t, quota.Val[c], val, "class %d", c)
			assert.Equal(t, quota.Test[c], test, "class %d", c)
		}
	})

	t.Run("ClassOutsideTable", func(t *testing.T) {
		y := classLabels(1, 1, 1, 1, 1, 1, 1)
		g := graph.New(len(y))
		ev := &Evaluator{Kind: dataset.Citeseer, rng: rand.New(rand.NewSource(1))}
		require.Error(t, ev.AddMask(g, oneHot(y)))
	})

	t.Run("SameSeedSameMasks", func(t *testing.T) {
		y := classLabels(40, 40)
		g1 := graph.New(len(y))
		g2 := graph.New(len(y))
		ev1 := &Evaluator{Kind: dataset.AmazonComputer, rng: rand.New(rand.NewSource(3))}
		ev2 := &Evaluator{Kind: dataset.AmazonComputer, rng: rand.New(rand.NewSource(3))}
		require.NoError(t, ev1.AddMask(g1, oneHot(y)))
		require.NoError(t, ev2.AddMask(g2, oneHot(y)))

		m1, _ := g1.Masks()
		m2, _ := g2.Masks()
		assert.Equal(t, m1, m2)
	})

	t.Run("RowMismatch", func(t *testing.T) {
		g := graph.New(3)
		ev := &Evaluator{Kind: dataset.AmazonPhoto, rng: rand.New(rand.NewSource(1))}
		require.Error(t, ev.AddMask(g, oneHot([]int{0, 1})))
	})
}

func TestSampleSubgraph(t *testing.T) {
	t.Parallel()

	g := complete(12)
	ev := &Evaluator{Kind: dataset.AmazonPhoto, EdgeLimit: 21, rng: rand.New(rand.NewSource(5))}

	sub := ev.SampleSubgraph(g)

	assert.Equal(t, g.NumNodes(), sub.NumNodes())
	assert.LessOrEqual(t, sub.NumEdges(), ev.EdgeLimit)
	assert.Equal(t, 20, sub.NumEdges())
	assert.True(t, sub.IsSymmetric())
	for _, e := range sub.Edges() {
		assert.True(t, g.HasEdge(e.Src, e.Dst))
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	y := []int{0, 0, 0, 1, 1, 1}
	g := undirected(t, 6, [2]int{0, 1}, [2]int{1, 2}, [2]int{0, 2}, [2]int{3, 4}, [2]int{2, 3})

	t.Run("Full", func(t *testing.T) {
		ev := &Evaluator{Kind: dataset.Cora, EdgeLimit: g.NumEdges(), rng: rand.New(rand.NewSource(1))}
		s, err := ev.Summarize(g, nil, oneHot(y))
		require.NoError(t, err)

		assert.False(t, s.Sampled)
		assert.Equal(t, 6, s.NumNodes)
		assert.Equal(t, 10, s.NumEdges)
		assert.Equal(t, 1.0, s.TriangleCount)
		assert.Equal(t, 2, s.NumClasses)
		assert.GreaterOrEqual(t, s.Communities, 2)
		assert.Positive(t, s.Modularity)
		assert.Nil(t, s.XLabels)
	})

	t.Run("Sampled", func(t *testing.T) {
		ev := &Evaluator{Kind: dataset.Cora, EdgeLimit: 4, rng: rand.New(rand.NewSource(1))}
		s, err := ev.Summarize(g, nil, oneHot(y))
		require.NoError(t, err)

		assert.True(t, s.Sampled)
		assert.Equal(t, 4, s.SampledEdges)
		// Two undirected edges cannot close a triangle.
		assert.Equal(t, 0.0, s.TriangleCount)
		assert.Equal(t, 10, s.NumEdges)
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	y := classLabels(25, 25)
	x3d := []*mat.Dense{mat.NewDense(len(y), 2, nil)}
	for v := range y {
		x3d[0].Set(v, v%2, 1)
	}

	t.Run("AddsMasksWithoutNativeSplit", func(t *testing.T) {
		g := undirected(t, len(y), [2]int{0, 1}, [2]int{1, 2}, [2]int{0, 2}, [2]int{30, 31})
		ev, err := New(dataset.AmazonPhoto, g, x3d, oneHot(y), rand.New(rand.NewSource(1)))
		require.NoError(t, err)

		_, ok := g.Masks()
		assert.True(t, ok)
		assert.Equal(t, g.NumEdges(), ev.EdgeLimit)
		assert.Equal(t, 1.0, ev.Real.TriangleCount)
		assert.False(t, ev.Real.Sampled)
		require.NotNil(t, ev.Real.XLabels)
		assert.Equal(t, 1.0, ev.Real.XLabels.At(1, 0))
	})

	t.Run("KeepsNativeSplit", func(t *testing.T) {
		g := undirected(t, len(y), [2]int{0, 1}, [2]int{30, 31})
		_, err := New(dataset.Cora, g, x3d, oneHot(y), rand.New(rand.NewSource(1)))
		require.NoError(t, err)

		_, ok := g.Masks()
		assert.False(t, ok)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		g := undirected(t, len(y), [2]int{0, 1})
		_, err := New(dataset.Kind(42), g, x3d, oneHot(y), rand.New(rand.NewSource(1)))
		require.Error(t, err)
		assert.ErrorIs(t, err, dataset.ErrUnknownDataset)
	})

	t.Run("SingleClass", func(t *testing.T) {
		single := classLabels(4)
		g := undirected(t, 4, [2]int{0, 1})
		_, err := New(dataset.Cora, g, nil, oneHot(single), rand.New(rand.NewSource(1)))
		require.ErrorIs(t, err, ErrTooFewClasses)
	})

	t.Run("Compare", func(t *testing.T) {
		g := undirected(t, len(y), [2]int{0, 1}, [2]int{1, 2}, [2]int{0, 2})
		ev, err := New(dataset.Cora, g, x3d, oneHot(y), rand.New(rand.NewSource(1)))
		require.NoError(t, err)

		gen := undirected(t, len(y), [2]int{0, 1}, [2]int{1, 2})
		r, err := ev.Compare(gen, x3d, oneHot(y))
		require.NoError(t, err)
		assert.Equal(t, 1.0, r.TriangleDiff)
		assert.Equal(t, 2, r.EdgeDiff)
		assert.Equal(t, ev.Real, r.Real)
	})
}
