// Package evaluator computes structural statistics of attributed graphs:
// stratified split masks, bounded subgraph sampling, triangle counts,
// Louvain communities and LINKX class homophily.
package evaluator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	randv2 "math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/Benny93/graphdiff/internal/dataset"
	"github.com/Benny93/graphdiff/internal/graph"
)

// MaxEdges caps the number of directed edges triangle counting runs on.
const MaxEdges = 20000

// ErrTooFewClasses is returned by LinkxHomophily when the labels span fewer
// than two classes. The measure divides by C-1 and is undefined there.
var ErrTooFewClasses = errors.New("homophily needs at least two classes")

// Summary holds the statistics of one graph.
type Summary struct {
	NumNodes int `json:"num_nodes"`
	NumEdges int `json:"num_edges"`

	// Sampled is true when TriangleCount and Communities were computed on
	// a subgraph.
	Sampled      bool `json:"sampled"`
	SampledEdges int  `json:"sampled_edges"`

	TriangleCount float64 `json:"triangle_count"`
	Communities   int     `json:"communities"`
	Modularity    float64 `json:"modularity"`
	Homophily     float64 `json:"homophily"`
	NumClasses    int     `json:"num_classes"`

	// XLabels is the N x F arg-max collapse of the attribute tensor.
	XLabels *mat.Dense `json:"-"`
}

// Evaluator holds the statistics of a real graph so generated graphs can
// be compared against it.
type Evaluator struct {
	Kind      dataset.Kind
	EdgeLimit int
	Real      Summary

	rng *rand.Rand
}

// New builds an evaluator for the real graph g. When the kind has no native
// split, masks are attached to g in place. rng drives every random draw.
func New(kind dataset.Kind, g *graph.Graph, x3d []*mat.Dense, yOneHot *mat.Dense, rng *rand.Rand) (*Evaluator, error) {
	if _, err := dataset.ParseKind(kind.String()); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("evaluator needs a random source")
	}

	ev := &Evaluator{
		Kind:      kind,
		EdgeLimit: min(g.NumEdges(), MaxEdges),
		rng:       rng,
	}

	if !kind.HasNativeSplit() {
		if err := ev.AddMask(g, yOneHot); err != nil {
			return nil, fmt.Errorf("adding masks: %w", err)
		}
	}

	summary, err := ev.Summarize(g, x3d, yOneHot)
	if err != nil {
		return nil, fmt.Errorf("summarizing real graph: %w", err)
	}
	ev.Real = summary
	return ev, nil
}

// AddMask assigns every class's nodes to train, val and test following the
// kind's quota table. A class with fewer members than its quota gets
// truncated slices.
func (ev *Evaluator) AddMask(g *graph.Graph, yOneHot *mat.Dense) error {
	n := g.NumNodes()
	rows, classes := yOneHot.Dims()
	if rows != n {
		return fmt.Errorf("labels cover %d nodes, graph has %d", rows, n)
	}

	quota := ev.Kind.Quota()
	masks := graph.NewMasks(n)

	for c := 0; c < classes; c++ {
		var members []int
		for v := 0; v < n; v++ {
			if yOneHot.At(v, c) == 1 {
				members = append(members, v)
			}
		}
		perm := ev.rng.Perm(len(members))
		shuffled := make([]int, len(members))
		for i, p := range perm {
			shuffled[i] = members[p]
		}

		valCount, err := quota.ValCount(c)
		if err != nil {
			return err
		}
		trainEnd := min(quota.Train, len(shuffled))
		valEnd := min(trainEnd+valCount, len(shuffled))
		testCount, err := quota.TestCount(c, len(shuffled)-valEnd)
		if err != nil {
			return err
		}
		testEnd := min(valEnd+testCount, len(shuffled))

		for _, v := range shuffled[:trainEnd] {
			masks.Train[v] = true
		}
		for _, v := range shuffled[trainEnd:valEnd] {
			masks.Val[v] = true
		}
		for _, v := range shuffled[valEnd:testEnd] {
			masks.Test[v] = true
		}
	}

	return g.SetMasks(masks)
}

// SampleSubgraph draws EdgeLimit/2 upper-triangular edges without
// replacement and returns them bidirected over the same node set.
func (ev *Evaluator) SampleSubgraph(g *graph.Graph) *graph.Graph {
	candidates := g.UpperTriangle()
	perm := ev.rng.Perm(len(candidates))
	take := min(ev.EdgeLimit/2, len(candidates))

	sub := graph.New(g.NumNodes())
	for _, idx := range perm[:take] {
		e := candidates[idx]
		sub.AddEdge(e.Src, e.Dst)
	}
	return sub.ToBidirected()
}

// Summarize computes the statistics of g. Triangles are counted on a
// sampled subgraph when g has more than EdgeLimit edges; homophily always
// uses the full graph.
func (ev *Evaluator) Summarize(g *graph.Graph, x3d []*mat.Dense, yOneHot *mat.Dense) (Summary, error) {
	s := Summary{
		NumNodes: g.NumNodes(),
		NumEdges: g.NumEdges(),
	}
	if len(x3d) > 0 {
		s.XLabels = dataset.CollapseX(x3d)
	}

	tg := g
	if s.NumEdges > ev.EdgeLimit {
		tg = ev.SampleSubgraph(g)
		s.Sampled = true
		s.SampledEdges = tg.NumEdges()
	}
	s.TriangleCount = TriangleCount(tg)
	s.Communities, s.Modularity = Communities(tg.ToUndirected(), randv2.NewPCG(ev.rng.Uint64(), ev.rng.Uint64()))

	y := dataset.ArgMaxRows(yOneHot)
	h, err := LinkxHomophily(g, y)
	if err != nil {
		return Summary{}, err
	}
	s.Homophily = h
	s.NumClasses = numClasses(y)
	return s, nil
}

// Report compares a generated graph with the real one.
type Report struct {
	Real      Summary `json:"real"`
	Generated Summary `json:"generated"`

	TriangleDiff   float64 `json:"triangle_diff"`
	HomophilyDiff  float64 `json:"homophily_diff"`
	ModularityDiff float64 `json:"modularity_diff"`
	EdgeDiff       int     `json:"edge_diff"`
}

// Compare summarizes a generated graph and reports absolute differences to
// the real one.
func (ev *Evaluator) Compare(g *graph.Graph, x3d []*mat.Dense, yOneHot *mat.Dense) (Report, error) {
	gen, err := ev.Summarize(g, x3d, yOneHot)
	if err != nil {
		return Report{}, fmt.Errorf("summarizing generated graph: %w", err)
	}
	edgeDiff := gen.NumEdges - ev.Real.NumEdges
	if edgeDiff < 0 {
		edgeDiff = -edgeDiff
	}
	return Report{
		Real:           ev.Real,
		Generated:      gen,
		TriangleDiff:   math.Abs(gen.TriangleCount - ev.Real.TriangleCount),
		HomophilyDiff:  math.Abs(gen.Homophily - ev.Real.Homophily),
		ModularityDiff: math.Abs(gen.Modularity - ev.Real.Modularity),
		EdgeDiff:       edgeDiff,
	}, nil
}

func numClasses(y []int) int {
	c := 0
	for _, label := range y {
		c = max(c, label+1)
	}
	return c
}
