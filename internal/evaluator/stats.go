package evaluator

import (
	"fmt"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/Benny93/graphdiff/internal/graph"
)

// TriangleCount returns the number of triangles in the undirected form of
// g: the sum of per-node triangle counts divided by three.
func TriangleCount(g *graph.Graph) float64 {
	ug := g.ToUndirected()

	total := 0
	nodes := ug.Nodes()
	for nodes.Next() {
		total += nodeTriangles(ug, nodes.Node().ID())
	}
	return float64(total) / 3
}

// nodeTriangles counts the pairs of neighbors of id that are themselves
// adjacent.
func nodeTriangles(ug *simple.UndirectedGraph, id int64) int {
	var nbrs []int64
	it := ug.From(id)
	for it.Next() {
		nbrs = append(nbrs, it.Node().ID())
	}

	count := 0
	for i := 0; i < len(nbrs); i++ {
		for j := i + 1; j < len(nbrs); j++ {
			if ug.HasEdgeBetween(nbrs[i], nbrs[j]) {
				count++
			}
		}
	}
	return count
}

// LinkxHomophily computes the class-insensitive edge homophily of Lim et al.
// over the directed edges of g:
//
//	1/(C-1) * sum_k max(0, r_k - |C_k|/|V|)
//
// where r_k is the share of in-edges of class-k nodes that come from class
// k. A class whose nodes have no in-edges contributes nothing.
func LinkxHomophily(g *graph.Graph, y []int) (float64, error) {
	n := g.NumNodes()
	if len(y) != n {
		return 0, fmt.Errorf("labels cover %d nodes, graph has %d", len(y), n)
	}

	c := numClasses(y)
	if c < 2 {
		return 0, fmt.Errorf("%w: got %d", ErrTooFewClasses, c)
	}

	sameDeg := make([]int, n)
	for _, e := range g.Edges() {
		if y[e.Src] == y[e.Dst] {
			sameDeg[e.Dst]++
		}
	}
	deg := g.InDegrees()

	sameByClass := make([]int, c)
	degByClass := make([]int, c)
	sizeByClass := make([]int, c)
	for v, k := range y {
		sameByClass[k] += sameDeg[v]
		degByClass[k] += deg[v]
		sizeByClass[k]++
	}

	value := 0.0
	for k := 0; k < c; k++ {
		if degByClass[k] == 0 {
			continue
		}
		r := float64(sameByClass[k]) / float64(degByClass[k])
		share := float64(sizeByClass[k]) / float64(n)
		value += max(0, r-share)
	}
	return value / float64(c-1), nil
}
