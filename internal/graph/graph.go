package graph

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/graph/simple"
)

// Graph is an in-memory directed graph over N integer-identified nodes.
//
// Duplicate edges are ignored. Secondary indexes (outgoing and incoming
// adjacency) are kept in sync by AddEdge so that degree and neighbor
// queries are O(result) rather than O(|E|).
type Graph struct {
	mu       sync.RWMutex
	numNodes int
	edges    []Edge
	outgoing []map[int]struct{}
	incoming []map[int]struct{}
	masks    *Masks
}

// New creates an empty graph with n nodes.
func New(n int) *Graph {
	g := &Graph{
		numNodes: n,
		outgoing: make([]map[int]struct{}, n),
		incoming: make([]map[int]struct{}, n),
	}
	return g
}

// FromEdges creates a graph with n nodes and the given edges.
func FromEdges(n int, edges []Edge) (*Graph, error) {
	g := New(n)
	for _, e := range edges {
		if err := g.checkEdge(e); err != nil {
			return nil, err
		}
		g.addEdgeLocked(e)
	}
	return g, nil
}

func (g *Graph) checkEdge(e Edge) error {
	if e.Src < 0 || e.Src >= g.numNodes || e.Dst < 0 || e.Dst >= g.numNodes {
		return fmt.Errorf("edge (%d, %d) out of range for %d nodes", e.Src, e.Dst, g.numNodes)
	}
	return nil
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int {
	return g.numNodes
}

// NumEdges returns the number of directed edges.
func (g *Graph) NumEdges() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// AddEdge inserts a directed edge. Returns false if the edge already
// existed. Panics if an endpoint is out of range.
func (g *Graph) AddEdge(src, dst int) bool {
	e := Edge{Src: src, Dst: dst}
	if err := g.checkEdge(e); err != nil {
		panic(err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(e)
}

func (g *Graph) addEdgeLocked(e Edge) bool {
	if _, ok := g.outgoing[e.Src][e.Dst]; ok {
		return false
	}
	if g.outgoing[e.Src] == nil {
		g.outgoing[e.Src] = make(map[int]struct{})
	}
	if g.incoming[e.Dst] == nil {
		g.incoming[e.Dst] = make(map[int]struct{})
	}
	g.outgoing[e.Src][e.Dst] = struct{}{}
	g.incoming[e.Dst][e.Src] = struct{}{}
	g.edges = append(g.edges, e)
	return true
}

// HasEdge reports whether the directed edge src->dst exists.
func (g *Graph) HasEdge(src, dst int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if src < 0 || src >= g.numNodes {
		return false
	}
	_, ok := g.outgoing[src][dst]
	return ok
}

// Edges returns a copy of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// InDegrees returns the in-degree of every node.
func (g *Graph) InDegrees() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	deg := make([]int, g.numNodes)
	for v, in := range g.incoming {
		deg[v] = len(in)
	}
	return deg
}

// Successors returns the sorted out-neighbors of v.
func (g *Graph) Successors(v int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.outgoing[v])
}

// Predecessors returns the sorted in-neighbors of v.
func (g *Graph) Predecessors(v int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.incoming[v])
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// UpperTriangle returns every edge (src, dst) with src < dst in row-major
// order. These are exactly the non-zero entries of triu(A, 1) for the
// adjacency matrix A[src][dst].
func (g *Graph) UpperTriangle() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge
	for src := 0; src < g.numNodes; src++ {
		for _, dst := range sortedKeys(g.outgoing[src]) {
			if dst > src {
				out = append(out, Edge{Src: src, Dst: dst})
			}
		}
	}
	return out
}

// ToBidirected returns a new graph over the same nodes in which every edge
// also appears reversed. Masks are not carried over.
func (g *Graph) ToBidirected() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := New(g.numNodes)
	for _, e := range g.edges {
		out.addEdgeLocked(e)
		out.addEdgeLocked(e.Reverse())
	}
	return out
}

// IsSymmetric reports whether u->v exists for every v->u.
func (g *Graph) IsSymmetric() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.edges {
		if _, ok := g.outgoing[e.Dst][e.Src]; !ok {
			return false
		}
	}
	return true
}

// ToUndirected converts the graph into a gonum undirected simple graph.
// Self-loops are dropped and antiparallel edges collapse into one.
func (g *Graph) ToUndirected() *simple.UndirectedGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ug := simple.NewUndirectedGraph()
	for v := 0; v < g.numNodes; v++ {
		ug.AddNode(simple.Node(int64(v)))
	}
	for _, e := range g.edges {
		if e.Src == e.Dst {
			continue
		}
		ug.SetEdge(simple.Edge{F: simple.Node(int64(e.Src)), T: simple.Node(int64(e.Dst))})
	}
	return ug
}

// SetMasks attaches split masks to the graph.
func (g *Graph) SetMasks(m Masks) error {
	if len(m.Train) != g.numNodes || len(m.Val) != g.numNodes || len(m.Test) != g.numNodes {
		return fmt.Errorf("masks cover %d/%d/%d nodes, graph has %d",
			len(m.Train), len(m.Val), len(m.Test), g.numNodes)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.masks = &m
	return nil
}

// Masks returns the attached split masks, if any.
func (g *Graph) Masks() (Masks, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.masks == nil {
		return Masks{}, false
	}
	return *g.masks, true
}
