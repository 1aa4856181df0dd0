package dataset

// EdgeTypes is a sparse one-hot edge-type tensor over all node pairs.
//
// Type 0 means "no edge". Only the upper triangle is stored; Type(u, v) and
// Type(v, u) always agree, so callers may read a pair in either endpoint
// order.
type EdgeTypes struct {
	numNodes int
	numTypes int
	types    map[int64]int
}

// NewEdgeTypes allocates an empty tensor over n nodes and k edge types
// (including the no-edge type 0).
func NewEdgeTypes(n, k int) *EdgeTypes {
	return &EdgeTypes{
		numNodes: n,
		numTypes: max(k, 2),
		types:    make(map[int64]int),
	}
}

func (e *EdgeTypes) key(u, v int) int64 {
	if u > v {
		u, v = v, u
	}
	return int64(u)*int64(e.numNodes) + int64(v)
}

// Set records type t for the unordered pair {u, v}. Setting type 0 clears it.
func (e *EdgeTypes) Set(u, v, t int) {
	if t == 0 {
		delete(e.types, e.key(u, v))
		return
	}
	e.types[e.key(u, v)] = t
}

// Type returns the edge type of the pair (row, col).
func (e *EdgeTypes) Type(row, col int) int {
	return e.types[e.key(row, col)]
}

// OneHot returns the one-hot encoding of Type(row, col).
func (e *EdgeTypes) OneHot(row, col int) []float64 {
	out := make([]float64, e.numTypes)
	out[e.Type(row, col)] = 1
	return out
}

// NumNodes returns the node count the tensor is defined over.
func (e *EdgeTypes) NumNodes() int { return e.numNodes }

// NumTypes returns the number of edge types including type 0.
func (e *EdgeTypes) NumTypes() int { return e.numTypes }

// NumEdges returns the number of unordered pairs with a non-zero type.
func (e *EdgeTypes) NumEdges() int { return len(e.types) }

// PairCounts counts the edge types over all N(N-1)/2 unordered pairs.
func (e *EdgeTypes) PairCounts() []float64 {
	counts := make([]float64, e.numTypes)
	n := int64(e.numNodes)
	total := float64(n * (n - 1) / 2)
	for k, t := range e.types {
		if k/n == k%n {
			continue
		}
		counts[t]++
	}
	var typed float64
	for _, c := range counts[1:] {
		typed += c
	}
	counts[0] = total - typed
	return counts
}
