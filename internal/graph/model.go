// Package graph provides the attributed-graph data model for graphdiff.
//
// Nodes are dense integer ids in [0, N). Edges are directed; undirected
// semantics are obtained through ToBidirected or ToUndirected. Split masks
// (train/val/test) are attached as node data.
package graph

// Edge is a directed edge between two node ids.
type Edge struct {
	// Src is the source node id.
	Src int `json:"src"`

	// Dst is the destination node id.
	Dst int `json:"dst"`
}

// Reverse returns the edge pointing the other way.
func (e Edge) Reverse() Edge {
	return Edge{Src: e.Dst, Dst: e.Src}
}

// Masks holds the node-classification split. For every node at most one of
// Train, Val and Test is true.
type Masks struct {
	Train []bool `json:"train"`
	Val   []bool `json:"val"`
	Test  []bool `json:"test"`
}

// NewMasks allocates empty masks over n nodes.
func NewMasks(n int) Masks {
	return Masks{
		Train: make([]bool, n),
		Val:   make([]bool, n),
		Test:  make([]bool, n),
	}
}

// Counts returns the number of nodes in each split.
func (m Masks) Counts() (train, val, test int) {
	for i := range m.Train {
		if m.Train[i] {
			train++
		}
		if m.Val[i] {
			val++
		}
		if m.Test[i] {
			test++
		}
	}
	return train, val, test
}

// Disjoint reports whether no node belongs to more than one split.
func (m Masks) Disjoint() bool {
	for i := range m.Train {
		n := 0
		for _, set := range []bool{m.Train[i], m.Val[i], m.Test[i]} {
			if set {
				n++
			}
		}
		if n > 1 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the masks.
func (m Masks) Clone() Masks {
	return Masks{
		Train: append([]bool(nil), m.Train...),
		Val:   append([]bool(nil), m.Val...),
		Test:  append([]bool(nil), m.Test...),
	}
}
