// Package batching enumerates every unordered node pair of a graph and
// serves them as mini-batches for training and validation.
package batching

import (
	"fmt"
	"math"
)

// EdgeIndex is the row-major upper triangle of an N x N pair matrix: every
// pair (i, j) with i < j exactly once. Pairs are computed on demand so the
// N(N-1)/2 entries are never materialized unless Pairs is called.
type EdgeIndex struct {
	n int
}

// NewEdgeIndex builds the pair index over n nodes.
func NewEdgeIndex(n int) (*EdgeIndex, error) {
	if n < 2 {
		return nil, fmt.Errorf("edge index needs at least 2 nodes, got %d", n)
	}
	return &EdgeIndex{n: n}, nil
}

// NumNodes returns N.
func (x *EdgeIndex) NumNodes() int { return x.n }

// Len returns N(N-1)/2.
func (x *EdgeIndex) Len() int {
	return x.n * (x.n - 1) / 2
}

// rowStart is the linear position of pair (i, i+1).
func (x *EdgeIndex) rowStart(i int) int {
	return i * (2*x.n - i - 1) / 2
}

// Pair returns the k-th pair in canonical order.
func (x *EdgeIndex) Pair(k int) (i, j int) {
	if k < 0 || k >= x.Len() {
		panic(fmt.Sprintf("pair %d out of range [0, %d)", k, x.Len()))
	}

	// Invert rowStart, then correct floating point drift.
	b := float64(2*x.n - 1)
	i = int((b - math.Sqrt(b*b-8*float64(k))) / 2)
	for i > 0 && x.rowStart(i) > k {
		i--
	}
	for i+1 < x.n-1 && x.rowStart(i+1) <= k {
		i++
	}
	j = k - x.rowStart(i) + i + 1
	return i, j
}

// Pairs materializes the whole index as two columns.
func (x *EdgeIndex) Pairs() (rows, cols []int) {
	rows = make([]int, 0, x.Len())
	cols = make([]int, 0, x.Len())
	for i := 0; i < x.n; i++ {
		for j := i + 1; j < x.n; j++ {
			rows = append(rows, i)
			cols = append(cols, j)
		}
	}
	return rows, cols
}
