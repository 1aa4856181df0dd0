package batching

// LabelSource yields the ground-truth edge type of a node pair.
type LabelSource interface {
	Type(row, col int) int
}

// Batch is a slice of the edge index with its gathered edge labels.
//
// This is the one place that fixes the gather convention: Dst holds the
// row endpoint i and Src the column endpoint j of pair (i, j), i < j, and
// Labels[k] = E.Type(Dst[k], Src[k]). Models receive (Src, Dst, Labels).
type Batch struct {
	Dst    []int
	Src    []int
	Labels []int
}

// Len returns the number of pairs in the batch.
func (b Batch) Len() int { return len(b.Dst) }

func gather(index *EdgeIndex, labels LabelSource, positions []int) Batch {
	b := Batch{
		Dst:    make([]int, len(positions)),
		Src:    make([]int, len(positions)),
		Labels: make([]int, len(positions)),
	}
	for n, k := range positions {
		i, j := index.Pair(k)
		b.Dst[n] = i
		b.Src[n] = j
		b.Labels[n] = labels.Type(b.Dst[n], b.Src[n])
	}
	return b
}

func numBatches(total, size int) int {
	return (total + size - 1) / size
}
