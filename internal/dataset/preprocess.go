package dataset

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Marginals are the empirical state distributions of each modality. They
// are computed once per run and never mutated.
type Marginals struct {
	// X is F x 2: P(x_f = s).
	X *mat.Dense

	// Y has one probability per class.
	Y []float64

	// E has one probability per edge type over all unordered node pairs.
	E []float64

	// XGivenY holds, per class, an F x 2 matrix P(x_f = s | y).
	XGivenY []*mat.Dense
}

// Features is the preprocessed, model-ready view of a dataset.
type Features struct {
	// X3D holds F matrices of shape N x 2; X3D[f] one-hot encodes field f.
	X3D []*mat.Dense

	// XFlat is the N x 2F flattening of X3D: column 2f+s is X3D[f] column s.
	XFlat *mat.Dense

	// XLabels is the N x F arg-max collapse of X3D.
	XLabels *mat.Dense

	// Y is the class of every node.
	Y []int

	// YOneHot is N x C.
	YOneHot *mat.Dense

	// E is the edge-type tensor.
	E *EdgeTypes

	Marginals Marginals
}

// NumFields returns F.
func (f *Features) NumFields() int { return len(f.X3D) }

// NumClasses returns C.
func (f *Features) NumClasses() int {
	_, c := f.YOneHot.Dims()
	return c
}

// Preprocess derives one-hot encodings and marginals from a dataset.
func Preprocess(ds *Dataset) *Features {
	raw := ds.Raw
	n := raw.NumNodes
	numFields := len(raw.Features[0])

	x3d := make([]*mat.Dense, numFields)
	for f := range x3d {
		x3d[f] = mat.NewDense(n, 2, nil)
		for v := 0; v < n; v++ {
			x3d[f].Set(v, raw.Features[v][f], 1)
		}
	}

	numClasses := 0
	for _, y := range raw.Labels {
		numClasses = max(numClasses, y+1)
	}
	yOneHot := mat.NewDense(n, numClasses, nil)
	for v, y := range raw.Labels {
		yOneHot.Set(v, y, 1)
	}

	numTypes := 2
	for _, t := range raw.EdgeTypes {
		numTypes = max(numTypes, t+1)
	}
	e := NewEdgeTypes(n, numTypes)
	for i, edge := range raw.Edges {
		if edge[0] == edge[1] {
			continue
		}
		t := 1
		if raw.EdgeTypes != nil {
			t = raw.EdgeTypes[i]
		}
		e.Set(edge[0], edge[1], t)
	}

	feats := &Features{
		X3D:     x3d,
		XFlat:   FlattenX(x3d),
		XLabels: CollapseX(x3d),
		Y:       append([]int(nil), raw.Labels...),
		YOneHot: yOneHot,
		E:       e,
	}
	feats.Marginals = computeMarginals(feats)
	return feats
}

// FlattenX turns F matrices of N x 2 into one N x 2F matrix.
func FlattenX(x3d []*mat.Dense) *mat.Dense {
	n, _ := x3d[0].Dims()
	flat := mat.NewDense(n, 2*len(x3d), nil)
	for f, xf := range x3d {
		flat.Slice(0, n, 2*f, 2*f+2).(*mat.Dense).Copy(xf)
	}
	return flat
}

// CollapseX returns the N x F matrix of per-field arg-max states.
func CollapseX(x3d []*mat.Dense) *mat.Dense {
	n, _ := x3d[0].Dims()
	labels := mat.NewDense(n, len(x3d), nil)
	for f, xf := range x3d {
		for v := 0; v < n; v++ {
			labels.Set(v, f, float64(floats.MaxIdx(xf.RawRowView(v))))
		}
	}
	return labels
}

// ArgMaxRows returns the arg-max column of every row of m.
func ArgMaxRows(m *mat.Dense) []int {
	rows, _ := m.Dims()
	out := make([]int, rows)
	for i := range out {
		out[i] = floats.MaxIdx(m.RawRowView(i))
	}
	return out
}

func computeMarginals(f *Features) Marginals {
	n, _ := f.YOneHot.Dims()
	numFields := len(f.X3D)
	numClasses := f.NumClasses()

	xm := mat.NewDense(numFields, 2, nil)
	for i, xf := range f.X3D {
		row := xm.RawRowView(i)
		for v := 0; v < n; v++ {
			floats.Add(row, xf.RawRowView(v))
		}
		floats.Scale(1/float64(n), row)
	}

	ym := make([]float64, numClasses)
	for _, y := range f.Y {
		ym[y]++
	}
	classSizes := append([]float64(nil), ym...)
	floats.Scale(1/float64(n), ym)

	em := f.E.PairCounts()
	floats.Scale(1/floats.Sum(em), em)

	xGivenY := make([]*mat.Dense, numClasses)
	for c := range xGivenY {
		xGivenY[c] = mat.NewDense(numFields, 2, nil)
	}
	for i, xf := range f.X3D {
		for v := 0; v < n; v++ {
			floats.Add(xGivenY[f.Y[v]].RawRowView(i), xf.RawRowView(v))
		}
	}
	for c, m := range xGivenY {
		if classSizes[c] > 0 {
			m.Scale(1/classSizes[c], m)
		}
	}

	return Marginals{X: xm, Y: ym, E: em, XGivenY: xGivenY}
}
