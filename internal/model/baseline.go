package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/floats"

	"github.com/Benny93/graphdiff/internal/batching"
	"github.com/Benny93/graphdiff/internal/dataset"
)

// ErrNoForward is returned by Backward when no forward pass is pending.
var ErrNoForward = errors.New("backward without a pending forward pass")

const probFloor = 1e-12

// Baseline is a small reference denoiser with analytic gradients.
//
// The X stream holds one pair of logits per (class, field): it predicts the
// state of every attribute field from the node's class. The E stream holds
// one row of edge-type logits per "endpoints share a class" flag. Both
// start at the empirical marginals.
type Baseline struct {
	numClasses int
	numFields  int
	numTypes   int

	x Params
	e Params

	priorX [][2]float64
	priorY []float64
	priorE []float64

	// targetX[c][f] is the empirical P(x_f | y = c).
	targetX [][][2]float64

	gradX   []float64
	gradE   []float64
	pending bool
}

// NewBaseline initializes a baseline from preprocessed features.
func NewBaseline(f *dataset.Features) *Baseline {
	m := &Baseline{
		numClasses: f.NumClasses(),
		numFields:  f.NumFields(),
		numTypes:   f.E.NumTypes(),
		priorY:     append([]float64(nil), f.Marginals.Y...),
		priorE:     append([]float64(nil), f.Marginals.E...),
	}

	m.priorX = make([][2]float64, m.numFields)
	for i := range m.priorX {
		m.priorX[i] = [2]float64{f.Marginals.X.At(i, 0), f.Marginals.X.At(i, 1)}
	}

	m.targetX = make([][][2]float64, m.numClasses)
	for c, cond := range f.Marginals.XGivenY {
		m.targetX[c] = make([][2]float64, m.numFields)
		for i := range m.targetX[c] {
			m.targetX[c][i] = [2]float64{cond.At(i, 0), cond.At(i, 1)}
		}
	}

	xl := NewParam("x.logits", m.numClasses, m.numFields, 2)
	for c := 0; c < m.numClasses; c++ {
		for i := 0; i < m.numFields; i++ {
			for s := 0; s < 2; s++ {
				xl.Value[m.xIndex(c, i, s)] = math.Log(math.Max(m.priorX[i][s], probFloor))
			}
		}
	}
	el := NewParam("e.logits", 2, m.numTypes)
	for g := 0; g < 2; g++ {
		for t := 0; t < m.numTypes; t++ {
			el.Value[g*m.numTypes+t] = math.Log(math.Max(m.priorE[t], probFloor))
		}
	}

	m.x = Params{xl}
	m.e = Params{el}
	m.gradX = make([]float64, len(xl.Value))
	m.gradE = make([]float64, len(el.Value))
	return m
}

func (m *Baseline) xIndex(c, field, s int) int {
	return (c*m.numFields+field)*2 + s
}

// Params implements Denoiser.
func (m *Baseline) Params(s Stream) Params {
	if s == StreamX {
		return m.x
	}
	return m.e
}

// xProbs returns P(x_f = 1 | class c) for every (c, f).
func (m *Baseline) xProbs() []float64 {
	logits := m.x[0].Value
	probs := make([]float64, m.numClasses*m.numFields)
	for k := range probs {
		probs[k] = 1 / (1 + math.Exp(logits[2*k]-logits[2*k+1]))
	}
	return probs
}

// eProbs returns the edge-type distribution for flag g (1 = same class).
func (m *Baseline) eProbs() [2][]float64 {
	var out [2][]float64
	logits := m.e[0].Value
	for g := 0; g < 2; g++ {
		row := logits[g*m.numTypes : (g+1)*m.numTypes]
		lse := floats.LogSumExp(row)
		out[g] = make([]float64, m.numTypes)
		for t, l := range row {
			out[g][t] = math.Exp(l - lse)
		}
	}
	return out
}

func sameClass(y []int, u, v int) int {
	if y[u] == y[v] {
		return 1
	}
	return 0
}

func fieldState(st *State, field, v int) int {
	if st.X3D[field].At(v, 1) > 0.5 {
		return 1
	}
	return 0
}

// StepLosses implements Denoiser. The X loss is the mean cross-entropy of
// every field of every batch endpoint; the E loss is the mean cross-entropy
// of the gathered edge labels.
func (m *Baseline) StepLosses(ctx context.Context, st *State, b batching.Batch) (Losses, error) {
	if err := ctx.Err(); err != nil {
		return Losses{}, err
	}
	clear(m.gradX)
	clear(m.gradE)
	m.pending = true
	if b.Len() == 0 {
		return Losses{}, nil
	}

	var losses Losses

	px := m.xProbs()
	for _, endpoints := range [][]int{b.Dst, b.Src} {
		for _, v := range endpoints {
			c := st.Y[v]
			for i := 0; i < m.numFields; i++ {
				p1 := px[c*m.numFields+i]
				s := fieldState(st, i, v)
				if s == 1 {
					losses.X -= math.Log(math.Max(p1, probFloor))
				} else {
					losses.X -= math.Log(math.Max(1-p1, probFloor))
				}
				m.gradX[m.xIndex(c, i, 0)] += (1 - p1) - float64(1-s)
				m.gradX[m.xIndex(c, i, 1)] += p1 - float64(s)
			}
		}
	}
	xCount := float64(2 * b.Len() * m.numFields)
	losses.X /= xCount
	vek.MulNumber_Inplace(m.gradX, 1/xCount)

	pe := m.eProbs()
	for k := range b.Dst {
		g := sameClass(st.Y, b.Dst[k], b.Src[k])
		t := b.Labels[k]
		if t < 0 || t >= m.numTypes {
			return Losses{}, fmt.Errorf("edge label %d outside [0, %d)", t, m.numTypes)
		}
		losses.E -= math.Log(math.Max(pe[g][t], probFloor))
		for j, p := range pe[g] {
			m.gradE[g*m.numTypes+j] += p
		}
		m.gradE[g*m.numTypes+t]--
	}
	eCount := float64(b.Len())
	losses.E /= eCount
	vek.MulNumber_Inplace(m.gradE, 1/eCount)

	return losses, nil
}

// Backward implements Denoiser.
func (m *Baseline) Backward() error {
	if !m.pending {
		return ErrNoForward
	}
	vek.Add_Inplace(m.x[0].Grad, m.gradX)
	vek.Add_Inplace(m.e[0].Grad, m.gradE)
	m.pending = false
	return nil
}

// Validate implements Denoiser. LogP0 is the clean-data cross-entropy and
// DenoiseMatch the divergence of the predictive distribution from the
// empirical conditional it should recover. NLL is their sum.
func (m *Baseline) Validate(ctx context.Context, st *State, val *batching.ValLoader) (map[Stream]Validation, error) {
	px := m.xProbs()

	var xLoss float64
	for v := 0; v < st.NumNodes(); v++ {
		c := st.Y[v]
		for i := 0; i < m.numFields; i++ {
			p1 := px[c*m.numFields+i]
			if fieldState(st, i, v) == 1 {
				xLoss -= math.Log(math.Max(p1, probFloor))
			} else {
				xLoss -= math.Log(math.Max(1-p1, probFloor))
			}
		}
	}
	xLoss /= float64(st.NumNodes() * m.numFields)

	var xMatch float64
	for c := 0; c < m.numClasses; c++ {
		var kl float64
		for i := 0; i < m.numFields; i++ {
			p1 := px[c*m.numFields+i]
			kl += divergence(m.targetX[c][i][:], []float64{1 - p1, p1})
		}
		xMatch += m.priorY[c] * kl / float64(m.numFields)
	}

	pe := m.eProbs()
	var eLoss float64
	counts := [2][]float64{make([]float64, m.numTypes), make([]float64, m.numTypes)}
	err := val.Epoch(ctx, func(b batching.Batch) error {
		for k := range b.Dst {
			g := sameClass(st.Y, b.Dst[k], b.Src[k])
			t := b.Labels[k]
			if t < 0 || t >= m.numTypes {
				return fmt.Errorf("edge label %d outside [0, %d)", t, m.numTypes)
			}
			eLoss -= math.Log(math.Max(pe[g][t], probFloor))
			counts[g][t]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("validating edge stream: %w", err)
	}

	total := floats.Sum(counts[0]) + floats.Sum(counts[1])
	var eMatch float64
	if total > 0 {
		eLoss /= total
		for g := 0; g < 2; g++ {
			n := floats.Sum(counts[g])
			if n == 0 {
				continue
			}
			floats.Scale(1/n, counts[g])
			eMatch += n / total * divergence(counts[g], pe[g])
		}
	}

	return map[Stream]Validation{
		StreamX: {NLL: xLoss + xMatch, LogP0: xLoss, DenoiseMatch: xMatch},
		StreamE: {NLL: eLoss + eMatch, LogP0: eLoss, DenoiseMatch: eMatch},
	}, nil
}

// divergence is KL(p || q).
func divergence(p, q []float64) float64 {
	var kl float64
	for i, pi := range p {
		if pi <= 0 {
			continue
		}
		kl += pi * math.Log(pi/math.Max(q[i], probFloor))
	}
	return kl
}
