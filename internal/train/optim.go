package train

import (
	"math"

	"github.com/viterin/vek"

	"github.com/Benny93/graphdiff/internal/model"
)

// clipEps keeps the clip coefficient finite for zero gradients.
const clipEps = 1e-6

// ClipGradNorm scales the gradients of params in place so that their joint
// L2 norm does not exceed maxNorm. It returns the norm before clipping.
// A non-positive maxNorm disables clipping.
func ClipGradNorm(params model.Params, maxNorm float64) float64 {
	total := params.GradNorm()
	if maxNorm <= 0 || total <= maxNorm {
		return total
	}
	coef := maxNorm / (total + clipEps)
	for _, p := range params {
		vek.MulNumber_Inplace(p.Grad, coef)
	}
	return total
}

// AdamWConfig holds the hyperparameters of one optimizer.
type AdamWConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
}

// AdamW is Adam with decoupled weight decay.
type AdamW struct {
	cfg    AdamWConfig
	params model.Params
	m      [][]float64
	v      [][]float64
	steps  int
}

// NewAdamW binds an optimizer to a parameter set.
func NewAdamW(params model.Params, cfg AdamWConfig) *AdamW {
	o := &AdamW{
		cfg:    cfg,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		o.m[i] = make([]float64, len(p.Value))
		o.v[i] = make([]float64, len(p.Value))
	}
	return o
}

// LR returns the current learning rate.
func (o *AdamW) LR() float64 { return o.cfg.LR }

// SetLR changes the learning rate for subsequent steps.
func (o *AdamW) SetLR(lr float64) { o.cfg.LR = lr }

// Steps returns the number of updates applied so far.
func (o *AdamW) Steps() int { return o.steps }

// Step applies one update from the current gradients.
func (o *AdamW) Step() {
	o.steps++
	lr := o.cfg.LR
	b1, b2 := o.cfg.Beta1, o.cfg.Beta2
	bc1 := 1 - math.Pow(b1, float64(o.steps))
	bc2 := 1 - math.Pow(b2, float64(o.steps))
	stepSize := lr / bc1
	sqrtBC2 := math.Sqrt(bc2)

	for i, p := range o.params {
		if o.cfg.WeightDecay != 0 {
			vek.MulNumber_Inplace(p.Value, 1-lr*o.cfg.WeightDecay)
		}
		m, v := o.m[i], o.v[i]
		for j, g := range p.Grad {
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			denom := math.Sqrt(v[j])/sqrtBC2 + o.cfg.Eps
			p.Value[j] -= stepSize * m[j] / denom
		}
	}
}
