package train

import "math"

// LRSetter is anything whose learning rate can be adjusted.
type LRSetter interface {
	LR() float64
	SetLR(lr float64)
}

// SchedulerConfig configures ReduceLROnPlateau.
type SchedulerConfig struct {
	// Factor multiplies the learning rate on a plateau.
	Factor float64

	// Patience is the number of non-improving steps tolerated.
	Patience int

	// Threshold is the relative improvement that counts as better.
	Threshold float64

	// Cooldown is the number of steps to wait after a reduction.
	Cooldown int

	MinLR float64

	// Eps is the smallest reduction that is applied.
	Eps float64
}

// ReduceLROnPlateau lowers the learning rate when a minimized metric stops
// improving.
type ReduceLROnPlateau struct {
	cfg      SchedulerConfig
	opt      LRSetter
	best     float64
	numBad   int
	cooldown int
}

// NewReduceLROnPlateau attaches a scheduler to an optimizer.
func NewReduceLROnPlateau(opt LRSetter, cfg SchedulerConfig) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		cfg:  cfg,
		opt:  opt,
		best: math.Inf(1),
	}
}

// Step consumes one metric value and reports whether the rate was reduced.
func (s *ReduceLROnPlateau) Step(metric float64) bool {
	if metric < s.best*(1-s.cfg.Threshold) {
		s.best = metric
		s.numBad = 0
	} else {
		s.numBad++
	}

	if s.cooldown > 0 {
		s.cooldown--
		s.numBad = 0
	}

	if s.numBad <= s.cfg.Patience {
		return false
	}

	s.cooldown = s.cfg.Cooldown
	s.numBad = 0

	old := s.opt.LR()
	lr := math.Max(old*s.cfg.Factor, s.cfg.MinLR)
	if old-lr <= s.cfg.Eps {
		return false
	}
	s.opt.SetLR(lr)
	return true
}

// Best returns the best metric seen.
func (s *ReduceLROnPlateau) Best() float64 { return s.best }
