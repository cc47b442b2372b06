package optim

import "math"

// PolyLR returns the "poly" learning-rate multiplier
//
//	1 - (step / nSteps) ^ power
//
// It decreases monotonically from 1 at step 0 to 0 at step nSteps, and is
// clamped to 0 past the end of the schedule.
func PolyLR(step, nSteps int, power float64) float32 {
	if nSteps <= 0 || step >= nSteps {
		return 0
	}
	if step <= 0 {
		return 1
	}
	return float32(1 - math.Pow(float64(step)/float64(nSteps), power))
}

// LRSetter is anything whose learning rate can be adjusted.
type LRSetter interface {
	SetLR(lr float32)
}

// PolyScheduler drives an optimizer's learning rate with BaseLR * PolyLR.
type PolyScheduler struct {
	BaseLR float32
	NSteps int
	Power  float64
}

// Step sets the learning rate of opt for the given 1-based step and returns it.
func (s PolyScheduler) Step(opt LRSetter, step int) float32 {
	lr := s.BaseLR * PolyLR(step, s.NSteps, s.Power)
	opt.SetLR(lr)
	return lr
}
