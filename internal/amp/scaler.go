package amp

import (
	"fmt"
	"math"

	"github.com/born-ml/deeplab/internal/tensor"
)

// ScalerConfig configures dynamic loss scaling.
type ScalerConfig struct {
	Enabled        bool
	InitScale      float32
	GrowthFactor   float32
	BackoffFactor  float32
	GrowthInterval int // consecutive finite steps before the scale grows
}

// DefaultScalerConfig returns the standard dynamic scaling schedule.
func DefaultScalerConfig() ScalerConfig {
	return ScalerConfig{
		Enabled:        true,
		InitScale:      65536,
		GrowthFactor:   2,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// Validate checks the scaling factors.
func (c ScalerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.InitScale <= 0 {
		return fmt.Errorf("init scale must be positive, got %g", c.InitScale)
	}
	if c.GrowthFactor <= 1 {
		return fmt.Errorf("growth factor must be > 1, got %g", c.GrowthFactor)
	}
	if c.BackoffFactor <= 0 || c.BackoffFactor >= 1 {
		return fmt.Errorf("backoff factor must be in (0, 1), got %g", c.BackoffFactor)
	}
	if c.GrowthInterval <= 0 {
		return fmt.Errorf("growth interval must be positive, got %d", c.GrowthInterval)
	}
	return nil
}

// Stepper is the optimizer surface the scaler drives.
type Stepper interface {
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)
}

// GradScaler implements dynamic loss scaling.
//
// The backward pass is seeded with Scale() instead of 1, which multiplies
// every gradient by the scale. Step divides the scale back out, and skips
// the optimizer step when any gradient is Inf or NaN. Update then halves the
// scale after an overflow, or doubles it after GrowthInterval clean steps.
//
// Typical loop:
//
//	grads, _ := autodiff.BackwardScaled(loss, backend, scaler.Scale())
//	stepped := scaler.Step(opt, grads)
//	scaler.Update()
type GradScaler struct {
	cfg         ScalerConfig
	scale       float32
	growthCount int
	foundInf    bool
	stepped     bool
}

// NewGradScaler creates a scaler.
func NewGradScaler(cfg ScalerConfig) (*GradScaler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grad scaler: %w", err)
	}
	return &GradScaler{cfg: cfg, scale: cfg.InitScale}, nil
}

// Scale returns the current loss scale, or 1 when scaling is disabled.
func (s *GradScaler) Scale() float32 {
	if !s.cfg.Enabled {
		return 1
	}
	return s.scale
}

// Unscale divides every gradient by the current scale, replacing the map
// entries with new tensors, and reports whether all of them are finite.
// Gradient tensors may alias each other, so they are never modified.
func (s *GradScaler) Unscale(grads map[*tensor.RawTensor]*tensor.RawTensor) bool {
	inv := 1 / s.Scale()
	finite := true
	for key, g := range grads {
		if g.DType() != tensor.Float32 {
			continue
		}
		out := g.Clone()
		data := out.AsFloat32()
		for i, v := range data {
			if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
				finite = false
			}
			data[i] = v * inv
		}
		grads[key] = out
	}
	return finite
}

// Step unscales grads and applies the optimizer step unless an overflow was
// found. It returns whether the step was applied.
func (s *GradScaler) Step(opt Stepper, grads map[*tensor.RawTensor]*tensor.RawTensor) bool {
	finite := s.Unscale(grads)
	s.foundInf = !finite
	s.stepped = true
	if !finite {
		return false
	}
	opt.Step(grads)
	return true
}

// Update adjusts the scale for the next iteration based on the last Step.
func (s *GradScaler) Update() {
	if !s.cfg.Enabled || !s.stepped {
		return
	}
	s.stepped = false

	if s.foundInf {
		s.scale *= s.cfg.BackoffFactor
		s.growthCount = 0
		return
	}

	s.growthCount++
	if s.growthCount >= s.cfg.GrowthInterval {
		if grown := s.scale * s.cfg.GrowthFactor; !math.IsInf(float64(grown), 0) {
			s.scale = grown
		}
		s.growthCount = 0
	}
}

// State returns the scaler state for checkpointing.
func (s *GradScaler) State() (scale float32, growthCount int) {
	return s.scale, s.growthCount
}

// LoadState restores state saved with State.
func (s *GradScaler) LoadState(scale float32, growthCount int) {
	s.scale = scale
	s.growthCount = growthCount
}
