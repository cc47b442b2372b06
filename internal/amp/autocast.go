// Package amp provides mixed-precision training support: a backend decorator
// that runs convolutions at half precision and a dynamic loss scaler.
package amp

import (
	"github.com/x448/float16"

	"github.com/born-ml/deeplab/internal/tensor"
)

// Autocast wraps a backend and, while enabled, rounds convolution operands
// and results to IEEE 754 half precision. Every other operation runs at the
// wrapped backend's precision, so batch norm statistics, losses and
// gradients stay in float32.
//
// Autocast is meant to sit under the autodiff decorator:
//
//	cast := amp.NewAutocast(cpu.New())
//	backend := autodiff.New(cast)
//	cast.Enable()
//	logits := model.Forward(x) // convs see fp16-rounded values
//	cast.Disable()
type Autocast struct {
	tensor.Backend
	enabled bool
}

// NewAutocast wraps backend. Autocast starts disabled.
func NewAutocast(backend tensor.Backend) *Autocast {
	return &Autocast{Backend: backend}
}

// Enable turns half-precision rounding on.
func (a *Autocast) Enable() { a.enabled = true }

// Disable turns half-precision rounding off.
func (a *Autocast) Disable() { a.enabled = false }

// Enabled reports whether half-precision rounding is on.
func (a *Autocast) Enabled() bool { return a.enabled }

// Name returns the backend name.
func (a *Autocast) Name() string {
	return "Autocast(" + a.Backend.Name() + ")"
}

// Conv2D convolves half-precision copies of input and kernel and rounds the
// result. Values beyond the half range become ±Inf, which the GradScaler
// detects downstream.
func (a *Autocast) Conv2D(input, kernel *tensor.RawTensor, p tensor.Conv2DParams) *tensor.RawTensor {
	if !a.enabled {
		return a.Backend.Conv2D(input, kernel, p)
	}
	out := a.Backend.Conv2D(RoundHalf(input), RoundHalf(kernel), p)
	roundHalfInPlace(out.AsFloat32())
	return out
}

// RoundHalf returns a copy of a float32 tensor with every element rounded to
// the nearest half-precision value.
func RoundHalf(x *tensor.RawTensor) *tensor.RawTensor {
	out := x.Clone()
	roundHalfInPlace(out.AsFloat32())
	return out
}

func roundHalfInPlace(data []float32) {
	for i, v := range data {
		data[i] = float16.Fromfloat32(v).Float32()
	}
}
