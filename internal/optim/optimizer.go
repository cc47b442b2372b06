// Package optim implements the optimizers and learning-rate schedule used to
// train segmentation models.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum and weight decay
//   - Adam: Adaptive Moment Estimation with L2 weight decay
//   - PolyLR: the "poly" learning-rate policy
//
// Example usage:
//
//	optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{
//	    LR:          1.0,
//	    WeightDecay: 5e-4,
//	}, backend)
//
//	for step := 1; step <= nSteps; step++ {
//	    optimizer.SetLR(optim.PolyLR(step, nSteps, 0.9))
//
//	    backend.Tape().StartRecording()
//	    loss := criterion.Forward(model.Forward(images), masks)
//	    grads, err := autodiff.Backward(loss, backend)
//	    backend.Tape().StopRecording()
//	    backend.Tape().Clear()
//
//	    optimizer.Step(grads)
//	}
package optim

import (
	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
//
// Step updates parameters in place from a gradient map returned by
// autodiff.Backward. Gradients are only read, never modified.
type Optimizer interface {
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)
	ZeroGrad()
	GetLR() float32
	SetLR(lr float32)

	// StateDict exports optimizer buffers for checkpointing.
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// getGradient safely retrieves gradient for a parameter.
//
// Returns nil if no gradient is found (parameter wasn't part of computation graph).
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) []float32 {
	if param == nil {
		return nil
	}
	g, ok := grads[param.Tensor().Raw()]
	if !ok || g == nil {
		return nil
	}
	return g.AsFloat32()
}
