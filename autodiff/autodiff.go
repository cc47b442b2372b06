// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode automatic differentiation as a
// backend decorator.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	loss := criterion.Forward(model.Forward(images), masks)
//	grads, err := autodiff.Backward(loss, backend)
package autodiff

import (
	"github.com/born-ml/deeplab/internal/autodiff"
	"github.com/born-ml/deeplab/tensor"
)

// Backend records operations of the wrapped backend on a gradient tape.
type Backend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// GradientTape is the list of recorded operations.
type GradientTape = autodiff.GradientTape

// BackwardCapable is implemented by backends that own a gradient tape.
type BackwardCapable = autodiff.BackwardCapable

// ErrEmptyTape is returned by Backward when nothing was recorded.
var ErrEmptyTape = autodiff.ErrEmptyTape

// New wraps backend with gradient recording.
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// Backward returns the gradient of the scalar t with respect to every
// recorded input, keyed by raw tensor.
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	return autodiff.Backward(t, backend)
}

// BackwardScaled is Backward seeded with scale instead of one.
func BackwardScaled[T tensor.DType, B BackwardCapable](
	t *tensor.Tensor[T, B], backend B, scale float32,
) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	return autodiff.BackwardScaled(t, backend, scale)
}
