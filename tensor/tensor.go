// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"math/rand"

	"github.com/born-ml/deeplab/internal/tensor"
)

// Core types.
type (
	// Shape lists dimension sizes, outermost first.
	Shape = tensor.Shape

	// DataType identifies the element type of a RawTensor.
	DataType = tensor.DataType

	// Device identifies where a RawTensor's buffer lives.
	Device = tensor.Device

	// DType constrains the Go element types a Tensor can hold.
	DType = tensor.DType

	// RawTensor is the untyped, backend-independent tensor storage.
	RawTensor = tensor.RawTensor

	// Backend computes tensor operations.
	Backend = tensor.Backend

	// Conv2DParams holds convolution stride, padding and dilation.
	Conv2DParams = tensor.Conv2DParams

	// Pool2DParams holds pooling kernel, stride and padding.
	Pool2DParams = tensor.Pool2DParams
)

// Tensor is a typed tensor bound to a backend.
type Tensor[T DType, B Backend] = tensor.Tensor[T, B]

// Element types and devices.
const (
	Float32 = tensor.Float32
	Int32   = tensor.Int32
	Uint8   = tensor.Uint8

	CPU = tensor.CPU
)

// New wraps raw storage as a typed tensor.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return tensor.New[T](raw, b)
}

// NewRaw allocates zeroed storage.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromSlice copies data into a new tensor of the given shape.
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	return tensor.FromSlice(data, shape, b)
}

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Zeros[T](shape, b)
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Ones[T](shape, b)
}

// Full creates a tensor filled with value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	return tensor.Full(shape, value, b)
}

// Randn samples a standard normal tensor.
func Randn[B Backend](shape Shape, b B) *Tensor[float32, B] {
	return tensor.Randn(shape, b)
}

// RandnWith samples a standard normal tensor from rng.
func RandnWith[B Backend](shape Shape, b B, rng *rand.Rand) *Tensor[float32, B] {
	return tensor.RandnWith(shape, b, rng)
}

// Cat concatenates tensors along dim.
func Cat[T DType, B Backend](tensors []*Tensor[T, B], dim int) *Tensor[T, B] {
	return tensor.Cat(tensors, dim)
}
