// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/tensor"
)

// Module interface defines the common interface for all neural network modules.
type Module[B tensor.Backend] = nn.Module[B]

// Stateful is implemented by modules with buffers or a training mode.
type Stateful[B tensor.Backend] = nn.Stateful[B]

// Parameter represents a trainable parameter in a neural network.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// Buffer is a named non-trainable tensor such as a running mean.
type Buffer[B tensor.Backend] = nn.Buffer[B]

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// Layers

// Conv2D represents a 2D convolutional layer.
type Conv2D[B tensor.Backend] = nn.Conv2D[B]

// Conv2DConfig describes a square convolution.
type Conv2DConfig = nn.Conv2DConfig

// NewConv2D creates a 2D convolution named prefix.
//
// Example:
//
//	backend := cpu.New()
//	conv := nn.NewConv2D("aspp.conv", nn.Conv2DConfig{
//	    InChannels: 2048, OutChannels: 256, KernelSize: 3, Dilation: 6, SamePadding: true,
//	}, backend)
func NewConv2D[B tensor.Backend](prefix string, cfg Conv2DConfig, backend B) *Conv2D[B] {
	return nn.NewConv2D(prefix, cfg, backend)
}

// BatchNorm2D normalises each channel over batch and spatial dimensions.
type BatchNorm2D[B tensor.Backend] = nn.BatchNorm2D[B]

// NewBatchNorm2D creates batch normalisation named prefix.
func NewBatchNorm2D[B tensor.Backend](prefix string, numFeatures int, backend B) *BatchNorm2D[B] {
	return nn.NewBatchNorm2D(prefix, numFeatures, backend)
}

// MaxPool2D represents a 2D max pooling layer.
type MaxPool2D[B tensor.Backend] = nn.MaxPool2D[B]

// NewMaxPool2D creates a max pooling layer.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride, padding int, backend B) *MaxPool2D[B] {
	return nn.NewMaxPool2D(kernelSize, stride, padding, backend)
}

// GlobalAvgPool2D averages each channel to 1x1.
type GlobalAvgPool2D[B tensor.Backend] = nn.GlobalAvgPool2D[B]

// NewGlobalAvgPool2D creates global average pooling.
func NewGlobalAvgPool2D[B tensor.Backend](backend B) *GlobalAvgPool2D[B] {
	return nn.NewGlobalAvgPool2D(backend)
}

// Interpolate resizes a feature map bilinearly with aligned corners.
func Interpolate[B tensor.Backend](input *tensor.Tensor[float32, B], h, w int) *tensor.Tensor[float32, B] {
	return nn.Interpolate(input, h, w)
}

// ReLU is the rectified linear unit.
type ReLU[B tensor.Backend] = nn.ReLU[B]

// NewReLU creates a ReLU activation.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return nn.NewReLU[B]()
}

// Sequential chains modules.
type Sequential[B tensor.Backend] = nn.Sequential[B]

// NewSequential creates a container running modules in order.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return nn.NewSequential(modules...)
}

// Loss

// IgnoreIndex is the label excluded from the loss.
const IgnoreIndex = nn.IgnoreIndex

// CrossEntropy2D is the pixel-wise cross-entropy loss.
type CrossEntropy2D[B tensor.Backend] = nn.CrossEntropy2D[B]

// NewCrossEntropy2D creates the loss.
func NewCrossEntropy2D[B tensor.Backend](ignoreIndex int32, backend B) *CrossEntropy2D[B] {
	return nn.NewCrossEntropy2D(ignoreIndex, backend)
}

// State

// State dict errors.
var (
	ErrMissingKeys    = nn.ErrMissingKeys
	ErrUnexpectedKeys = nn.ErrUnexpectedKeys
	ErrShapeMismatch  = nn.ErrShapeMismatch
)

// SetTraining switches m between training and evaluation mode.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	nn.SetTraining(m, training)
}

// StateDict returns every parameter and buffer of m by name.
func StateDict[B tensor.Backend](m Module[B]) map[string]*tensor.RawTensor {
	return nn.StateDict(m)
}

// LoadStateDict copies sd into m.
func LoadStateDict[B tensor.Backend](m Module[B], sd map[string]*tensor.RawTensor, strict bool) error {
	return nn.LoadStateDict(m, sd, strict)
}

// NumParameters counts trainable scalars in m.
func NumParameters[B tensor.Backend](m Module[B]) int {
	return nn.NumParameters(m)
}
