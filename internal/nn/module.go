// Package nn implements the neural network modules a segmentation network is
// assembled from.
//
// This package provides:
//   - Module: Forward plus Parameters, optionally Stateful
//   - Parameter and Buffer: named trainable and non-trainable tensors
//   - Conv2D, BatchNorm2D, ReLU, MaxPool2D, GlobalAvgPool2D
//   - Sequential: container for stacking layers
//   - CrossEntropy2D: pixel-wise classification loss
//   - StateDict and LoadStateDict for checkpoints and pretrained weights
//
// Parameter and buffer names are fully qualified at construction time
// ("layer1.0.conv1.weight"), so a model's state dict is simply the union of
// its modules' tensors.
package nn

import (
	"github.com/born-ml/deeplab/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	block := nn.NewSequential[B](
//	    nn.NewConv2D("conv", nn.Conv2DConfig{InChannels: 3, OutChannels: 64, KernelSize: 3, Padding: 1}, backend),
//	    nn.NewBatchNorm2D("bn", 64, backend),
//	    nn.NewReLU[B](),
//	)
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module, including
	// those of nested modules. Modules without weights return nil.
	Parameters() []*Parameter[B]
}

// Stateful is implemented by modules that own non-trainable buffers or that
// behave differently in training and evaluation, and by every container that
// holds such a module.
type Stateful[B tensor.Backend] interface {
	Buffers() []*Buffer[B]
	SetTraining(training bool)
}

// SetTraining switches m and all of its children between training and
// evaluation mode. Modules that are not Stateful are left alone.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	if s, ok := m.(Stateful[B]); ok {
		s.SetTraining(training)
	}
}

// Buffers returns the non-trainable buffers of m, or nil.
func Buffers[B tensor.Backend](m Module[B]) []*Buffer[B] {
	if s, ok := m.(Stateful[B]); ok {
		return s.Buffers()
	}
	return nil
}

// Join builds a dotted parameter name.
func Join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
