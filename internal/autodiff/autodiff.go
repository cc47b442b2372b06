// Package autodiff implements reverse-mode automatic differentiation using the
// decorator pattern.
//
// AutodiffBackend wraps any Backend implementation and records every
// differentiable call on a GradientTape while recording is enabled.
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	loss := model.Forward(x) ... // any tensor computed with backend
//	grads, err := autodiff.Backward(loss, backend)
//	dW := grads[weight.Raw()]
package autodiff

import (
	"github.com/born-ml/deeplab/internal/autodiff/ops"
	"github.com/born-ml/deeplab/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
//
// Forward results come from the wrapped backend unchanged; recording only
// adds bookkeeping.
type AutodiffBackend[B tensor.Backend] struct {
	inner B
	tape  *GradientTape
}

var _ tensor.Backend = (*AutodiffBackend[tensor.Backend])(nil)

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *AutodiffBackend[B]) Device() tensor.Device {
	return b.inner.Device()
}

func (b *AutodiffBackend[B]) record(op ops.Operation) {
	b.tape.Record(op)
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(x, y)
	b.record(ops.NewAddOp(x, y, result))
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend[B]) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(x, y)
	b.record(ops.NewSubOp(x, y, result))
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(x, y)
	b.record(ops.NewMulOp(x, y, result))
	return result
}

// Div performs element-wise division and records the operation.
func (b *AutodiffBackend[B]) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Div(x, y)
	b.record(ops.NewDivOp(x, y, result))
	return result
}

// MulScalar multiplies by a constant and records the operation.
func (b *AutodiffBackend[B]) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	result := b.inner.MulScalar(x, scalar)
	b.record(ops.NewMulScalarOp(x, result, scalar))
	return result
}

// AddScalar adds a constant and records the operation.
func (b *AutodiffBackend[B]) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	result := b.inner.AddScalar(x, scalar)
	b.record(ops.NewAddScalarOp(x, result))
	return result
}

// Sum reduces to a scalar and records the operation.
func (b *AutodiffBackend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sum(x)
	b.record(ops.NewSumOp(x, result))
	return result
}

// SumToShape is only used inside backward passes and is not recorded.
func (b *AutodiffBackend[B]) SumToShape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	return b.inner.SumToShape(x, shape)
}

// Argmax is not differentiable and is not recorded.
func (b *AutodiffBackend[B]) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.inner.Argmax(x, dim)
}

// Reshape records a reshape.
func (b *AutodiffBackend[B]) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(x, newShape)
	b.record(ops.NewReshapeOp(x, result))
	return result
}

// Cat records a concatenation.
func (b *AutodiffBackend[B]) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	result := b.inner.Cat(tensors, dim)
	b.record(ops.NewCatOp(append([]*tensor.RawTensor(nil), tensors...), result, dim))
	return result
}

// Split records a split into several outputs.
func (b *AutodiffBackend[B]) Split(x *tensor.RawTensor, sizes []int, dim int) []*tensor.RawTensor {
	parts := b.inner.Split(x, sizes, dim)
	b.record(ops.NewSplitOp(x, parts, dim))
	return parts
}

// ReLU records a rectified linear unit.
func (b *AutodiffBackend[B]) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.ReLU(x)
	b.record(ops.NewReLUOp(x, result))
	return result
}

// ReLUBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) ReLUBackward(x, grad *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.ReLUBackward(x, grad)
}

// Conv2D records a convolution.
func (b *AutodiffBackend[B]) Conv2D(input, kernel *tensor.RawTensor, p tensor.Conv2DParams) *tensor.RawTensor {
	result := b.inner.Conv2D(input, kernel, p)
	b.record(ops.NewConv2DOp(input, kernel, result, p))
	return result
}

// Conv2DInputBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, p tensor.Conv2DParams) *tensor.RawTensor {
	return b.inner.Conv2DInputBackward(input, kernel, grad, p)
}

// Conv2DKernelBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, p tensor.Conv2DParams) *tensor.RawTensor {
	return b.inner.Conv2DKernelBackward(input, kernel, grad, p)
}

// MaxPool2D records max pooling along with its argmax indices.
func (b *AutodiffBackend[B]) MaxPool2D(input *tensor.RawTensor, p tensor.Pool2DParams) (*tensor.RawTensor, []int32) {
	result, indices := b.inner.MaxPool2D(input, p)
	b.record(ops.NewMaxPool2DOp(input, result, indices))
	return result, indices
}

// MaxPool2DBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) MaxPool2DBackward(input, grad *tensor.RawTensor, indices []int32) *tensor.RawTensor {
	return b.inner.MaxPool2DBackward(input, grad, indices)
}

// GlobalAvgPool2D records global average pooling.
func (b *AutodiffBackend[B]) GlobalAvgPool2D(input *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.GlobalAvgPool2D(input)
	b.record(ops.NewGlobalAvgPool2DOp(input, result))
	return result
}

// GlobalAvgPool2DBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) GlobalAvgPool2DBackward(input, grad *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.GlobalAvgPool2DBackward(input, grad)
}

// ChannelMoments delegates to the wrapped backend. The statistics reach the
// tape through BatchNorm2D, whose stats carry FromBatch.
func (b *AutodiffBackend[B]) ChannelMoments(x *tensor.RawTensor) (mean, variance []float32) {
	return b.inner.ChannelMoments(x)
}

// BatchNorm2D records batch normalisation.
func (b *AutodiffBackend[B]) BatchNorm2D(x, gamma, beta *tensor.RawTensor, stats tensor.BatchNormStats) *tensor.RawTensor {
	result := b.inner.BatchNorm2D(x, gamma, beta, stats)
	b.record(ops.NewBatchNorm2DOp(x, gamma, beta, result, stats))
	return result
}

// BatchNorm2DBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) BatchNorm2DBackward(
	x, gamma, grad *tensor.RawTensor, stats tensor.BatchNormStats,
) (dx, dgamma, dbeta *tensor.RawTensor) {
	return b.inner.BatchNorm2DBackward(x, gamma, grad, stats)
}

// Interpolate records a bilinear resize.
func (b *AutodiffBackend[B]) Interpolate(x *tensor.RawTensor, outH, outW int) *tensor.RawTensor {
	result := b.inner.Interpolate(x, outH, outW)
	b.record(ops.NewInterpolateOp(x, result))
	return result
}

// InterpolateBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) InterpolateBackward(inputShape tensor.Shape, grad *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.InterpolateBackward(inputShape, grad)
}

// CrossEntropy2D records the pixel-wise loss.
func (b *AutodiffBackend[B]) CrossEntropy2D(logits, targets *tensor.RawTensor, ignoreIndex int32) *tensor.RawTensor {
	result := b.inner.CrossEntropy2D(logits, targets, ignoreIndex)
	b.record(ops.NewCrossEntropy2DOp(logits, targets, result, ignoreIndex))
	return result
}

// CrossEntropy2DBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) CrossEntropy2DBackward(
	logits, targets *tensor.RawTensor, ignoreIndex int32, grad float32,
) *tensor.RawTensor {
	return b.inner.CrossEntropy2DBackward(logits, targets, ignoreIndex, grad)
}
