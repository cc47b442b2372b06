// Package ops defines the differentiable operations recorded on the gradient
// tape.
//
// Each operation keeps references to its inputs and output from the forward
// pass and turns an output gradient into input gradients. Heavy lifting is
// delegated to the backend's backward kernels; ops are pure orchestration.
//
// Supported operations:
//   - AddOp, SubOp, MulOp, DivOp: element-wise arithmetic with broadcasting
//   - MulScalarOp, AddScalarOp, SumOp: scalar arithmetic and total reduction
//   - ReshapeOp, CatOp, SplitOp: shape manipulation
//   - ReLUOp: rectified linear unit
//   - Conv2DOp: 2D convolution with stride, padding and dilation
//   - MaxPool2DOp, GlobalAvgPool2DOp: pooling
//   - BatchNorm2DOp: batch normalisation with batch or running statistics
//   - InterpolateOp: bilinear resize
//   - CrossEntropy2DOp: pixel-wise softmax cross-entropy
package ops

import "github.com/born-ml/deeplab/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// The result is aligned with Inputs(); a nil entry means the input
	// receives no gradient (integer targets, for example).
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// MultiOutputOperation represents an operation that produces several outputs,
// such as Split.
//
// The tape collects gradients for all outputs (zero-filling the missing
// ones) before calling BackwardMulti.
type MultiOutputOperation interface {
	Operation

	// Outputs returns all output tensors produced by this operation.
	Outputs() []*tensor.RawTensor

	// BackwardMulti computes gradients for inputs given gradients for every
	// output.
	BackwardMulti(outputGrads []*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor
}

// reduceBroadcast sums grad over the dimensions broadcasting expanded so the
// result matches shape.
func reduceBroadcast(grad *tensor.RawTensor, shape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(shape) {
		return grad
	}
	return backend.SumToShape(grad, shape)
}

// unaryOp carries the input/output bookkeeping shared by single-input ops.
type unaryOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// Inputs returns the single input tensor.
func (op *unaryOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor.
func (op *unaryOp) Output() *tensor.RawTensor {
	return op.output
}

// binaryOp carries the bookkeeping shared by two-input ops.
type binaryOp struct {
	a, b   *tensor.RawTensor
	output *tensor.RawTensor
}

// Inputs returns [a, b].
func (op *binaryOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.a, op.b}
}

// Output returns the output tensor.
func (op *binaryOp) Output() *tensor.RawTensor {
	return op.output
}
