package ops

import (
	"github.com/born-ml/deeplab/internal/tensor"
)

// Conv2DOp records a 2D convolution.
//
// Backward:
//   - d_input:  transposed convolution of d_output with the kernel
//   - d_kernel: correlation of the input with d_output
type Conv2DOp struct {
	binaryOp
	params tensor.Conv2DParams
}

// NewConv2DOp creates a new Conv2D operation.
func NewConv2DOp(input, kernel, output *tensor.RawTensor, p tensor.Conv2DParams) *Conv2DOp {
	return &Conv2DOp{binaryOp: binaryOp{a: input, b: kernel, output: output}, params: p}
}

// Backward computes [∂L/∂input, ∂L/∂kernel].
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.Conv2DInputBackward(op.a, op.b, outputGrad, op.params),
		backend.Conv2DKernelBackward(op.a, op.b, outputGrad, op.params),
	}
}

// MaxPool2DOp records max pooling together with the argmax indices chosen in
// the forward pass.
type MaxPool2DOp struct {
	unaryOp
	indices []int32
}

// NewMaxPool2DOp creates a new MaxPool2DOp.
func NewMaxPool2DOp(input, output *tensor.RawTensor, indices []int32) *MaxPool2DOp {
	return &MaxPool2DOp{unaryOp: unaryOp{input: input, output: output}, indices: indices}
}

// Backward routes each gradient to the input element that won its window.
func (op *MaxPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MaxPool2DBackward(op.input, outputGrad, op.indices)}
}

// GlobalAvgPool2DOp records [N,C,H,W] -> [N,C,1,1] averaging.
type GlobalAvgPool2DOp struct{ unaryOp }

// NewGlobalAvgPool2DOp creates a new GlobalAvgPool2DOp.
func NewGlobalAvgPool2DOp(input, output *tensor.RawTensor) *GlobalAvgPool2DOp {
	return &GlobalAvgPool2DOp{unaryOp{input: input, output: output}}
}

// Backward spreads the gradient evenly over each plane.
func (op *GlobalAvgPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.GlobalAvgPool2DBackward(op.input, outputGrad)}
}

// InterpolateOp records a bilinear resize.
type InterpolateOp struct{ unaryOp }

// NewInterpolateOp creates a new InterpolateOp.
func NewInterpolateOp(input, output *tensor.RawTensor) *InterpolateOp {
	return &InterpolateOp{unaryOp{input: input, output: output}}
}

// Backward applies the transpose of the bilinear weights.
func (op *InterpolateOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.InterpolateBackward(op.input.Shape(), outputGrad)}
}

// BatchNorm2DOp records batch normalisation. Inputs are [x, gamma, beta].
type BatchNorm2DOp struct {
	x, gamma, beta *tensor.RawTensor
	output         *tensor.RawTensor
	stats          tensor.BatchNormStats
}

// NewBatchNorm2DOp creates a new BatchNorm2DOp.
func NewBatchNorm2DOp(x, gamma, beta, output *tensor.RawTensor, stats tensor.BatchNormStats) *BatchNorm2DOp {
	return &BatchNorm2DOp{x: x, gamma: gamma, beta: beta, output: output, stats: stats}
}

// Inputs returns [x, gamma, beta].
func (op *BatchNorm2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.x, op.gamma, op.beta}
}

// Output returns the normalised tensor.
func (op *BatchNorm2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes [∂L/∂x, ∂L/∂gamma, ∂L/∂beta].
func (op *BatchNorm2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	dx, dgamma, dbeta := backend.BatchNorm2DBackward(op.x, op.gamma, outputGrad, op.stats)
	return []*tensor.RawTensor{dx, dgamma, dbeta}
}
