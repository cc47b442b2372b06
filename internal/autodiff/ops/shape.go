package ops

import "github.com/born-ml/deeplab/internal/tensor"

// ReshapeOp represents a reshape. Backward reshapes the gradient back.
type ReshapeOp struct{ unaryOp }

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(x, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{unaryOp{input: x, output: output}}
}

// Backward restores the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.input.Shape())}
}

// CatOp represents concatenation along dim.
// Backward splits the gradient into pieces matching each input.
type CatOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	dim    int
}

// NewCatOp creates a new CatOp.
func NewCatOp(inputs []*tensor.RawTensor, output *tensor.RawTensor, dim int) *CatOp {
	return &CatOp{inputs: inputs, output: output, dim: dim}
}

// Inputs returns the concatenated tensors.
func (op *CatOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the concatenated result.
func (op *CatOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward splits the gradient along dim.
func (op *CatOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	dim := op.dim
	if dim < 0 {
		dim += len(outputGrad.Shape())
	}
	sizes := make([]int, len(op.inputs))
	for i, in := range op.inputs {
		sizes[i] = in.Shape()[dim]
	}
	return backend.Split(outputGrad, sizes, dim)
}

// SplitOp represents splitting one tensor into several along dim.
type SplitOp struct {
	input   *tensor.RawTensor
	outputs []*tensor.RawTensor
	dim     int
}

// NewSplitOp creates a new SplitOp.
func NewSplitOp(input *tensor.RawTensor, outputs []*tensor.RawTensor, dim int) *SplitOp {
	return &SplitOp{input: input, outputs: outputs, dim: dim}
}

// Inputs returns the split tensor.
func (op *SplitOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the first piece. The tape uses Outputs for this op.
func (op *SplitOp) Output() *tensor.RawTensor {
	return op.outputs[0]
}

// Outputs returns every piece.
func (op *SplitOp) Outputs() []*tensor.RawTensor {
	return op.outputs
}

// Backward is only valid when the op produced a single piece.
func (op *SplitOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return op.BackwardMulti([]*tensor.RawTensor{outputGrad}, backend)
}

// BackwardMulti concatenates the piece gradients.
func (op *SplitOp) BackwardMulti(outputGrads []*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Cat(outputGrads, op.dim)}
}
