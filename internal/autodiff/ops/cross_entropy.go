package ops

import "github.com/born-ml/deeplab/internal/tensor"

// CrossEntropy2DOp records pixel-wise softmax cross-entropy.
//
// Inputs are [logits, targets]; integer targets receive no gradient.
//
// Backward: (softmax(logits) - onehot(targets)) * grad / validPixels.
type CrossEntropy2DOp struct {
	logits, targets *tensor.RawTensor
	output          *tensor.RawTensor
	ignoreIndex     int32
}

// NewCrossEntropy2DOp creates a new CrossEntropy2DOp.
func NewCrossEntropy2DOp(logits, targets, output *tensor.RawTensor, ignoreIndex int32) *CrossEntropy2DOp {
	return &CrossEntropy2DOp{logits: logits, targets: targets, output: output, ignoreIndex: ignoreIndex}
}

// Inputs returns [logits, targets].
func (op *CrossEntropy2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.logits, op.targets}
}

// Output returns the scalar loss.
func (op *CrossEntropy2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the logits gradient. outputGrad is the scalar seed,
// which carries the loss scale under mixed precision.
func (op *CrossEntropy2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	seed := outputGrad.AsFloat32()[0]
	return []*tensor.RawTensor{
		backend.CrossEntropy2DBackward(op.logits, op.targets, op.ignoreIndex, seed),
		nil,
	}
}
