package autodiff

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/autodiff/ops"
	"github.com/born-ml/deeplab/internal/tensor"
)

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass using reverse-mode automatic
// differentiation.
//
// Usage:
//
//	tape := NewGradientTape()
//	tape.StartRecording()
//	// ... forward pass ...
//	grads := tape.Backward(loss, seed, backend)
type GradientTape struct {
	operations []ops.Operation
	recording  bool
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]ops.Operation, 0, 256),
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// IsRecording returns true if the tape is currently recording operations.
func (t *GradientTape) IsRecording() bool {
	return t.recording
}

// Record adds an operation to the tape if recording.
func (t *GradientTape) Record(op ops.Operation) {
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Clear drops all recorded operations, releasing the activations they hold.
// Recording state is preserved.
func (t *GradientTape) Clear() {
	clear(t.operations)
	t.operations = t.operations[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	return len(t.operations)
}

// Backward walks the tape in reverse starting from output, whose gradient is
// seed, and returns the accumulated gradient of every tensor that
// contributed to it. Operations recorded after output was produced receive
// no gradient and are skipped.
func (t *GradientTape) Backward(
	output, seed *tensor.RawTensor, backend tensor.Backend,
) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	if !seed.Shape().Equal(output.Shape()) {
		return nil, fmt.Errorf("backward: seed shape %v does not match output %v", seed.Shape(), output.Shape())
	}

	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	grads := map[*tensor.RawTensor]*tensor.RawTensor{output: seed}
	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		inputGrads := t.inputGrads(op, grads, backend)
		if inputGrads == nil {
			continue
		}
		accumulate(op.Inputs(), inputGrads, grads, backend)
	}
	return grads, nil
}

// inputGrads returns nil when no gradient reached op.
func (t *GradientTape) inputGrads(
	op ops.Operation,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	backend tensor.Backend,
) []*tensor.RawTensor {
	multi, ok := op.(ops.MultiOutputOperation)
	if !ok {
		grad, has := grads[op.Output()]
		if !has {
			return nil
		}
		return op.Backward(grad, backend)
	}

	outputs := multi.Outputs()
	outputGrads := make([]*tensor.RawTensor, len(outputs))
	reached := false
	for j, out := range outputs {
		if g, has := grads[out]; has {
			outputGrads[j] = g
			reached = true
		}
	}
	if !reached {
		return nil
	}
	for j, out := range outputs {
		if outputGrads[j] == nil {
			outputGrads[j] = tensor.MustNewRaw(out.Shape(), out.DType(), backend.Device())
		}
	}
	return multi.BackwardMulti(outputGrads, backend)
}

// accumulate adds each input gradient into grads, summing when a tensor
// feeds several operations (residual connections, for example).
func accumulate(
	inputs, inputGrads []*tensor.RawTensor,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	backend tensor.Backend,
) {
	for j, input := range inputs {
		if j >= len(inputGrads) || inputGrads[j] == nil {
			continue
		}
		if existing, ok := grads[input]; ok {
			grads[input] = backend.Add(existing, inputGrads[j])
		} else {
			grads[input] = inputGrads[j]
		}
	}
}
