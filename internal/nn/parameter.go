package nn

import (
	"github.com/born-ml/deeplab/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// The optimizer updates the parameter tensor in place; gradients are looked up
// by the parameter's raw tensor in the map returned from autodiff.Backward.
//
// Example:
//
//	weight := nn.NewParameter("layer1.0.conv1.weight", weightTensor)
//	dw := grads[weight.Tensor().Raw()]
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
	grad   *tensor.Tensor[float32, B]
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the fully qualified parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Grad returns the gradient tensor, or nil before a backward pass.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[float32, B]) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

// Buffer is named module state that is saved with the model but never
// trained, such as batch-norm running statistics.
type Buffer[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
}

// NewBuffer creates a named buffer.
func NewBuffer[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Buffer[B] {
	return &Buffer[B]{name: name, tensor: t}
}

// Name returns the fully qualified buffer name.
func (b *Buffer[B]) Name() string {
	return b.name
}

// Tensor returns the buffer tensor.
func (b *Buffer[B]) Tensor() *tensor.Tensor[float32, B] {
	return b.tensor
}
