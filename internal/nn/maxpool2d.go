package nn

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/tensor"
)

// MaxPool2D applies 2D max pooling with implicit -inf padding.
//
// Example:
//
//	// ResNet stem pooling: stride 4 after the 7x7/2 conv
//	pool := nn.NewMaxPool2D[B](3, 2, 1, backend)
type MaxPool2D[B tensor.Backend] struct {
	params  tensor.Pool2DParams
	backend B
}

// NewMaxPool2D creates a max pooling layer.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride, padding int, backend B) *MaxPool2D[B] {
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel %d or stride %d", kernelSize, stride))
	}
	if padding < 0 || 2*padding > kernelSize {
		panic(fmt.Sprintf("maxpool2d: padding %d must be in [0, kernel/2]", padding))
	}
	return &MaxPool2D[B]{
		params:  tensor.Pool2DParams{Kernel: kernelSize, Stride: stride, Padding: padding},
		backend: backend,
	}
}

// Forward performs max pooling.
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out, _ := m.backend.MaxPool2D(input.Raw(), m.params)
	return tensor.New[float32, B](out, m.backend)
}

// Parameters returns nil; pooling has no weights.
func (m *MaxPool2D[B]) Parameters() []*Parameter[B] {
	return nil
}

// ComputeOutputSize computes output spatial dimensions for given input size.
func (m *MaxPool2D[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	h, w := m.params.OutputSize(inputH, inputW)
	return [2]int{h, w}
}

// String returns a string representation of the layer.
func (m *MaxPool2D[B]) String() string {
	return fmt.Sprintf("MaxPool2D(kernel_size=%d, stride=%d, padding=%d)", m.params.Kernel, m.params.Stride, m.params.Padding)
}
