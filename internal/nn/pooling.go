package nn

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/tensor"
)

// GlobalAvgPool2D averages every channel over its spatial extent:
// [N, C, H, W] -> [N, C, 1, 1].
type GlobalAvgPool2D[B tensor.Backend] struct {
	backend B
}

// NewGlobalAvgPool2D creates a global average pooling layer.
func NewGlobalAvgPool2D[B tensor.Backend](backend B) *GlobalAvgPool2D[B] {
	return &GlobalAvgPool2D[B]{backend: backend}
}

// Forward performs global average pooling.
func (g *GlobalAvgPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return tensor.New[float32, B](g.backend.GlobalAvgPool2D(input.Raw()), g.backend)
}

// Parameters returns nil; pooling has no weights.
func (g *GlobalAvgPool2D[B]) Parameters() []*Parameter[B] {
	return nil
}

// String returns a string representation of the layer.
func (g *GlobalAvgPool2D[B]) String() string {
	return "AdaptiveAvgPool2d(output_size=1)"
}

// Interpolate bilinearly resizes an [N, C, H, W] tensor to [N, C, h, w]
// using half-pixel centers (no corner alignment).
func Interpolate[B tensor.Backend](input *tensor.Tensor[float32, B], h, w int) *tensor.Tensor[float32, B] {
	if h <= 0 || w <= 0 {
		panic(fmt.Sprintf("interpolate: invalid target size %dx%d", h, w))
	}
	backend := input.Backend()
	return tensor.New[float32, B](backend.Interpolate(input.Raw(), h, w), backend)
}
