package nn

import (
	"math"

	"github.com/born-ml/deeplab/internal/tensor"
)

// KaimingNormal draws weights from N(0, 2/fanOut), the He initialisation in
// fan-out mode used for ReLU networks.
//
// For a conv kernel [out, in, kh, kw], fanOut = out * kh * kw.
func KaimingNormal[B tensor.Backend](fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	t := tensor.Randn(shape, backend)
	std := float32(math.Sqrt(2.0 / float64(fanOut)))
	data := t.Data()
	for i := range data {
		data[i] *= std
	}
	return t
}

// Zeros creates a zero-initialized tensor.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

// Ones creates a one-initialized tensor.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Ones[float32](shape, backend)
}
