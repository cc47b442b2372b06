package autodiff

import (
	"errors"
	"fmt"

	"github.com/born-ml/deeplab/internal/tensor"
)

// ErrEmptyTape is returned when Backward is called with nothing recorded.
var ErrEmptyTape = errors.New("autodiff: no operations recorded")

// BackwardCapable is implemented by backends that own a gradient tape.
type BackwardCapable interface {
	tensor.Backend
	GetTape() *GradientTape
}

// GetTape returns the gradient tape (implements BackwardCapable).
func (b *AutodiffBackend[B]) GetTape() *GradientTape {
	return b.tape
}

// Backward computes gradients of a scalar tensor with respect to everything
// recorded on the backend's tape.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x, _ := tensor.FromSlice([]float32{3}, tensor.Shape{1}, backend)
//	y := x.Mul(x).Sum()
//	grads, _ := autodiff.Backward(y, backend)
//	grads[x.Raw()] // [6]
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	return BackwardScaled(t, backend, 1)
}

// BackwardScaled is Backward with the seed gradient set to scale instead of
// one. Dynamic loss scaling uses it to lift small half-precision gradients
// out of the underflow range; every resulting gradient is multiplied by
// scale.
func BackwardScaled[T tensor.DType, B BackwardCapable](
	t *tensor.Tensor[T, B], backend B, scale float32,
) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	tape := backend.GetTape()
	if tape.NumOps() == 0 {
		return nil, ErrEmptyTape
	}
	if t.NumElements() != 1 {
		return nil, fmt.Errorf("autodiff: backward needs a scalar, got shape %v", t.Shape())
	}

	seed, err := tensor.NewRaw(t.Shape(), tensor.Float32, backend.Device())
	if err != nil {
		return nil, fmt.Errorf("autodiff: seed: %w", err)
	}
	seed.AsFloat32()[0] = scale

	return tape.Backward(t.Raw(), seed, backend)
}
