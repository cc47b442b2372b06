package cpu

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/parallel"
	"github.com/born-ml/deeplab/internal/tensor"
)

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("div", a, b, func(x, y float32) float32 { return x / y })
}

func (cpu *CPUBackend) binary(op string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	mustFloat32(op, a, b)

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}

	result := cpu.alloc(outShape)
	out := result.AsFloat32()
	aData, bData := a.AsFloat32(), b.AsFloat32()

	if !needsBroadcast {
		for i := range out {
			out[i] = f(aData[i], bData[i])
		}
		return result
	}

	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	forEachIndex(outShape, func(flat int, idx []int) {
		ai, bi := 0, 0
		for d, v := range idx {
			ai += v * aStrides[d]
			bi += v * bStrides[d]
		}
		out[flat] = f(aData[ai], bData[bi])
	})
	return result
}

// broadcastStrides returns strides of shape aligned to the broadcast shape
// out, with 0 for every broadcast dimension.
func broadcastStrides(shape, out tensor.Shape) []int {
	strides := make([]int, len(out))
	own := shape.ComputeStrides()
	offset := len(out) - len(shape)
	for d := range out {
		i := d - offset
		if i < 0 || shape[i] == 1 {
			continue
		}
		strides[d] = own[i]
	}
	return strides
}

// forEachIndex walks shape in row-major order, passing the flat position and
// the multi-index. idx is reused between calls.
func forEachIndex(shape tensor.Shape, f func(flat int, idx []int)) {
	n := shape.NumElements()
	idx := make([]int, len(shape))
	for flat := 0; flat < n; flat++ {
		f(flat, idx)
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
}

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	mustFloat32("mul_scalar", x)
	result := cpu.alloc(x.Shape())
	out := result.AsFloat32()
	for i, v := range x.AsFloat32() {
		out[i] = v * scalar
	}
	return result
}

// AddScalar adds scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	mustFloat32("add_scalar", x)
	result := cpu.alloc(x.Shape())
	out := result.AsFloat32()
	for i, v := range x.AsFloat32() {
		out[i] = v + scalar
	}
	return result
}

// ReLU computes max(x, 0).
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	mustFloat32("relu", x)
	result := cpu.alloc(x.Shape())
	out := result.AsFloat32()
	for i, v := range x.AsFloat32() {
		if v > 0 {
			out[i] = v
		}
	}
	return result
}

// ReLUBackward passes grad through where x > 0.
func (cpu *CPUBackend) ReLUBackward(x, grad *tensor.RawTensor) *tensor.RawTensor {
	mustFloat32("relu_backward", x, grad)
	result := cpu.alloc(x.Shape())
	out := result.AsFloat32()
	g := grad.AsFloat32()
	for i, v := range x.AsFloat32() {
		if v > 0 {
			out[i] = g[i]
		}
	}
	return result
}

// Sum returns the sum of all elements as a scalar tensor.
// Accumulates in float64.
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	mustFloat32("sum", x)
	var acc float64
	for _, v := range x.AsFloat32() {
		acc += float64(v)
	}
	result := cpu.alloc(tensor.Shape{})
	result.AsFloat32()[0] = float32(acc)
	return result
}

// SumToShape sums x over the dimensions that broadcasting expanded, producing
// a tensor of the given shape. It is the adjoint of broadcasting.
//
// Example:
//
//	grad [2, 4, 8, 8] -> bias grad [1, 4, 1, 1]
func (cpu *CPUBackend) SumToShape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	mustFloat32("sum_to_shape", x)
	if x.Shape().Equal(shape) {
		return x.Clone()
	}

	outShape, _, err := tensor.BroadcastShapes(shape, x.Shape())
	if err != nil || !outShape.Equal(x.Shape()) {
		panic(fmt.Sprintf("sum_to_shape: %v does not broadcast to %v", shape, x.Shape()))
	}

	result := cpu.alloc(shape)
	out := result.AsFloat32()
	data := x.AsFloat32()
	strides := broadcastStrides(shape, x.Shape())
	forEachIndex(x.Shape(), func(flat int, idx []int) {
		o := 0
		for d, v := range idx {
			o += v * strides[d]
		}
		out[o] += data[flat]
	})
	return result
}

// Argmax returns int32 indices of the largest value along dim, removing dim
// from the shape. Ties resolve to the lowest index.
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	mustFloat32("argmax", x)
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("argmax: dim %d out of range for shape %v", dim, shape))
	}

	outer := tensor.Shape(shape[:dim]).NumElements()
	size := shape[dim]
	inner := tensor.Shape(shape[dim+1:]).NumElements()

	outShape := make(tensor.Shape, 0, len(shape)-1)
	outShape = append(outShape, shape[:dim]...)
	outShape = append(outShape, shape[dim+1:]...)

	result := tensor.MustNewRaw(outShape, tensor.Int32, cpu.device)
	out := result.AsInt32()
	data := x.AsFloat32()

	parallel.For(outer, cpu.par, func(o int) {
		base := o * size * inner
		for i := 0; i < inner; i++ {
			best := data[base+i]
			bestIdx := 0
			for k := 1; k < size; k++ {
				if v := data[base+k*inner+i]; v > best {
					best = v
					bestIdx = k
				}
			}
			out[o*inner+i] = int32(bestIdx) //nolint:gosec // class count fits int32
		}
	})
	return result
}
