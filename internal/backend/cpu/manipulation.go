package cpu

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/tensor"
)

// Reshape returns a view of t with a new shape. No data is copied; backends
// never write to their inputs, so sharing storage is safe.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	view, err := t.View(newShape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return view
}

// Cat concatenates tensors along dim. All other dimensions and the element
// type must match. Works on raw bytes, so any dtype is supported.
//
// Example:
//
//	// ASPP: five [N, 256, H, W] branches -> [N, 1280, H, W]
//	out := backend.Cat(branches, 1)
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: at least one tensor required")
	}

	first := tensors[0]
	rank := len(first.Shape())
	if dim < 0 {
		dim += rank
	}
	if dim < 0 || dim >= rank {
		panic(fmt.Sprintf("cat: dim %d out of range for rank %d", dim, rank))
	}

	outShape := first.Shape().Clone()
	outShape[dim] = 0
	for i, t := range tensors {
		if t.DType() != first.DType() {
			panic(fmt.Sprintf("cat: tensor %d has dtype %s, expected %s", i, t.DType(), first.DType()))
		}
		s := t.Shape()
		if len(s) != rank {
			panic(fmt.Sprintf("cat: tensor %d has rank %d, expected %d", i, len(s), rank))
		}
		for d := range s {
			if d != dim && s[d] != first.Shape()[d] {
				panic(fmt.Sprintf("cat: tensor %d shape %v incompatible with %v along dim %d", i, s, first.Shape(), d))
			}
		}
		outShape[dim] += s[dim]
	}

	result := tensor.MustNewRaw(outShape, first.DType(), cpu.device)
	elem := first.DType().Size()
	outer := tensor.Shape(outShape[:dim]).NumElements()
	inner := tensor.Shape(outShape[dim+1:]).NumElements() * elem
	out := result.Data()
	rowBytes := outShape[dim] * inner

	offset := 0
	for _, t := range tensors {
		chunk := t.Shape()[dim] * inner
		src := t.Data()
		for o := 0; o < outer; o++ {
			copy(out[o*rowBytes+offset:o*rowBytes+offset+chunk], src[o*chunk:(o+1)*chunk])
		}
		offset += chunk
	}
	return result
}

// Split is the inverse of Cat: it cuts x along dim into pieces of the given
// sizes, which must add up to x.Shape()[dim].
func (cpu *CPUBackend) Split(x *tensor.RawTensor, sizes []int, dim int) []*tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("split: dim %d out of range for shape %v", dim, shape))
	}

	total := 0
	for _, s := range sizes {
		total += s
	}
	if total != shape[dim] {
		panic(fmt.Sprintf("split: sizes %v do not add up to %d", sizes, shape[dim]))
	}

	elem := x.DType().Size()
	outer := tensor.Shape(shape[:dim]).NumElements()
	inner := tensor.Shape(shape[dim+1:]).NumElements() * elem
	rowBytes := shape[dim] * inner
	src := x.Data()

	parts := make([]*tensor.RawTensor, len(sizes))
	offset := 0
	for i, size := range sizes {
		partShape := shape.Clone()
		partShape[dim] = size
		part := tensor.MustNewRaw(partShape, x.DType(), cpu.device)
		dst := part.Data()
		chunk := size * inner
		for o := 0; o < outer; o++ {
			copy(dst[o*chunk:(o+1)*chunk], src[o*rowBytes+offset:o*rowBytes+offset+chunk])
		}
		parts[i] = part
		offset += chunk
	}
	return parts
}
