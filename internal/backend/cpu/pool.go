package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/deeplab/internal/parallel"
	"github.com/born-ml/deeplab/internal/tensor"
)

// MaxPool2D performs 2D max pooling with implicit -inf padding.
//
// Returns the pooled tensor and, for every output element, the flat index
// of the winning input element. The backward pass routes gradients through
// those indices.
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, p tensor.Pool2DParams) (*tensor.RawTensor, []int32) {
	mustFloat32("maxpool2d", input)
	mustRank4("maxpool2d", input)
	if p.Kernel <= 0 || p.Stride <= 0 || p.Padding < 0 || 2*p.Padding > p.Kernel {
		panic(fmt.Sprintf("maxpool2d: invalid params %+v", p))
	}

	n, c, h, w := input.Shape().NCHW()
	hOut, wOut := p.OutputSize(h, w)
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("maxpool2d: input %dx%d too small for %+v", h, w, p))
	}

	output := cpu.alloc(tensor.Shape{n, c, hOut, wOut})
	out := output.AsFloat32()
	in := input.AsFloat32()
	indices := make([]int32, n*c*hOut*wOut)

	parallel.ForBatch(n, c, cpu.par, func(b, ch int) {
		inBase := (b*c + ch) * h * w
		outBase := (b*c + ch) * hOut * wOut
		for oh := 0; oh < hOut; oh++ {
			for ow := 0; ow < wOut; ow++ {
				best := float32(math.Inf(-1))
				bestIdx := -1
				for kh := 0; kh < p.Kernel; kh++ {
					ih := oh*p.Stride - p.Padding + kh
					if ih < 0 || ih >= h {
						continue
					}
					for kw := 0; kw < p.Kernel; kw++ {
						iw := ow*p.Stride - p.Padding + kw
						if iw < 0 || iw >= w {
							continue
						}
						idx := inBase + ih*w + iw
						if v := in[idx]; bestIdx < 0 || v > best {
							best = v
							bestIdx = idx
						}
					}
				}
				o := outBase + oh*wOut + ow
				out[o] = best
				indices[o] = int32(bestIdx) //nolint:gosec // tensor sizes fit int32
			}
		}
	})

	return output, indices
}

// MaxPool2DBackward scatters grad onto the input positions recorded by
// MaxPool2D. Overlapping windows that chose the same element accumulate.
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.RawTensor, indices []int32) *tensor.RawTensor {
	mustFloat32("maxpool2d_backward", grad)
	if len(indices) != grad.NumElements() {
		panic(fmt.Sprintf("maxpool2d_backward: %d indices for %d gradient elements", len(indices), grad.NumElements()))
	}

	n, c, _, _ := grad.Shape().NCHW()
	inputGrad := cpu.alloc(input.Shape())
	dx := inputGrad.AsFloat32()
	dy := grad.AsFloat32()
	plane := grad.NumElements() / (n * c)

	// Indices of one (n, c) plane never leave that plane, so planes can be
	// processed concurrently.
	parallel.For(n*c, cpu.par, func(k int) {
		for o := k * plane; o < (k+1)*plane; o++ {
			dx[indices[o]] += dy[o]
		}
	})
	return inputGrad
}

// GlobalAvgPool2D averages every channel plane: [N, C, H, W] -> [N, C, 1, 1].
func (cpu *CPUBackend) GlobalAvgPool2D(input *tensor.RawTensor) *tensor.RawTensor {
	mustFloat32("global_avg_pool2d", input)
	mustRank4("global_avg_pool2d", input)

	n, c, h, w := input.Shape().NCHW()
	output := cpu.alloc(tensor.Shape{n, c, 1, 1})
	out := output.AsFloat32()
	in := input.AsFloat32()
	hw := h * w

	parallel.For(n*c, cpu.par, func(k int) {
		var acc float64
		for _, v := range in[k*hw : (k+1)*hw] {
			acc += float64(v)
		}
		out[k] = float32(acc / float64(hw))
	})
	return output
}

// GlobalAvgPool2DBackward spreads each [N, C, 1, 1] gradient evenly over its
// input plane.
func (cpu *CPUBackend) GlobalAvgPool2DBackward(input, grad *tensor.RawTensor) *tensor.RawTensor {
	mustFloat32("global_avg_pool2d_backward", grad)

	n, c, h, w := input.Shape().NCHW()
	inputGrad := cpu.alloc(input.Shape())
	dx := inputGrad.AsFloat32()
	dy := grad.AsFloat32()
	hw := h * w
	scale := 1 / float32(hw)

	parallel.For(n*c, cpu.par, func(k int) {
		v := dy[k] * scale
		plane := dx[k*hw : (k+1)*hw]
		for i := range plane {
			plane[i] = v
		}
	})
	return inputGrad
}
