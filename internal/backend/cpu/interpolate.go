package cpu

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/parallel"
	"github.com/born-ml/deeplab/internal/tensor"
)

// lerpAxis precomputes, for every output coordinate along one axis, the two
// source coordinates and the weight of the second one.
type lerpAxis struct {
	lo, hi []int
	frac   []float32
}

// newLerpAxis uses half-pixel centers without corner alignment:
//
//	src = (dst + 0.5) * in/out - 0.5, clamped at 0
func newLerpAxis(in, out int) lerpAxis {
	a := lerpAxis{
		lo:   make([]int, out),
		hi:   make([]int, out),
		frac: make([]float32, out),
	}
	scale := float32(in) / float32(out)
	for i := 0; i < out; i++ {
		src := (float32(i)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		lo := int(src)
		if lo > in-1 {
			lo = in - 1
		}
		hi := lo
		if lo < in-1 {
			hi = lo + 1
		}
		a.lo[i] = lo
		a.hi[i] = hi
		a.frac[i] = src - float32(lo)
	}
	return a
}

// Interpolate resizes the spatial dimensions of an [N, C, H, W] tensor to
// outH×outW with bilinear interpolation (no corner alignment).
// When the size is unchanged the input is copied.
func (cpu *CPUBackend) Interpolate(x *tensor.RawTensor, outH, outW int) *tensor.RawTensor {
	mustFloat32("interpolate", x)
	mustRank4("interpolate", x)
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("interpolate: invalid target size %dx%d", outH, outW))
	}

	n, c, h, w := x.Shape().NCHW()
	if h == outH && w == outW {
		return x.Clone()
	}

	output := cpu.alloc(tensor.Shape{n, c, outH, outW})
	out := output.AsFloat32()
	in := x.AsFloat32()
	ay, ax := newLerpAxis(h, outH), newLerpAxis(w, outW)

	parallel.For(n*c, cpu.par, func(k int) {
		src := in[k*h*w : (k+1)*h*w]
		dst := out[k*outH*outW : (k+1)*outH*outW]
		for oy := 0; oy < outH; oy++ {
			y0, y1, fy := ay.lo[oy], ay.hi[oy], ay.frac[oy]
			r0, r1 := src[y0*w:(y0+1)*w], src[y1*w:(y1+1)*w]
			row := dst[oy*outW : (oy+1)*outW]
			for ox := range row {
				x0, x1, fx := ax.lo[ox], ax.hi[ox], ax.frac[ox]
				top := r0[x0] + (r0[x1]-r0[x0])*fx
				bottom := r1[x0] + (r1[x1]-r1[x0])*fx
				row[ox] = top + (bottom-top)*fy
			}
		}
	})
	return output
}

// InterpolateBackward distributes each output gradient onto the four source
// pixels with the same bilinear weights as the forward pass.
func (cpu *CPUBackend) InterpolateBackward(inputShape tensor.Shape, grad *tensor.RawTensor) *tensor.RawTensor {
	mustFloat32("interpolate_backward", grad)

	n, c, h, w := inputShape.NCHW()
	_, _, outH, outW := grad.Shape().NCHW()
	if h == outH && w == outW {
		return grad.Clone()
	}

	inputGrad := cpu.alloc(inputShape)
	dx := inputGrad.AsFloat32()
	dy := grad.AsFloat32()
	ay, ax := newLerpAxis(h, outH), newLerpAxis(w, outW)

	parallel.For(n*c, cpu.par, func(k int) {
		src := dy[k*outH*outW : (k+1)*outH*outW]
		dst := dx[k*h*w : (k+1)*h*w]
		for oy := 0; oy < outH; oy++ {
			y0, y1, fy := ay.lo[oy], ay.hi[oy], ay.frac[oy]
			for ox := 0; ox < outW; ox++ {
				x0, x1, fx := ax.lo[ox], ax.hi[ox], ax.frac[ox]
				g := src[oy*outW+ox]
				dst[y0*w+x0] += g * (1 - fy) * (1 - fx)
				dst[y0*w+x1] += g * (1 - fy) * fx
				dst[y1*w+x0] += g * fy * (1 - fx)
				dst[y1*w+x1] += g * fy * fx
			}
		}
	})
	return inputGrad
}
