package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/deeplab/internal/parallel"
	"github.com/born-ml/deeplab/internal/tensor"
)

// convGeom holds the sizes of one convolution call.
type convGeom struct {
	n, cIn, h, w     int
	cOut, kH, kW     int
	hOut, wOut       int
	stride, pad, dil int
}

// k is the reduction length of the lowered matmul.
func (g convGeom) k() int { return g.cIn * g.kH * g.kW }

// p is the number of output positions per image.
func (g convGeom) p() int { return g.hOut * g.wOut }

// pointwise reports whether the convolution is a plain 1×1 projection whose
// im2col matrix is the input plane itself.
func (g convGeom) pointwise() bool {
	return g.kH == 1 && g.kW == 1 && g.stride == 1 && g.pad == 0
}

func newConvGeom(op string, input, kernel *tensor.RawTensor, p tensor.Conv2DParams) convGeom {
	mustFloat32(op, input, kernel)
	mustRank4(op, input)
	mustRank4(op, kernel)
	if err := p.Validate(); err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}

	n, cIn, h, w := input.Shape().NCHW()
	cOut, cInK, kH, kW := kernel.Shape().NCHW()
	if cIn != cInK {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, cIn, cInK))
	}

	hOut, wOut := p.OutputSize(h, w, kH, kW)
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output size %dx%d for input %dx%d (check stride/padding/dilation)",
			op, hOut, wOut, h, w))
	}

	return convGeom{
		n: n, cIn: cIn, h: h, w: w,
		cOut: cOut, kH: kH, kW: kW,
		hOut: hOut, wOut: wOut,
		stride: p.Stride, pad: p.Padding, dil: p.Dilation,
	}
}

// Conv2D performs 2D convolution using im2col followed by SGEMM.
//
// Input shape: [N, C_in, H, W]
// Kernel shape: [C_out, C_in, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// Per image:
//  1. im2col: [C_in, H, W] -> col [C_in*K_h*K_w, H_out*W_out]
//  2. GEMM:   kernel [C_out, C_in*K_h*K_w] × col -> [C_out, H_out*W_out]
//
// The GEMM result is already in NCHW order, so no rearrangement pass is
// needed. Dilation spaces the kernel taps, which is how the backbone and
// ASPP enlarge their receptive field without striding.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, p tensor.Conv2DParams) *tensor.RawTensor {
	g := newConvGeom("conv2d", input, kernel, p)

	output := cpu.alloc(tensor.Shape{g.n, g.cOut, g.hOut, g.wOut})
	in := input.AsFloat32()
	out := output.AsFloat32()

	kMat := blas32.General{Rows: g.cOut, Cols: g.k(), Stride: g.k(), Data: kernel.AsFloat32()}

	var col []float32
	if !g.pointwise() {
		col = make([]float32, g.k()*g.p())
	}

	for n := 0; n < g.n; n++ {
		img := in[n*g.cIn*g.h*g.w : (n+1)*g.cIn*g.h*g.w]
		if g.pointwise() {
			col = img
		} else {
			cpu.im2col(col, img, g)
		}

		colMat := blas32.General{Rows: g.k(), Cols: g.p(), Stride: g.p(), Data: col}
		outMat := blas32.General{
			Rows: g.cOut, Cols: g.p(), Stride: g.p(),
			Data: out[n*g.cOut*g.p() : (n+1)*g.cOut*g.p()],
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, kMat, colMat, 0, outMat)
	}

	return output
}

// im2col unrolls one [C, H, W] image into col [C*K_h*K_w, H_out*W_out].
// Row (c, kh, kw) holds the input value that tap sees at every output
// position; taps that land in the padding read zero.
func (cpu *CPUBackend) im2col(col, img []float32, g convGeom) {
	pOut := g.p()
	parallel.For(g.cIn, cpu.par, func(c int) {
		plane := img[c*g.h*g.w : (c+1)*g.h*g.w]
		for kh := 0; kh < g.kH; kh++ {
			for kw := 0; kw < g.kW; kw++ {
				row := col[((c*g.kH+kh)*g.kW+kw)*pOut:][:pOut]
				for oh := 0; oh < g.hOut; oh++ {
					ih := oh*g.stride - g.pad + kh*g.dil
					dst := row[oh*g.wOut : (oh+1)*g.wOut]
					if ih < 0 || ih >= g.h {
						clear(dst)
						continue
					}
					src := plane[ih*g.w : (ih+1)*g.w]
					for ow := range dst {
						iw := ow*g.stride - g.pad + kw*g.dil
						if iw >= 0 && iw < g.w {
							dst[ow] = src[iw]
						} else {
							dst[ow] = 0
						}
					}
				}
			}
		}
	})
}

// col2im is the adjoint of im2col: it scatters col back onto a zeroed
// [C, H, W] image, summing every tap that read the same pixel.
func (cpu *CPUBackend) col2im(img, col []float32, g convGeom) {
	pOut := g.p()
	parallel.For(g.cIn, cpu.par, func(c int) {
		plane := img[c*g.h*g.w : (c+1)*g.h*g.w]
		for kh := 0; kh < g.kH; kh++ {
			for kw := 0; kw < g.kW; kw++ {
				row := col[((c*g.kH+kh)*g.kW+kw)*pOut:][:pOut]
				for oh := 0; oh < g.hOut; oh++ {
					ih := oh*g.stride - g.pad + kh*g.dil
					if ih < 0 || ih >= g.h {
						continue
					}
					dst := plane[ih*g.w : (ih+1)*g.w]
					src := row[oh*g.wOut : (oh+1)*g.wOut]
					for ow, v := range src {
						iw := ow*g.stride - g.pad + kw*g.dil
						if iw >= 0 && iw < g.w {
							dst[iw] += v
						}
					}
				}
			}
		}
	})
}
