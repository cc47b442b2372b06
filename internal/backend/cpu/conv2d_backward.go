package cpu

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/deeplab/internal/tensor"
)

// Conv2DInputBackward computes the gradient w.r.t. the convolution input.
//
// Per image:
//
//	dcol = kernelᵀ [C_in*K_h*K_w, C_out] × grad [C_out, H_out*W_out]
//	dx   = col2im(dcol)
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, p tensor.Conv2DParams) *tensor.RawTensor {
	g := newConvGeom("conv2d_input_backward", input, kernel, p)
	mustFloat32("conv2d_input_backward", grad)

	inputGrad := cpu.alloc(input.Shape())
	dx := inputGrad.AsFloat32()
	dy := grad.AsFloat32()

	kMat := blas32.General{Rows: g.cOut, Cols: g.k(), Stride: g.k(), Data: kernel.AsFloat32()}

	var dcol []float32
	if !g.pointwise() {
		dcol = make([]float32, g.k()*g.p())
	}

	imgSize := g.cIn * g.h * g.w
	for n := 0; n < g.n; n++ {
		target := dx[n*imgSize : (n+1)*imgSize]
		if g.pointwise() {
			// col2im of a 1×1 stride-1 conv is the identity; write straight
			// into the gradient plane.
			dcol = target
		}

		gradMat := blas32.General{
			Rows: g.cOut, Cols: g.p(), Stride: g.p(),
			Data: dy[n*g.cOut*g.p() : (n+1)*g.cOut*g.p()],
		}
		dcolMat := blas32.General{Rows: g.k(), Cols: g.p(), Stride: g.p(), Data: dcol}
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, kMat, gradMat, 0, dcolMat)

		if !g.pointwise() {
			cpu.col2im(target, dcol, g)
		}
	}

	return inputGrad
}

// Conv2DKernelBackward computes the gradient w.r.t. the convolution kernel,
// accumulated over the batch:
//
//	dK += grad [C_out, H_out*W_out] × colᵀ [H_out*W_out, C_in*K_h*K_w]
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, p tensor.Conv2DParams) *tensor.RawTensor {
	g := newConvGeom("conv2d_kernel_backward", input, kernel, p)
	mustFloat32("conv2d_kernel_backward", grad)

	kernelGrad := cpu.alloc(kernel.Shape())
	in := input.AsFloat32()
	dy := grad.AsFloat32()

	dkMat := blas32.General{Rows: g.cOut, Cols: g.k(), Stride: g.k(), Data: kernelGrad.AsFloat32()}

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

		gradMat := blas32.General{
			Rows: g.cOut, Cols: g.p(), Stride: g.p(),
			Data: dy[n*g.cOut*g.p() : (n+1)*g.cOut*g.p()],
		}
		colMat := blas32.General{Rows: g.k(), Cols: g.p(), Stride: g.p(), Data: col}
		blas32.Gemm(blas.NoTrans, blas.Trans, 1, gradMat, colMat, 1, dkMat)
	}

	return kernelGrad
}
