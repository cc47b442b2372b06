package cpu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/born-ml/deeplab/internal/tensor"
)

// naiveConv2D is a direct seven-loop convolution used as the reference.
func naiveConv2D(input, kernel *tensor.RawTensor, p tensor.Conv2DParams) []float32 {
	n, cIn, h, w := input.Shape().NCHW()
	cOut, _, kH, kW := kernel.Shape().NCHW()
	hOut, wOut := p.OutputSize(h, w, kH, kW)
	in, k := input.AsFloat32(), kernel.AsFloat32()

	out := make([]float32, n*cOut*hOut*wOut)
	for b := 0; b < n; b++ {
		for co := 0; co < cOut; co++ {
			for oh := 0; oh < hOut; oh++ {
				for ow := 0; ow < wOut; ow++ {
					var sum float32
					for ci := 0; ci < cIn; ci++ {
						for kh := 0; kh < kH; kh++ {
							for kw := 0; kw < kW; kw++ {
								ih := oh*p.Stride - p.Padding + kh*p.Dilation
								iw := ow*p.Stride - p.Padding + kw*p.Dilation
								if ih < 0 || ih >= h || iw < 0 || iw >= w {
									continue
								}
								sum += in[((b*cIn+ci)*h+ih)*w+iw] * k[((co*cIn+ci)*kH+kh)*kW+kw]
							}
						}
					}
					out[((b*cOut+co)*hOut+oh)*wOut+ow] = sum
				}
			}
		}
	}
	return out
}

var convCases = []struct {
	name   string
	input  tensor.Shape
	kernel tensor.Shape
	params tensor.Conv2DParams
}{
	{"3x3 same", tensor.Shape{2, 3, 6, 5}, tensor.Shape{4, 3, 3, 3}, tensor.Conv2DParams{Stride: 1, Padding: 1, Dilation: 1}},
	{"stride 2", tensor.Shape{1, 2, 7, 7}, tensor.Shape{3, 2, 3, 3}, tensor.Conv2DParams{Stride: 2, Padding: 1, Dilation: 1}},
	{"dilated", tensor.Shape{1, 2, 9, 8}, tensor.Shape{2, 2, 3, 3}, tensor.Conv2DParams{Stride: 1, Padding: 2, Dilation: 2}},
	{"dilation beyond input", tensor.Shape{1, 1, 3, 3}, tensor.Shape{1, 1, 3, 3}, tensor.Conv2DParams{Stride: 1, Padding: 6, Dilation: 6}},
	{"pointwise", tensor.Shape{2, 4, 3, 3}, tensor.Shape{5, 4, 1, 1}, tensor.Conv2DParams{Stride: 1, Padding: 0, Dilation: 1}},
	{"pointwise strided", tensor.Shape{1, 3, 5, 5}, tensor.Shape{2, 3, 1, 1}, tensor.Conv2DParams{Stride: 2, Padding: 0, Dilation: 1}},
	{"7x7 stem", tensor.Shape{1, 3, 10, 10}, tensor.Shape{2, 3, 7, 7}, tensor.Conv2DParams{Stride: 2, Padding: 3, Dilation: 1}},
}

func TestConv2D_MatchesDirect(t *testing.T) {
	backend := newTestBackend()
	rng := rand.New(rand.NewSource(1))

	for _, tc := range convCases {
		t.Run(tc.name, func(t *testing.T) {
			input := randRaw(t, rng, tc.input)
			kernel := randRaw(t, rng, tc.kernel)

			got := backend.Conv2D(input, kernel, tc.params)
			assertClose(t, naiveConv2D(input, kernel, tc.params), got.AsFloat32(), 1e-4)
		})
	}
}

// Conv2D is linear in both operands, so <conv(x, k), g> must equal
// <x, dX> and <k, dK> where dX and dK are the backward results for g.
func TestConv2D_BackwardAdjoint(t *testing.T) {
	backend := newTestBackend()
	rng := rand.New(rand.NewSource(2))

	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}

	for _, tc := range convCases {
		t.Run(tc.name, func(t *testing.T) {
			input := randRaw(t, rng, tc.input)
			kernel := randRaw(t, rng, tc.kernel)
			out := backend.Conv2D(input, kernel, tc.params)
			grad := randRaw(t, rng, out.Shape())

			dx := backend.Conv2DInputBackward(input, kernel, grad, tc.params)
			dk := backend.Conv2DKernelBackward(input, kernel, grad, tc.params)
			assert.Equal(t, input.Shape(), dx.Shape())
			assert.Equal(t, kernel.Shape(), dk.Shape())

			lhs := dot(out.AsFloat32(), grad.AsFloat32())
			assert.InDelta(t, lhs, dot(input.AsFloat32(), dx.AsFloat32()), 1e-2)
			assert.InDelta(t, lhs, dot(kernel.AsFloat32(), dk.AsFloat32()), 1e-2)
		})
	}
}

func TestConv2D_InvalidShapes(t *testing.T) {
	backend := newTestBackend()
	input := tensor.MustNewRaw(tensor.Shape{1, 3, 4, 4}, tensor.Float32, tensor.CPU)
	kernel := tensor.MustNewRaw(tensor.Shape{2, 2, 3, 3}, tensor.Float32, tensor.CPU)
	p := tensor.Conv2DParams{Stride: 1, Padding: 1, Dilation: 1}

	assert.Panics(t, func() { backend.Conv2D(input, kernel, p) })
	assert.Panics(t, func() {
		backend.Conv2D(input, tensor.MustNewRaw(tensor.Shape{2, 3, 3, 3}, tensor.Float32, tensor.CPU),
			tensor.Conv2DParams{Stride: 0, Dilation: 1})
	})
}
