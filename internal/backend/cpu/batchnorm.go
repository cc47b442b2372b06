package cpu

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/parallel"
	"github.com/born-ml/deeplab/internal/tensor"
)

// ChannelMoments returns the per-channel mean and biased variance of an
// [N, C, H, W] tensor, reducing over N, H and W. Accumulates in float64.
func (cpu *CPUBackend) ChannelMoments(x *tensor.RawTensor) (mean, variance []float32) {
	mustFloat32("channel_moments", x)
	mustRank4("channel_moments", x)

	n, c, h, w := x.Shape().NCHW()
	data := x.AsFloat32()
	hw := h * w
	count := float64(n * hw)

	mean = make([]float32, c)
	variance = make([]float32, c)

	parallel.For(c, cpu.par, func(ch int) {
		var sum float64
		for b := 0; b < n; b++ {
			for _, v := range data[(b*c+ch)*hw : (b*c+ch+1)*hw] {
				sum += float64(v)
			}
		}
		mu := sum / count

		var sq float64
		for b := 0; b < n; b++ {
			for _, v := range data[(b*c+ch)*hw : (b*c+ch+1)*hw] {
				d := float64(v) - mu
				sq += d * d
			}
		}

		mean[ch] = float32(mu)
		variance[ch] = float32(sq / count)
	})
	return mean, variance
}

// BatchNorm2D normalises every channel with the given statistics and applies
// the affine transform:
//
//	y = (x - mean) * invStd * gamma + beta
//
// gamma and beta have shape [C].
func (cpu *CPUBackend) BatchNorm2D(x, gamma, beta *tensor.RawTensor, stats tensor.BatchNormStats) *tensor.RawTensor {
	mustFloat32("batchnorm2d", x, gamma, beta)
	mustRank4("batchnorm2d", x)

	n, c, h, w := x.Shape().NCHW()
	mean, invStd := stats.Mean, stats.InvStd
	checkChannels("batchnorm2d", c, gamma.NumElements(), beta.NumElements(), len(mean), len(invStd))

	output := cpu.alloc(x.Shape())
	out := output.AsFloat32()
	in := x.AsFloat32()
	g, bt := gamma.AsFloat32(), beta.AsFloat32()
	hw := h * w

	parallel.ForBatch(n, c, cpu.par, func(b, ch int) {
		scale := invStd[ch] * g[ch]
		shift := bt[ch] - mean[ch]*scale
		base := (b*c + ch) * hw
		for i := base; i < base+hw; i++ {
			out[i] = in[i]*scale + shift
		}
	})
	return output
}

// BatchNorm2DBackward returns gradients w.r.t. x, gamma and beta.
//
// Statistics computed from the batch are functions of x (training mode);
// running statistics are constants:
//
//	x̂      = (x - mean) * invStd
//	dbeta  = Σ grad
//	dgamma = Σ grad * x̂
//	dx     = gamma * invStd / M * (M*grad - dbeta - x̂*dgamma)   (FromBatch)
//	dx     = gamma * invStd * grad                               (otherwise)
func (cpu *CPUBackend) BatchNorm2DBackward(
	x, gamma, grad *tensor.RawTensor, stats tensor.BatchNormStats,
) (dx, dgamma, dbeta *tensor.RawTensor) {
	mustFloat32("batchnorm2d_backward", x, gamma, grad)
	mustRank4("batchnorm2d_backward", x)

	n, c, h, w := x.Shape().NCHW()
	mean, invStd := stats.Mean, stats.InvStd
	checkChannels("batchnorm2d_backward", c, gamma.NumElements(), len(mean), len(invStd))

	dx = cpu.alloc(x.Shape())
	dgamma = cpu.alloc(tensor.Shape{c})
	dbeta = cpu.alloc(tensor.Shape{c})

	in := x.AsFloat32()
	dy := grad.AsFloat32()
	g := gamma.AsFloat32()
	dxData := dx.AsFloat32()
	dgData := dgamma.AsFloat32()
	dbData := dbeta.AsFloat32()
	hw := h * w
	m := float32(n * hw)

	parallel.For(c, cpu.par, func(ch int) {
		mu, is := mean[ch], invStd[ch]

		var sumDy, sumDyXhat float64
		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			for i := base; i < base+hw; i++ {
				sumDy += float64(dy[i])
				sumDyXhat += float64(dy[i] * (in[i] - mu) * is)
			}
		}
		dbData[ch] = float32(sumDy)
		dgData[ch] = float32(sumDyXhat)

		k := g[ch] * is
		for b := 0; b < n; b++ {
			base := (b*c + ch) * hw
			for i := base; i < base+hw; i++ {
				if stats.FromBatch {
					xhat := (in[i] - mu) * is
					dxData[i] = k / m * (m*dy[i] - dbData[ch] - xhat*dgData[ch])
				} else {
					dxData[i] = k * dy[i]
				}
			}
		}
	})
	return dx, dgamma, dbeta
}

func checkChannels(op string, c int, sizes ...int) {
	for _, s := range sizes {
		if s != c {
			panic(fmt.Sprintf("%s: expected %d per-channel values, got %d", op, c, s))
		}
	}
}
