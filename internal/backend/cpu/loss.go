package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/deeplab/internal/parallel"
	"github.com/born-ml/deeplab/internal/tensor"
)

// CrossEntropy2D computes pixel-wise softmax cross-entropy.
//
// logits: [N, C, H, W] float32, targets: [N, H, W] int32.
// Pixels whose target equals ignoreIndex contribute nothing; the result is
// the mean over the remaining pixels, or 0 when every pixel is ignored.
//
// Uses the log-sum-exp trick for numerical stability:
//
//	loss = log(Σ exp(z - max)) + max - z[target]
func (cpu *CPUBackend) CrossEntropy2D(logits, targets *tensor.RawTensor, ignoreIndex int32) *tensor.RawTensor {
	n, c, hw := checkCrossEntropy("cross_entropy2d", logits, targets, ignoreIndex)
	z := logits.AsFloat32()
	t := targets.AsInt32()

	sums := make([]float64, n)
	counts := make([]int, n)
	parallel.For(n, cpu.par, func(b int) {
		base := b * c * hw
		for p := 0; p < hw; p++ {
			target := t[b*hw+p]
			if target == ignoreIndex {
				continue
			}
			maxZ := z[base+p]
			for k := 1; k < c; k++ {
				maxZ = max(maxZ, z[base+k*hw+p])
			}
			var sumExp float64
			for k := 0; k < c; k++ {
				sumExp += math.Exp(float64(z[base+k*hw+p] - maxZ))
			}
			sums[b] += math.Log(sumExp) + float64(maxZ) - float64(z[base+int(target)*hw+p])
			counts[b]++
		}
	})

	var total float64
	count := 0
	for b := range sums {
		total += sums[b]
		count += counts[b]
	}

	result := cpu.alloc(tensor.Shape{})
	if count > 0 {
		result.AsFloat32()[0] = float32(total / float64(count))
	}
	return result
}

// CrossEntropy2DBackward returns d(loss)/d(logits) scaled by grad:
//
//	grad * (softmax(z) - onehot(target)) / validPixels
//
// Ignored pixels receive zero gradient.
func (cpu *CPUBackend) CrossEntropy2DBackward(logits, targets *tensor.RawTensor, ignoreIndex int32, grad float32) *tensor.RawTensor {
	n, c, hw := checkCrossEntropy("cross_entropy2d_backward", logits, targets, ignoreIndex)
	z := logits.AsFloat32()
	t := targets.AsInt32()

	count := 0
	for _, v := range t {
		if v != ignoreIndex {
			count++
		}
	}

	result := cpu.alloc(logits.Shape())
	if count == 0 {
		return result
	}
	dz := result.AsFloat32()
	scale := grad / float32(count)

	parallel.For(n, cpu.par, func(b int) {
		base := b * c * hw
		probs := make([]float64, c)
		for p := 0; p < hw; p++ {
			target := t[b*hw+p]
			if target == ignoreIndex {
				continue
			}
			maxZ := z[base+p]
			for k := 1; k < c; k++ {
				maxZ = max(maxZ, z[base+k*hw+p])
			}
			var sumExp float64
			for k := 0; k < c; k++ {
				probs[k] = math.Exp(float64(z[base+k*hw+p] - maxZ))
				sumExp += probs[k]
			}
			for k := 0; k < c; k++ {
				d := probs[k] / sumExp
				if int32(k) == target { //nolint:gosec // class count fits int32
					d--
				}
				dz[base+k*hw+p] = float32(d) * scale
			}
		}
	})
	return result
}

func checkCrossEntropy(op string, logits, targets *tensor.RawTensor, ignoreIndex int32) (n, c, hw int) {
	mustFloat32(op, logits)
	mustRank4(op, logits)
	if targets.DType() != tensor.Int32 {
		panic(fmt.Sprintf("%s: targets must be int32, got %s", op, targets.DType()))
	}

	n, c, h, w := logits.Shape().NCHW()
	if !targets.Shape().Equal(tensor.Shape{n, h, w}) {
		panic(fmt.Sprintf("%s: targets shape %v does not match logits %v", op, targets.Shape(), logits.Shape()))
	}

	for i, v := range targets.AsInt32() {
		if v != ignoreIndex && (v < 0 || int(v) >= c) {
			panic(fmt.Sprintf("%s: target %d at position %d out of range [0, %d)", op, v, i, c))
		}
	}
	return n, c, h * w
}
