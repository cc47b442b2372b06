package tensor

import "fmt"

// Conv2DParams describes a symmetric 2D convolution.
type Conv2DParams struct {
	Stride   int
	Padding  int
	Dilation int
}

// OutputSize returns the spatial size produced by a kernel of size kh×kw
// applied to an h×w input.
//
//	out = (in + 2*padding - dilation*(k-1) - 1) / stride + 1
func (p Conv2DParams) OutputSize(h, w, kh, kw int) (int, int) {
	outH := (h+2*p.Padding-p.Dilation*(kh-1)-1)/p.Stride + 1
	outW := (w+2*p.Padding-p.Dilation*(kw-1)-1)/p.Stride + 1
	return outH, outW
}

// Validate checks stride, padding and dilation.
func (p Conv2DParams) Validate() error {
	if p.Stride <= 0 {
		return fmt.Errorf("invalid stride %d", p.Stride)
	}
	if p.Padding < 0 {
		return fmt.Errorf("invalid padding %d", p.Padding)
	}
	if p.Dilation <= 0 {
		return fmt.Errorf("invalid dilation %d", p.Dilation)
	}
	return nil
}

// Pool2DParams describes a square pooling window.
type Pool2DParams struct {
	Kernel  int
	Stride  int
	Padding int
}

// OutputSize returns the pooled spatial size for an h×w input.
func (p Pool2DParams) OutputSize(h, w int) (int, int) {
	return (h+2*p.Padding-p.Kernel)/p.Stride + 1, (w+2*p.Padding-p.Kernel)/p.Stride + 1
}

// BatchNormStats holds the per-channel statistics a batch-norm call
// normalises with. FromBatch marks statistics computed from the input itself
// (training mode), so gradients must flow through them.
type BatchNormStats struct {
	Mean      []float32
	InvStd    []float32
	FromBatch bool
}

// Backend defines the operations a compute backend must provide.
//
// Backends never mutate their inputs. Forward kernels and the matching
// backward kernels live side by side so the autodiff decorator can stay pure
// orchestration.
type Backend interface {
	// Element-wise binary operations with broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Scalar operations.
	MulScalar(x *RawTensor, scalar float32) *RawTensor
	AddScalar(x *RawTensor, scalar float32) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor                     // total sum, scalar result
	SumToShape(x *RawTensor, shape Shape) *RawTensor // undo broadcasting
	Argmax(x *RawTensor, dim int) *RawTensor         // int32 indices, dim removed

	// Shape manipulation.
	Reshape(x *RawTensor, newShape Shape) *RawTensor
	Cat(tensors []*RawTensor, dim int) *RawTensor
	Split(x *RawTensor, sizes []int, dim int) []*RawTensor

	// Activations.
	ReLU(x *RawTensor) *RawTensor
	ReLUBackward(x, grad *RawTensor) *RawTensor

	// Convolution, [N,C,H,W] input and [C_out,C_in,K_h,K_w] kernel.
	Conv2D(input, kernel *RawTensor, p Conv2DParams) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, p Conv2DParams) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, p Conv2DParams) *RawTensor

	// Pooling. MaxPool2D returns the flat input index of every window max.
	MaxPool2D(input *RawTensor, p Pool2DParams) (*RawTensor, []int32)
	MaxPool2DBackward(input, grad *RawTensor, indices []int32) *RawTensor
	GlobalAvgPool2D(input *RawTensor) *RawTensor
	GlobalAvgPool2DBackward(input, grad *RawTensor) *RawTensor

	// Batch normalisation over N,H,W per channel.
	ChannelMoments(x *RawTensor) (mean, variance []float32)
	BatchNorm2D(x, gamma, beta *RawTensor, stats BatchNormStats) *RawTensor
	BatchNorm2DBackward(x, gamma, grad *RawTensor, stats BatchNormStats) (dx, dgamma, dbeta *RawTensor)

	// Bilinear resize with half-pixel centers (no corner alignment).
	Interpolate(x *RawTensor, outH, outW int) *RawTensor
	InterpolateBackward(inputShape Shape, grad *RawTensor) *RawTensor

	// Pixel-wise softmax cross-entropy over dim 1 of [N,C,H,W] logits
	// against [N,H,W] int32 targets, mean over non-ignored pixels.
	CrossEntropy2D(logits, targets *RawTensor, ignoreIndex int32) *RawTensor
	CrossEntropy2DBackward(logits, targets *RawTensor, ignoreIndex int32, grad float32) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
