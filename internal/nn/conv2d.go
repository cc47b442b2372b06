package nn

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/tensor"
)

// Conv2DConfig describes a square 2D convolution.
//
// Zero Stride and Dilation default to 1. SamePadding overrides Padding with
// dilation*(k-1)/2, which keeps the spatial size at stride 1.
type Conv2DConfig struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int
	Dilation    int
	SamePadding bool
	Bias        bool
}

func (c Conv2DConfig) params() tensor.Conv2DParams {
	p := tensor.Conv2DParams{Stride: c.Stride, Padding: c.Padding, Dilation: c.Dilation}
	if p.Stride == 0 {
		p.Stride = 1
	}
	if p.Dilation == 0 {
		p.Dilation = 1
	}
	if c.SamePadding {
		p.Padding = p.Dilation * (c.KernelSize - 1) / 2
	}
	return p
}

// Conv2D is a 2D convolutional layer with optional dilation.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, k, k]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out = (in + 2*padding - dilation*(k-1) - 1) / stride + 1
//
// Example:
//
//	// 3x3 atrous conv at rate 12, spatial size preserved
//	conv := nn.NewConv2D("aspp.2.0", nn.Conv2DConfig{
//	    InChannels: 2048, OutChannels: 256, KernelSize: 3, Dilation: 12, SamePadding: true,
//	}, backend)
type Conv2D[B tensor.Backend] struct {
	cfg    Conv2DConfig
	params tensor.Conv2DParams

	weight *Parameter[B] // [out_channels, in_channels, k, k]
	bias   *Parameter[B] // [out_channels] or nil

	backend B
}

// NewConv2D creates a convolution named prefix with Kaiming-normal weights
// and zero bias. Parameters are named prefix.weight and prefix.bias.
func NewConv2D[B tensor.Backend](prefix string, cfg Conv2DConfig, backend B) *Conv2D[B] {
	if cfg.InChannels <= 0 || cfg.OutChannels <= 0 {
		panic(fmt.Sprintf("conv2d %s: invalid channels in=%d, out=%d", prefix, cfg.InChannels, cfg.OutChannels))
	}
	if cfg.KernelSize <= 0 {
		panic(fmt.Sprintf("conv2d %s: invalid kernel size %d", prefix, cfg.KernelSize))
	}
	p := cfg.params()
	if err := p.Validate(); err != nil {
		panic(fmt.Sprintf("conv2d %s: %v", prefix, err))
	}

	k := cfg.KernelSize
	weight := KaimingNormal(cfg.OutChannels*k*k, tensor.Shape{cfg.OutChannels, cfg.InChannels, k, k}, backend)

	c := &Conv2D[B]{
		cfg:     cfg,
		params:  p,
		weight:  NewParameter(Join(prefix, "weight"), weight),
		backend: backend,
	}
	if cfg.Bias {
		c.bias = NewParameter(Join(prefix, "bias"), Zeros(tensor.Shape{cfg.OutChannels}, backend))
	}
	return c
}

// Forward performs the forward pass.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("conv2d %s: expected 4D input [N,C,H,W], got %v", c.weight.Name(), shape))
	}
	if shape[1] != c.cfg.InChannels {
		panic(fmt.Sprintf("conv2d %s: input channels %d != expected %d", c.weight.Name(), shape[1], c.cfg.InChannels))
	}

	output := tensor.New[float32, B](c.backend.Conv2D(input.Raw(), c.weight.Tensor().Raw(), c.params), c.backend)
	if c.bias != nil {
		output = output.Add(c.bias.Tensor().Reshape(1, c.cfg.OutChannels, 1, 1))
	}
	return output
}

// Parameters returns all trainable parameters.
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// Weight returns the kernel parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] {
	return c.weight
}

// Bias returns the bias parameter, or nil.
func (c *Conv2D[B]) Bias() *Parameter[B] {
	return c.bias
}

// InChannels returns the number of input channels.
func (c *Conv2D[B]) InChannels() int { return c.cfg.InChannels }

// OutChannels returns the number of output channels.
func (c *Conv2D[B]) OutChannels() int { return c.cfg.OutChannels }

// KernelSize returns the kernel size.
func (c *Conv2D[B]) KernelSize() int { return c.cfg.KernelSize }

// Stride returns the stride.
func (c *Conv2D[B]) Stride() int { return c.params.Stride }

// Padding returns the effective padding.
func (c *Conv2D[B]) Padding() int { return c.params.Padding }

// Dilation returns the dilation rate.
func (c *Conv2D[B]) Dilation() int { return c.params.Dilation }

// ComputeOutputSize computes output spatial dimensions for given input size.
func (c *Conv2D[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	h, w := c.params.OutputSize(inputH, inputW, c.cfg.KernelSize, c.cfg.KernelSize)
	return [2]int{h, w}
}

// String returns a string representation of the layer.
func (c *Conv2D[B]) String() string {
	return fmt.Sprintf("Conv2D(%d, %d, kernel_size=%d, stride=%d, padding=%d, dilation=%d, bias=%v)",
		c.cfg.InChannels, c.cfg.OutChannels, c.cfg.KernelSize,
		c.params.Stride, c.params.Padding, c.params.Dilation, c.bias != nil)
}
