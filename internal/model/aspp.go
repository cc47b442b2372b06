package model

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/tensor"
)

// ASPPChannels is the width of every ASPP branch and of the head.
const ASPPChannels = 256

// aspp branch count: one 1x1 conv, three atrous 3x3 convs, image pooling.
const asppBranches = 5

// AtrousRates returns the dilation rates of the three 3x3 ASPP branches for
// an output stride. Rates double when the output stride halves.
func AtrousRates(outputStride int) ([3]int, error) {
	switch outputStride {
	case 16:
		return [3]int{6, 12, 18}, nil
	case 8:
		return [3]int{12, 24, 36}, nil
	default:
		return [3]int{}, fmt.Errorf("no atrous rates for output stride %d (want 8 or 16)", outputStride)
	}
}

// ConvBlock is a bias-free "same" convolution followed by batch norm and ReLU.
type ConvBlock[B tensor.Backend] struct {
	conv *nn.Conv2D[B]
	bn   *nn.BatchNorm2D[B]
	relu *nn.ReLU[B]
	children[B]
}

// NewConvBlock creates a ConvBlock named prefix with ASPPChannels outputs.
func NewConvBlock[B tensor.Backend](prefix string, inChannels, kernelSize, dilation int, backend B) *ConvBlock[B] {
	c := &ConvBlock[B]{
		conv: nn.NewConv2D(nn.Join(prefix, "conv"), nn.Conv2DConfig{
			InChannels:  inChannels,
			OutChannels: ASPPChannels,
			KernelSize:  kernelSize,
			Dilation:    dilation,
			SamePadding: true,
		}, backend),
		bn:   nn.NewBatchNorm2D(nn.Join(prefix, "bn"), ASPPChannels, backend),
		relu: nn.NewReLU[B](),
	}
	c.children = children[B]{c.conv, c.bn}
	return c
}

// Forward keeps the spatial size of x.
func (c *ConvBlock[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return c.relu.Forward(c.bn.Forward(c.conv.Forward(x)))
}

// Conv returns the block's convolution.
func (c *ConvBlock[B]) Conv() *nn.Conv2D[B] { return c.conv }

// ImagePooling is the image-level ASPP branch: global average pooling, a 1x1
// ConvBlock, and bilinear upsampling back to the input's spatial size.
type ImagePooling[B tensor.Backend] struct {
	gap  *nn.GlobalAvgPool2D[B]
	conv *nn.Conv2D[B]
	bn   *nn.BatchNorm2D[B]
	relu *nn.ReLU[B]
	children[B]
}

// NewImagePooling creates the pooling branch named prefix.
func NewImagePooling[B tensor.Backend](prefix string, inChannels int, backend B) *ImagePooling[B] {
	p := &ImagePooling[B]{
		gap: nn.NewGlobalAvgPool2D(backend),
		conv: nn.NewConv2D(nn.Join(prefix, "conv"), nn.Conv2DConfig{
			InChannels: inChannels, OutChannels: ASPPChannels, KernelSize: 1,
		}, backend),
		bn:   nn.NewBatchNorm2D(nn.Join(prefix, "bn"), ASPPChannels, backend),
		relu: nn.NewReLU[B](),
	}
	p.children = children[B]{p.conv, p.bn}
	return p
}

// Forward maps (b, c, h, w) to (b, 256, h, w).
func (p *ImagePooling[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	_, _, h, w := x.Shape().NCHW()
	out := p.relu.Forward(p.bn.Forward(p.conv.Forward(p.gap.Forward(x))))
	return nn.Interpolate(out, h, w)
}

// ASPP runs five parallel branches over the backbone features and
// concatenates them along the channel axis.
type ASPP[B tensor.Backend] struct {
	branches [asppBranches]nn.Module[B]
	rates    [3]int
	children[B]
}

// NewASPP creates the pyramid named prefix. Sub-module names are
// conv_block1 (1x1), conv_block2..4 (atrous 3x3) and image_pooling.
func NewASPP[B tensor.Backend](prefix string, inChannels int, rates [3]int, backend B) *ASPP[B] {
	a := &ASPP[B]{rates: rates}
	a.branches[0] = NewConvBlock(nn.Join(prefix, "conv_block1"), inChannels, 1, 1, backend)
	for i, r := range rates {
		a.branches[i+1] = NewConvBlock(nn.Join(prefix, fmt.Sprintf("conv_block%d", i+2)), inChannels, 3, r, backend)
	}
	a.branches[4] = NewImagePooling(nn.Join(prefix, "image_pooling"), inChannels, backend)
	a.children = children[B](a.branches[:])
	return a
}

// Forward maps (b, c, h, w) to (b, 256*5, h, w).
func (a *ASPP[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	outs := make([]*tensor.Tensor[float32, B], len(a.branches))
	for i, branch := range a.branches {
		outs[i] = branch.Forward(x)
	}
	return tensor.Cat(outs, 1)
}

// Rates returns the atrous rates of the 3x3 branches.
func (a *ASPP[B]) Rates() [3]int { return a.rates }

// OutChannels returns the concatenated channel count.
func (a *ASPP[B]) OutChannels() int { return ASPPChannels * asppBranches }
