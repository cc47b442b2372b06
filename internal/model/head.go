package model

import (
	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/tensor"
)

// Head fuses the ASPP output with a 1x1 ConvBlock and projects it to class
// logits with a biased 1x1 conv.
type Head[B tensor.Backend] struct {
	block *ConvBlock[B]
	fin   *nn.Conv2D[B]
	children[B]
}

// NewHead creates the head. Its modules are named conv_block and fin_conv
// under prefix.
func NewHead[B tensor.Backend](prefix string, inChannels, numClasses int, backend B) *Head[B] {
	h := &Head[B]{
		block: NewConvBlock(nn.Join(prefix, "conv_block"), inChannels, 1, 1, backend),
		fin: nn.NewConv2D(nn.Join(prefix, "fin_conv"), nn.Conv2DConfig{
			InChannels: ASPPChannels, OutChannels: numClasses, KernelSize: 1, Bias: true,
		}, backend),
	}
	h.children = children[B]{h.block, h.fin}
	return h
}

// Forward maps (b, 1280, h, w) to (b, numClasses, h, w).
func (h *Head[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return h.fin.Forward(h.block.Forward(x))
}

// NumClasses returns the number of output channels.
func (h *Head[B]) NumClasses() int { return h.fin.OutChannels() }
