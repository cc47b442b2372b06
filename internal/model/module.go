// Package model implements DeepLabv3: a dilated ResNet backbone, atrous
// spatial pyramid pooling and a 1x1 classification head.
//
//	image (b,3,H,W)
//	  -> backbone            (b, 2048, H/os, W/os)
//	  -> ASPP                (b, 256*5, H/os, W/os)
//	  -> head                (b, n_classes, H/os, W/os)
//	  -> bilinear upsample   (b, n_classes, H, W)
//
// Parameter names follow torchvision for the backbone ("backbone.layer1.0.conv1.weight")
// so ImageNet weights can be loaded directly.
package model

import (
	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/tensor"
)

// children collects parameters, buffers and mode changes over a fixed set of
// submodules.
type children[B tensor.Backend] []nn.Module[B]

func (c children[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, m := range c {
		params = append(params, m.Parameters()...)
	}
	return params
}

func (c children[B]) Buffers() []*nn.Buffer[B] {
	var buffers []*nn.Buffer[B]
	for _, m := range c {
		buffers = append(buffers, nn.Buffers(m)...)
	}
	return buffers
}

func (c children[B]) SetTraining(training bool) {
	for _, m := range c {
		nn.SetTraining(m, training)
	}
}
