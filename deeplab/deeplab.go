// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package deeplab provides DeepLabv3 semantic segmentation models.
//
// A model is a dilated ResNet backbone, an Atrous Spatial Pyramid Pooling
// block and a 1x1 classifier head. Logits are resized to the input
// resolution.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	model, err := deeplab.New(deeplab.DefaultConfig(), backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := model.LoadPretrainedBackbone("resnet101.safetensors", backend); err != nil {
//	    log.Fatal(err)
//	}
//	logits := model.Forward(images) // [N, 21, H, W]
//	labels := deeplab.Predict(model, images)
package deeplab

import (
	"github.com/born-ml/deeplab/internal/model"
	"github.com/born-ml/deeplab/tensor"
)

// Config selects the backbone and the number of classes.
type Config = model.Config

// Model is a DeepLabv3 network.
type Model[B tensor.Backend] = model.DeepLabv3[B]

// ResNet is the dilated ResNet backbone.
type ResNet[B tensor.Backend] = model.ResNet[B]

// ASPP is the Atrous Spatial Pyramid Pooling block.
type ASPP[B tensor.Backend] = model.ASPP[B]

// Head is the classifier head.
type Head[B tensor.Backend] = model.Head[B]

// Channel count of every ASPP branch.
const ASPPChannels = model.ASPPChannels

// DefaultConfig returns DeepLabv3-ResNet101 for the 21 VOC classes at
// output stride 16 with multi-grid (1, 2, 4).
func DefaultConfig() Config {
	return model.DefaultConfig()
}

// New builds a model with freshly initialised weights.
func New[B tensor.Backend](cfg Config, backend B) (*Model[B], error) {
	return model.New(cfg, backend)
}

// NewResNet101 builds DeepLabv3 on a ResNet-101 backbone.
func NewResNet101[B tensor.Backend](numClasses, outputStride int, backend B) (*Model[B], error) {
	return model.NewDeepLabv3ResNet101(numClasses, outputStride, backend)
}

// AtrousRates returns the ASPP dilation rates for an output stride of 8 or 16.
func AtrousRates(outputStride int) ([3]int, error) {
	return model.AtrousRates(outputStride)
}

// Predict runs m in evaluation mode and returns the per-pixel class with
// the highest logit, shaped [N, H, W]. The model is returned to training
// mode afterwards if it was in it.
func Predict[B tensor.Backend](m *Model[B], images *tensor.Tensor[float32, B]) *tensor.Tensor[int32, B] {
	training := m.Training()
	m.SetTraining(false)
	defer m.SetTraining(training)
	return m.Forward(images).Argmax(1)
}
