// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the layers a convolutional segmentation network is
// built from.
//
// # Overview
//
// This package contains:
//   - Layers: Conv2D (strided and dilated), BatchNorm2D, MaxPool2D, GlobalAvgPool2D
//   - Activations: ReLU
//   - Loss functions: CrossEntropy2D with an ignore label
//   - Utilities: Sequential, Module interface, Parameter, Buffer
//   - State dicts: StateDict, LoadStateDict, NumParameters
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/deeplab/backend/cpu"
//	    "github.com/born-ml/deeplab/nn"
//	)
//
//	func main() {
//	    backend := cpu.New()
//
//	    block := nn.NewSequential[*cpu.Backend](
//	        nn.NewConv2D("conv", nn.Conv2DConfig{
//	            InChannels: 3, OutChannels: 64, KernelSize: 3, SamePadding: true,
//	        }, backend),
//	        nn.NewBatchNorm2D("bn", 64, backend),
//	        nn.NewReLU[*cpu.Backend](),
//	    )
//
//	    out := block.Forward(images) // [N, 64, H, W]
//	}
//
// # Naming
//
// Every parameter and buffer carries its full dotted name from construction
// ("layer1.0.conv1.weight"), matching the torchvision layout so pretrained
// ResNet weights load by name.
package nn
