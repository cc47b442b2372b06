// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the generic tensor type the segmentation model is
// built on.
//
// A Tensor[T, B] pairs a RawTensor (shape, dtype, contiguous buffer) with
// the Backend that computes on it. Every operation is dispatched to the
// backend, so wrapping the backend (autodiff, autocast) changes how a model
// runs without touching model code.
//
// # Basic Usage
//
//	backend := cpu.New()
//	x := tensor.Randn(tensor.Shape{1, 3, 224, 224}, backend)
//	y := x.ReLU().MulScalar(2)
//	fmt.Println(y.Shape()) // [1 3 224 224]
//
// Supported element types are float32 (images, logits, parameters) and
// int32 (label masks, argmax results).
package tensor
