// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the optimizers and the poly learning-rate schedule
// used to train segmentation networks.
//
// # Overview
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with momentum and weight decay
//   - Adam: Adaptive Moment Estimation with bias correction
//   - PolyLR and PolyScheduler: lr = base * (1 - (step/nSteps)^power)
//   - Optimizer interface for custom optimizers
//
// # Basic Usage
//
//	backend := autodiff.New(cpu.New())
//	model, _ := deeplab.New(deeplab.DefaultConfig(), backend)
//
//	optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{
//	    LR:          1.0,
//	    WeightDecay: 5e-4,
//	}, backend)
//	schedule := optim.PolyScheduler{BaseLR: 1.0, NSteps: nSteps, Power: 0.9}
//
//	for step := 1; step <= nSteps; step++ {
//	    schedule.Step(optimizer, step)
//
//	    backend.Tape().StartRecording()
//	    loss := criterion.Forward(model.Forward(images), masks)
//	    grads, _ := autodiff.Backward(loss, backend)
//	    backend.Tape().StopRecording()
//	    backend.Tape().Clear()
//
//	    optimizer.Step(grads)
//	}
package optim
