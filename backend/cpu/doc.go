// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure-Go compute backend.
//
// Convolutions are lowered to im2col plus a gonum SGEMM; the other kernels
// (batch norm, pooling, bilinear interpolation, pixel-wise cross-entropy)
// are direct loops. Work is split over batch and channel with a bounded
// number of goroutines.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Randn(tensor.Shape{2, 3, 64, 64}, backend)
//
// For reproducible single-threaded runs:
//
//	backend := cpu.New(cpu.WithParallel(cpu.Sequential()))
package cpu
