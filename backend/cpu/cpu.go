// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/parallel"
	"github.com/born-ml/deeplab/tensor"
)

// Backend is the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option = internalcpu.Option

// ParallelConfig bounds the goroutines a kernel may use.
type ParallelConfig = parallel.Config

// New creates a CPU backend.
func New(opts ...Option) *Backend {
	return internalcpu.New(opts...)
}

// WithParallel sets the kernel parallelism.
func WithParallel(cfg ParallelConfig) Option {
	return internalcpu.WithParallel(cfg)
}

// DefaultParallel uses every available CPU.
func DefaultParallel() ParallelConfig {
	return parallel.DefaultConfig()
}

// Sequential runs every kernel on the calling goroutine.
func Sequential() ParallelConfig {
	return parallel.Sequential()
}
