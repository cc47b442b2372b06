// Package cpu implements the CPU backend, with convolutions lowered to gonum
// BLAS and NCHW kernels split across goroutines.
package cpu

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/parallel"
	"github.com/born-ml/deeplab/internal/tensor"
)

// CPUBackend implements tensor.Backend on the host CPU.
//
//nolint:revive // CPUBackend reads better than cpu.Backend at call sites that mix backends.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

// Option configures a CPUBackend.
type Option func(*CPUBackend)

// WithParallel overrides the goroutine fan-out used by NCHW kernels.
func WithParallel(cfg parallel.Config) Option {
	return func(b *CPUBackend) {
		b.par = cfg
	}
}

// New creates a new CPU backend.
func New(opts ...Option) *CPUBackend {
	b := &CPUBackend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// alloc creates a zeroed float32 result tensor; kernel shape errors are
// programming errors and panic.
func (cpu *CPUBackend) alloc(shape tensor.Shape) *tensor.RawTensor {
	return tensor.MustNewRaw(shape, tensor.Float32, cpu.device)
}

func mustFloat32(op string, ts ...*tensor.RawTensor) {
	for _, t := range ts {
		if t.DType() != tensor.Float32 {
			panic(fmt.Sprintf("%s: expected float32 tensor, got %s", op, t.DType()))
		}
	}
}

func mustRank4(op string, t *tensor.RawTensor) {
	if len(t.Shape()) != 4 {
		panic(fmt.Sprintf("%s: expected 4D [N,C,H,W] tensor, got shape %v", op, t.Shape()))
	}
}

var _ tensor.Backend = (*CPUBackend)(nil)
