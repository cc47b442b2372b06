package amp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/tensor"
)

func raw(t *testing.T, shape tensor.Shape, data ...float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), data)
	return r
}

func TestRoundHalf(t *testing.T) {
	x := raw(t, tensor.Shape{4}, 1, 0.1, 1e5, 1+1e-4)

	got := RoundHalf(x).AsFloat32()
	assert.Equal(t, float32(1), got[0])
	assert.InDelta(t, 0.1, got[1], 1e-4)
	assert.NotEqual(t, float32(0.1), got[1], "0.1 is not representable in half precision")
	assert.True(t, math.IsInf(float64(got[2]), 1), "values beyond 65504 overflow")
	assert.Equal(t, float32(1), got[3], "below half epsilon rounds away")

	// Input untouched.
	assert.Equal(t, float32(0.1), x.AsFloat32()[1])
}

func TestAutocast_Conv2D(t *testing.T) {
	cast := NewAutocast(cpu.New())
	input := raw(t, tensor.Shape{1, 1, 1, 1}, 0.1)
	kernel := raw(t, tensor.Shape{1, 1, 1, 1}, 3)
	p := tensor.Conv2DParams{Stride: 1, Dilation: 1}

	full := cast.Conv2D(input, kernel, p).AsFloat32()[0]
	assert.InDelta(t, 0.3, full, 1e-7)

	cast.Enable()
	assert.True(t, cast.Enabled())
	half := cast.Conv2D(input, kernel, p).AsFloat32()[0]
	assert.NotEqual(t, full, half)
	assert.InDelta(t, 0.3, half, 1e-3)

	cast.Disable()
	assert.Equal(t, full, cast.Conv2D(input, kernel, p).AsFloat32()[0])
	assert.Equal(t, "Autocast(CPU)", cast.Name())
}

type recordingOptimizer struct {
	steps int
	last  map[*tensor.RawTensor]*tensor.RawTensor
}

func (o *recordingOptimizer) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	o.steps++
	o.last = grads
}

func TestGradScaler_UnscalesAndSteps(t *testing.T) {
	s, err := NewGradScaler(DefaultScalerConfig())
	require.NoError(t, err)
	assert.Equal(t, float32(65536), s.Scale())

	key := raw(t, tensor.Shape{2})
	scaled := raw(t, tensor.Shape{2}, 65536, -131072)
	grads := map[*tensor.RawTensor]*tensor.RawTensor{key: scaled}

	opt := &recordingOptimizer{}
	assert.True(t, s.Step(opt, grads))
	s.Update()

	assert.Equal(t, 1, opt.steps)
	assert.Equal(t, []float32{1, -2}, opt.last[key].AsFloat32())
	assert.Equal(t, []float32{65536, -131072}, scaled.AsFloat32(), "original gradient is not modified")
	assert.Equal(t, float32(65536), s.Scale())
}

func TestGradScaler_SkipsOnOverflowAndBacksOff(t *testing.T) {
	s, err := NewGradScaler(DefaultScalerConfig())
	require.NoError(t, err)

	for _, bad := range []float32{float32(math.Inf(1)), float32(math.NaN())} {
		before := s.Scale()
		grads := map[*tensor.RawTensor]*tensor.RawTensor{
			raw(t, tensor.Shape{1}): raw(t, tensor.Shape{2}, 1, bad),
		}
		opt := &recordingOptimizer{}

		assert.False(t, s.Step(opt, grads))
		s.Update()

		assert.Zero(t, opt.steps)
		assert.Equal(t, before/2, s.Scale())
	}
}

func TestGradScaler_GrowsAfterInterval(t *testing.T) {
	cfg := DefaultScalerConfig()
	cfg.InitScale = 8
	cfg.GrowthInterval = 3
	s, err := NewGradScaler(cfg)
	require.NoError(t, err)

	opt := &recordingOptimizer{}
	for i := 0; i < 3; i++ {
		s.Step(opt, map[*tensor.RawTensor]*tensor.RawTensor{})
		s.Update()
	}
	assert.Equal(t, float32(16), s.Scale())

	scale, count := s.State()
	assert.Equal(t, float32(16), scale)
	assert.Zero(t, count)

	// Update without a Step is a no-op.
	s.Update()
	_, count = s.State()
	assert.Zero(t, count)
}

func TestGradScaler_Disabled(t *testing.T) {
	s, err := NewGradScaler(ScalerConfig{})
	require.NoError(t, err)
	assert.Equal(t, float32(1), s.Scale())

	grads := map[*tensor.RawTensor]*tensor.RawTensor{raw(t, tensor.Shape{1}): raw(t, tensor.Shape{1}, 5)}
	opt := &recordingOptimizer{}
	assert.True(t, s.Step(opt, grads))
	for _, g := range opt.last {
		assert.Equal(t, []float32{5}, g.AsFloat32())
	}
}

func TestScalerConfig_Validate(t *testing.T) {
	cfg := DefaultScalerConfig()
	cfg.BackoffFactor = 1.5
	require.Error(t, cfg.Validate())

	_, err := NewGradScaler(ScalerConfig{Enabled: true})
	require.Error(t, err)
}
