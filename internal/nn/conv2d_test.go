package nn

import (
	"math"
	"testing"

	"github.com/born-ml/deeplab/internal/autodiff"
	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/tensor"
)

// TestConv2D_Creation tests Conv2D layer creation.
func TestConv2D_Creation(t *testing.T) {
	backend := cpu.New()

	conv := NewConv2D("head.0", Conv2DConfig{InChannels: 1, OutChannels: 6, KernelSize: 5, Bias: true}, backend)

	if conv.InChannels() != 1 || conv.OutChannels() != 6 || conv.KernelSize() != 5 {
		t.Errorf("unexpected geometry: %s", conv)
	}
	if conv.Stride() != 1 || conv.Dilation() != 1 || conv.Padding() != 0 {
		t.Errorf("zero config should default to stride 1, dilation 1, padding 0: %s", conv)
	}

	if !conv.weight.Tensor().Shape().Equal(tensor.Shape{6, 1, 5, 5}) {
		t.Errorf("weight shape: got %v", conv.weight.Tensor().Shape())
	}
	if !conv.bias.Tensor().Shape().Equal(tensor.Shape{6}) {
		t.Errorf("bias shape: got %v", conv.bias.Tensor().Shape())
	}

	params := conv.Parameters()
	if len(params) != 2 {
		t.Fatalf("Expected 2 parameters (weight, bias), got %d", len(params))
	}
	if params[0].Name() != "head.0.weight" || params[1].Name() != "head.0.bias" {
		t.Errorf("unexpected names %q, %q", params[0].Name(), params[1].Name())
	}

	noBias := NewConv2D("conv1", Conv2DConfig{InChannels: 3, OutChannels: 4, KernelSize: 1}, backend)
	if len(noBias.Parameters()) != 1 || noBias.Bias() != nil {
		t.Error("conv without bias should only own its weight")
	}
}

// TestConv2D_ForwardShape covers strided, dilated and "same" configurations.
func TestConv2D_ForwardShape(t *testing.T) {
	backend := cpu.New()
	input := tensor.Zeros[float32](tensor.Shape{2, 4, 9, 9}, backend)

	tests := []struct {
		name string
		cfg  Conv2DConfig
		want tensor.Shape
	}{
		{"valid", Conv2DConfig{KernelSize: 3}, tensor.Shape{2, 8, 7, 7}},
		{"same", Conv2DConfig{KernelSize: 3, SamePadding: true}, tensor.Shape{2, 8, 9, 9}},
		{"atrous same", Conv2DConfig{KernelSize: 3, Dilation: 3, SamePadding: true}, tensor.Shape{2, 8, 9, 9}},
		{"atrous strided", Conv2DConfig{KernelSize: 3, Dilation: 3, Stride: 2, SamePadding: true}, tensor.Shape{2, 8, 5, 5}},
		{"stem", Conv2DConfig{KernelSize: 7, Stride: 2, Padding: 3}, tensor.Shape{2, 8, 5, 5}},
		{"pointwise", Conv2DConfig{KernelSize: 1}, tensor.Shape{2, 8, 9, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.InChannels, cfg.OutChannels = 4, 8
			conv := NewConv2D("c", cfg, backend)

			out := conv.Forward(input)
			if !out.Shape().Equal(tt.want) {
				t.Errorf("Output shape: expected %v, got %v", tt.want, out.Shape())
			}
			size := conv.ComputeOutputSize(9, 9)
			if size[0] != tt.want[2] || size[1] != tt.want[3] {
				t.Errorf("ComputeOutputSize: got %v", size)
			}
		})
	}
}

// TestConv2D_ForwardValues tests forward pass with known values.
func TestConv2D_ForwardValues(t *testing.T) {
	backend := cpu.New()

	conv := NewConv2D("c", Conv2DConfig{InChannels: 1, OutChannels: 1, KernelSize: 2, Bias: true}, backend)
	copy(conv.weight.Tensor().Data(), []float32{1, 2, 3, 4})
	conv.bias.Tensor().Data()[0] = 0.5

	input, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, tensor.Shape{1, 1, 3, 3}, backend)
	if err != nil {
		t.Fatal(err)
	}

	got := conv.Forward(input).Data()
	want := []float32{37.5, 47.5, 67.5, 77.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("output[%d]: expected %v, got %v", i, want[i], got[i])
		}
	}
}

// TestConv2D_KaimingInit checks the spread of freshly initialised weights.
func TestConv2D_KaimingInit(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D("c", Conv2DConfig{InChannels: 64, OutChannels: 64, KernelSize: 3}, backend)

	var sum, sumSq float64
	data := conv.weight.Tensor().Data()
	for _, v := range data {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	n := float64(len(data))
	mean := sum / n
	std := math.Sqrt(sumSq/n - mean*mean)

	want := math.Sqrt(2.0 / (64 * 9))
	if math.Abs(mean) > 0.05*want {
		t.Errorf("mean %.5f too far from 0", mean)
	}
	if math.Abs(std-want)/want > 0.05 {
		t.Errorf("std %.5f, expected about %.5f", std, want)
	}
}

// TestConv2D_BiasGradient runs a backward pass through a biased conv.
func TestConv2D_BiasGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	conv := NewConv2D("c", Conv2DConfig{InChannels: 2, OutChannels: 3, KernelSize: 3, SamePadding: true, Bias: true}, backend)
	input := tensor.Randn(tensor.Shape{2, 2, 4, 5}, backend)

	backend.Tape().StartRecording()
	loss := conv.Forward(input).Sum()
	grads, err := autodiff.Backward(loss, backend)
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range conv.Parameters() {
		if _, ok := grads[p.Tensor().Raw()]; !ok {
			t.Fatalf("no gradient for %s", p.Name())
		}
	}
	for c, g := range grads[conv.bias.Tensor().Raw()].AsFloat32() {
		if g != 2*4*5 {
			t.Errorf("bias grad[%d]: expected 40, got %v", c, g)
		}
	}
}

// TestConv2D_InvalidInput verifies shape checking.
func TestConv2D_InvalidInput(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D("c", Conv2DConfig{InChannels: 3, OutChannels: 1, KernelSize: 1}, backend)

	defer func() {
		if recover() == nil {
			t.Error("expected panic for wrong channel count")
		}
	}()
	conv.Forward(tensor.Zeros[float32](tensor.Shape{1, 2, 4, 4}, backend))
}
