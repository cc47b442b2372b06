package nn

import (
	"testing"

	"github.com/born-ml/deeplab/internal/autodiff"
	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/tensor"
)

// TestReLU_Backward checks the gradient mask of ReLU.
func TestReLU_Backward(t *testing.T) {
	backend := autodiff.New(cpu.New())
	relu := NewReLU[*autodiff.AutodiffBackend[*cpu.CPUBackend]]()

	input, err := tensor.FromSlice([]float32{-2, -0.5, 0.5, 3}, tensor.Shape{4}, backend)
	if err != nil {
		t.Fatalf("Failed to create input tensor: %v", err)
	}

	backend.Tape().StartRecording()
	output := relu.Forward(input)
	grads, err := autodiff.Backward(output.MulScalar(2).Sum(), backend)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	want := []float32{0, 0, 2, 2}
	got := grads[input.Raw()].AsFloat32()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("grad[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestReLU_PreservesShape tests ReLU on a feature map.
func TestReLU_PreservesShape(t *testing.T) {
	backend := cpu.New()
	relu := NewReLU[*cpu.CPUBackend]()

	input := tensor.Randn(tensor.Shape{2, 3, 4, 5}, backend)
	output := relu.Forward(input)

	if !output.Shape().Equal(input.Shape()) {
		t.Errorf("ReLU changed shape: %v -> %v", input.Shape(), output.Shape())
	}
	for i, v := range output.Data() {
		if v < 0 {
			t.Fatalf("output[%d] = %v is negative", i, v)
		}
	}
	if relu.String() != "ReLU()" || relu.Parameters() != nil {
		t.Error("ReLU has no parameters")
	}
}
