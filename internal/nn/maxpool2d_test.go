package nn

import (
	"testing"

	"github.com/born-ml/deeplab/internal/autodiff"
	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/tensor"
)

// TestMaxPool2D_StemGeometry tests the ResNet stem pool (3x3, stride 2, pad 1).
func TestMaxPool2D_StemGeometry(t *testing.T) {
	backend := cpu.New()
	pool := NewMaxPool2D(3, 2, 1, backend)

	cases := []struct{ in, out int }{
		{112, 56},
		{57, 29},
		{1, 1},
	}
	for _, c := range cases {
		got := pool.ComputeOutputSize(c.in, c.in)
		if got != [2]int{c.out, c.out} {
			t.Errorf("ComputeOutputSize(%d) = %v, want %d", c.in, got, c.out)
		}
		out := pool.Forward(tensor.Zeros[float32](tensor.Shape{1, 2, c.in, c.in}, backend))
		if !out.Shape().Equal(tensor.Shape{1, 2, c.out, c.out}) {
			t.Errorf("Forward(%d) shape = %v", c.in, out.Shape())
		}
	}

	if len(pool.Parameters()) != 0 {
		t.Error("MaxPool2D should have no parameters")
	}
	if s := pool.String(); s != "MaxPool2D(kernel_size=3, stride=2, padding=1)" {
		t.Errorf("String() = %q", s)
	}
}

// TestMaxPool2D_PaddingNeverWins checks padding acts as -inf.
func TestMaxPool2D_PaddingNeverWins(t *testing.T) {
	backend := cpu.New()
	pool := NewMaxPool2D(3, 2, 1, backend)

	input := tensor.Full[float32](tensor.Shape{1, 1, 2, 2}, -5, backend)
	input.Set(-1, 0, 0, 1, 1)

	out := pool.Forward(input)
	if got := out.Item(); got != -1 {
		t.Errorf("max = %v, want -1", got)
	}
}

// TestMaxPool2D_Backward routes the gradient to the argmax only.
func TestMaxPool2D_Backward(t *testing.T) {
	backend := autodiff.New(cpu.New())
	pool := NewMaxPool2D(2, 2, 0, backend)

	input, _ := tensor.FromSlice([]float32{
		1, 4, 0, 0,
		2, 3, 0, 9,
		5, 0, 1, 1,
		0, 0, 1, 2,
	}, tensor.Shape{1, 1, 4, 4}, backend)

	backend.Tape().StartRecording()
	out := pool.Forward(input)
	grads, err := autodiff.Backward(out.Sum(), backend)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	want := []float32{
		0, 1, 0, 0,
		0, 0, 0, 1,
		1, 0, 0, 0,
		0, 0, 0, 1,
	}
	got := grads[input.Raw()].AsFloat32()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("grad[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
