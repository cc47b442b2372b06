package nn_test

import (
	"math"
	"testing"

	"github.com/born-ml/deeplab/internal/autodiff"
	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/tensor"
)

// TestCrossEntropy2D_KnownValue checks a single pixel against the closed form.
func TestCrossEntropy2D_KnownValue(t *testing.T) {
	backend := cpu.New()
	criterion := nn.NewCrossEntropy2D(nn.IgnoreIndex, backend)

	// One pixel, logits [2, 1], target 0:
	// loss = -(2 - log(e^2 + e^1)) = log(1 + e^-1) ≈ 0.3133
	logits, _ := tensor.FromSlice([]float32{2, 1}, tensor.Shape{1, 2, 1, 1}, backend)
	targets, _ := tensor.FromSlice([]int32{0}, tensor.Shape{1, 1, 1}, backend)

	want := float32(math.Log1p(math.Exp(-1)))
	if got := criterion.Forward(logits, targets).Item(); !floatEqual(got, want, 1e-5) {
		t.Errorf("loss = %v, want %v", got, want)
	}
	if criterion.IgnoreIndex() != 255 {
		t.Errorf("IgnoreIndex() = %d, want 255", criterion.IgnoreIndex())
	}
}

// TestCrossEntropy2D_MeanOverValidPixels checks ignored pixels leave the
// denominator.
func TestCrossEntropy2D_MeanOverValidPixels(t *testing.T) {
	backend := cpu.New()
	criterion := nn.NewCrossEntropy2D(nn.IgnoreIndex, backend)

	// Two images, two classes, 1x2 pixels. Only two of the four pixels count.
	logits := tensor.Zeros[float32](tensor.Shape{2, 2, 1, 2}, backend)
	targets, _ := tensor.FromSlice([]int32{1, 255, 255, 0}, tensor.Shape{2, 1, 2}, backend)

	// Garbage on the ignored pixels must not change the result.
	logits.Set(50, 0, 0, 0, 1)
	logits.Set(-50, 1, 1, 0, 0)

	if got := criterion.Forward(logits, targets).Item(); !floatEqual(got, float32(math.Ln2), 1e-5) {
		t.Errorf("loss = %v, want ln 2", got)
	}
}

// TestCrossEntropy2D_Gradient checks d(loss)/d(logits) = (softmax - onehot) / valid.
func TestCrossEntropy2D_Gradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	criterion := nn.NewCrossEntropy2D(nn.IgnoreIndex, backend)

	logits := tensor.Zeros[float32](tensor.Shape{1, 2, 1, 2}, backend)
	targets, _ := tensor.FromSlice([]int32{0, 255}, tensor.Shape{1, 1, 2}, backend)

	backend.Tape().StartRecording()
	loss := criterion.Forward(logits, targets)
	grads, err := autodiff.Backward(loss, backend)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	g := grads[logits.Raw()]
	if g == nil {
		t.Fatal("logits received no gradient")
	}
	// Layout [N, C, H, W]: (c0,p0) (c0,p1) (c1,p0) (c1,p1).
	want := []float32{-0.5, 0, 0.5, 0}
	for i, w := range want {
		if !floatEqual(g.AsFloat32()[i], w, 1e-6) {
			t.Errorf("grad[%d] = %v, want %v", i, g.AsFloat32()[i], w)
		}
	}
}

// TestCrossEntropy2D_AllIgnoredGradient checks an all-ignored batch gives a
// zero gradient rather than NaN.
func TestCrossEntropy2D_AllIgnoredGradient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	criterion := nn.NewCrossEntropy2D(nn.IgnoreIndex, backend)

	logits := tensor.Randn(tensor.Shape{1, 3, 2, 2}, backend)
	targets := tensor.Full[int32](tensor.Shape{1, 2, 2}, 255, backend)

	backend.Tape().StartRecording()
	grads, err := autodiff.Backward(criterion.Forward(logits, targets), backend)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	for i, v := range grads[logits.Raw()].AsFloat32() {
		if v != 0 {
			t.Errorf("grad[%d] = %v, want 0", i, v)
		}
	}
}
