package nn_test

import (
	"math"
	"testing"

	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/tensor"
)

// TestBatchNorm2D_TrainingNormalises checks per-channel zero mean and unit
// variance of the training-mode output.
func TestBatchNorm2D_TrainingNormalises(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm2D("bn1", 3, backend)

	x := tensor.Randn(tensor.Shape{4, 3, 5, 5}, backend)
	for i := range x.Data() {
		x.Data()[i] = x.Data()[i]*3 + 7
	}
	out := bn.Forward(x).Data()

	plane := 25
	for c := 0; c < 3; c++ {
		var sum, sumSq float64
		for n := 0; n < 4; n++ {
			for _, v := range out[(n*3+c)*plane : (n*3+c+1)*plane] {
				sum += float64(v)
				sumSq += float64(v) * float64(v)
			}
		}
		mean := sum / 100
		variance := sumSq/100 - mean*mean
		if math.Abs(mean) > 1e-4 {
			t.Errorf("channel %d: mean %v, expected 0", c, mean)
		}
		if math.Abs(variance-1) > 1e-3 {
			t.Errorf("channel %d: variance %v, expected 1", c, variance)
		}
	}
}

// TestBatchNorm2D_RunningStats checks the moving-average update.
func TestBatchNorm2D_RunningStats(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm2D("bn", 1, backend)

	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2}, backend)
	bn.Forward(x)

	// mean 2.5, unbiased variance 5/3.
	if got := bn.RunningMean().Tensor().Data()[0]; !floatEqual(got, 0.25, 1e-6) {
		t.Errorf("running mean: expected 0.25, got %v", got)
	}
	if got := bn.RunningVar().Tensor().Data()[0]; !floatEqual(got, 0.9+0.1*5.0/3.0, 1e-6) {
		t.Errorf("running var: expected %v, got %v", 0.9+0.1*5.0/3.0, got)
	}
}

// TestBatchNorm2D_Eval checks that evaluation uses and keeps running stats.
func TestBatchNorm2D_Eval(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm2D("bn", 1, backend)
	bn.RunningMean().Tensor().Data()[0] = 2
	bn.RunningVar().Tensor().Data()[0] = 4
	bn.Parameters()[0].Tensor().Data()[0] = 3 // gamma
	bn.Parameters()[1].Tensor().Data()[0] = 1 // beta

	bn.SetTraining(false)
	if bn.Training() {
		t.Fatal("expected eval mode")
	}

	x := tensor.Full[float32](tensor.Shape{1, 1, 1, 2}, 6, backend)
	out := bn.Forward(x).Data()
	for i, v := range out {
		if !floatEqual(v, 7, 1e-4) {
			t.Errorf("output[%d]: expected 7, got %v", i, v)
		}
	}

	if bn.RunningMean().Tensor().Data()[0] != 2 || bn.RunningVar().Tensor().Data()[0] != 4 {
		t.Error("running stats must not change in eval mode")
	}
}

// TestBatchNorm2D_Names checks torchvision-style naming.
func TestBatchNorm2D_Names(t *testing.T) {
	bn := nn.NewBatchNorm2D("layer1.0.bn1", 2, cpu.New())

	var names []string
	for _, p := range bn.Parameters() {
		names = append(names, p.Name())
	}
	for _, b := range bn.Buffers() {
		names = append(names, b.Name())
	}

	want := []string{"layer1.0.bn1.weight", "layer1.0.bn1.bias", "layer1.0.bn1.running_mean", "layer1.0.bn1.running_var"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("name %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}
