package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/deeplab/internal/tensor"
)

// Batch normalisation defaults.
const (
	BatchNormEps      = 1e-5
	BatchNormMomentum = 0.1
)

// BatchNorm2D normalises each channel of an [N, C, H, W] input.
//
// In training mode the batch mean and biased variance are used and the
// running statistics are updated with an exponential moving average of the
// mean and the unbiased variance:
//
//	running = (1 - momentum) * running + momentum * batch
//
// In evaluation mode the running statistics are used and the layer is an
// affine transform. New layers start in training mode.
//
// Buffers are named prefix.running_mean and prefix.running_var, parameters
// prefix.weight (gamma) and prefix.bias (beta).
type BatchNorm2D[B tensor.Backend] struct {
	numFeatures int
	eps         float32
	momentum    float32
	training    bool

	weight      *Parameter[B]
	bias        *Parameter[B]
	runningMean *Buffer[B]
	runningVar  *Buffer[B]

	backend B
}

// NewBatchNorm2D creates a batch-norm layer with gamma=1, beta=0, running
// mean 0 and running variance 1.
func NewBatchNorm2D[B tensor.Backend](prefix string, numFeatures int, backend B) *BatchNorm2D[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d %s: invalid feature count %d", prefix, numFeatures))
	}
	shape := tensor.Shape{numFeatures}
	return &BatchNorm2D[B]{
		numFeatures: numFeatures,
		eps:         BatchNormEps,
		momentum:    BatchNormMomentum,
		training:    true,
		weight:      NewParameter(Join(prefix, "weight"), Ones(shape, backend)),
		bias:        NewParameter(Join(prefix, "bias"), Zeros(shape, backend)),
		runningMean: NewBuffer(Join(prefix, "running_mean"), Zeros(shape, backend)),
		runningVar:  NewBuffer(Join(prefix, "running_var"), Ones(shape, backend)),
		backend:     backend,
	}
}

// Forward normalises input.
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm2d %s: expected [N,%d,H,W], got %v", bn.weight.Name(), bn.numFeatures, shape))
	}

	var stats tensor.BatchNormStats
	if bn.training {
		mean, variance := bn.backend.ChannelMoments(input.Raw())
		bn.updateRunningStats(mean, variance, shape[0]*shape[2]*shape[3])
		stats = tensor.BatchNormStats{Mean: mean, InvStd: bn.invStd(variance), FromBatch: true}
	} else {
		stats = tensor.BatchNormStats{
			Mean:   append([]float32(nil), bn.runningMean.Tensor().Data()...),
			InvStd: bn.invStd(bn.runningVar.Tensor().Data()),
		}
	}

	out := bn.backend.BatchNorm2D(input.Raw(), bn.weight.Tensor().Raw(), bn.bias.Tensor().Raw(), stats)
	return tensor.New[float32, B](out, bn.backend)
}

func (bn *BatchNorm2D[B]) invStd(variance []float32) []float32 {
	out := make([]float32, len(variance))
	for i, v := range variance {
		out[i] = float32(1 / math.Sqrt(float64(v)+float64(bn.eps)))
	}
	return out
}

func (bn *BatchNorm2D[B]) updateRunningStats(mean, variance []float32, count int) {
	correction := float32(1)
	if count > 1 {
		correction = float32(count) / float32(count-1)
	}
	m := bn.momentum
	rm := bn.runningMean.Tensor().Data()
	rv := bn.runningVar.Tensor().Data()
	for c := range rm {
		rm[c] = (1-m)*rm[c] + m*mean[c]
		rv[c] = (1-m)*rv[c] + m*variance[c]*correction
	}
}

// Parameters returns gamma and beta.
func (bn *BatchNorm2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.weight, bn.bias}
}

// Buffers returns the running mean and variance.
func (bn *BatchNorm2D[B]) Buffers() []*Buffer[B] {
	return []*Buffer[B]{bn.runningMean, bn.runningVar}
}

// SetTraining selects batch statistics (true) or running statistics (false).
func (bn *BatchNorm2D[B]) SetTraining(training bool) {
	bn.training = training
}

// Training reports whether the layer is in training mode.
func (bn *BatchNorm2D[B]) Training() bool {
	return bn.training
}

// RunningMean returns the running mean buffer.
func (bn *BatchNorm2D[B]) RunningMean() *Buffer[B] { return bn.runningMean }

// RunningVar returns the running variance buffer.
func (bn *BatchNorm2D[B]) RunningVar() *Buffer[B] { return bn.runningVar }

// String returns a string representation of the layer.
func (bn *BatchNorm2D[B]) String() string {
	return fmt.Sprintf("BatchNorm2D(%d, eps=%g, momentum=%g)", bn.numFeatures, bn.eps, bn.momentum)
}
