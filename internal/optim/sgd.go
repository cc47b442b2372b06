package optim

import (
	"fmt"

	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with optional momentum and
// L2 weight decay.
//
// Update rule:
//
//	g = gradient + weight_decay * param
//	velocity = momentum * velocity + g     (momentum > 0)
//	param = param - lr * velocity          (or lr * g without momentum)
//
// Example:
//
//	optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{
//	    LR:          0.007,
//	    Momentum:    0.9,
//	    WeightDecay: 5e-4,
//	}, backend)
type SGD[B tensor.Backend] struct {
	params      []*nn.Parameter[B]
	lr          float32
	momentum    float32
	weightDecay float32
	velocities  map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	backend     B
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR          float32 // Learning rate (default: 0.01)
	Momentum    float32 // Momentum factor (default: 0.0, range: [0, 1))
	WeightDecay float32 // L2 penalty (default: 0)
}

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}

	return &SGD[B]{
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		velocities:  make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend:     backend,
	}
}

// Step performs a single optimization step.
//
// Parameters with no gradient (not in computational graph) are skipped,
// including their weight decay.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		if s.momentum == 0 {
			s.updateParameter(param, grad)
		} else {
			s.updateParameterWithMomentum(param, grad)
		}
	}
}

func (s *SGD[B]) updateParameter(param *nn.Parameter[B], grad []float32) {
	data := param.Tensor().Data()
	for i, g := range grad {
		data[i] -= s.lr * (g + s.weightDecay*data[i])
	}
}

func (s *SGD[B]) updateParameterWithMomentum(param *nn.Parameter[B], grad []float32) {
	velocity, exists := s.velocities[param]
	if !exists {
		velocity = tensor.Zeros[float32](param.Tensor().Shape(), s.backend)
		s.velocities[param] = velocity
	}

	data := param.Tensor().Data()
	v := velocity.Data()
	for i, g := range grad {
		v[i] = s.momentum*v[i] + g + s.weightDecay*data[i]
		data[i] -= s.lr * v[i]
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD[B]) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD[B]) SetLR(lr float32) {
	s.lr = lr
}

// StateDict returns the velocity buffers keyed "velocity.{param_name}".
// Without momentum the map is empty.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for _, param := range s.params {
		if velocity, ok := s.velocities[param]; ok {
			stateDict["velocity."+param.Name()] = velocity.Raw()
		}
	}
	return stateDict
}

// LoadStateDict restores velocity buffers. Parameters without a saved
// velocity start from zero on their next step.
func (s *SGD[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	s.velocities = make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	for _, param := range s.params {
		raw, ok := stateDict["velocity."+param.Name()]
		if !ok {
			continue
		}
		if !raw.Shape().Equal(param.Tensor().Shape()) {
			return fmt.Errorf("velocity shape mismatch for %s: expected %v, got %v",
				param.Name(), param.Tensor().Shape(), raw.Shape())
		}
		s.velocities[param] = tensor.New[float32, B](raw.Clone(), s.backend)
	}
	return nil
}
