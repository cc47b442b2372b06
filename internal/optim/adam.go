package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/deeplab/internal/nn"
	"github.com/born-ml/deeplab/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	g = gradient + weight_decay * param
//	m_t = beta1 * m_{t-1} + (1-beta1) * g
//	v_t = beta2 * v_{t-1} + (1-beta2) * g²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam[B tensor.Backend] struct {
	params      []*nn.Parameter[B]
	lr          float32
	beta1       float32
	beta2       float32
	eps         float32
	weightDecay float32
	t           int                                             // Timestep for bias correction
	m           map[*nn.Parameter[B]]*tensor.Tensor[float32, B] // First moment estimates
	v           map[*nn.Parameter[B]]*tensor.Tensor[float32, B] // Second moment estimates
	backend     B
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR          float32    // Learning rate (default: 0.001)
	Betas       [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps         float32    // Term for numerical stability (default: 1e-8)
	WeightDecay float32    // L2 penalty (default: 0)
}

// NewAdam creates a new Adam optimizer, filling unset hyperparameters with
// the usual defaults.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam[B]{
		params:      params,
		lr:          config.LR,
		beta1:       config.Betas[0],
		beta2:       config.Betas[1],
		eps:         config.Eps,
		weightDecay: config.WeightDecay,
		m:           make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		v:           make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend:     backend,
	}
}

// Step performs a single optimization step. Parameters with no gradient are
// skipped.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++
	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		a.updateParameter(param, grad, a.moment(a.m, param), a.moment(a.v, param), biasCorrection1, biasCorrection2)
	}
}

func (a *Adam[B]) moment(store map[*nn.Parameter[B]]*tensor.Tensor[float32, B], param *nn.Parameter[B]) []float32 {
	m, ok := store[param]
	if !ok {
		m = tensor.Zeros[float32](param.Tensor().Shape(), a.backend)
		store[param] = m
	}
	return m.Data()
}

func (a *Adam[B]) updateParameter(param *nn.Parameter[B], grad, m, v []float32, biasCorrection1, biasCorrection2 float32) {
	data := param.Tensor().Data()
	for i := range data {
		g := grad[i] + a.weightDecay*data[i]
		m[i] = a.beta1*m[i] + (1.0-a.beta1)*g
		v[i] = a.beta2*v[i] + (1.0-a.beta2)*g*g

		mHat := m[i] / biasCorrection1
		vHat := v[i] / biasCorrection2
		data[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[B]) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam[B]) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam[B]) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the current timestep.
func (a *Adam[B]) GetTimestep() int {
	return a.t
}

// StateDict exports the moment estimates as "exp_avg.{name}" and
// "exp_avg_sq.{name}", and the timestep as a one-element "step" tensor.
func (a *Adam[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for _, param := range a.params {
		if m, ok := a.m[param]; ok {
			stateDict["exp_avg."+param.Name()] = m.Raw()
		}
		if v, ok := a.v[param]; ok {
			stateDict["exp_avg_sq."+param.Name()] = v.Raw()
		}
	}
	step := tensor.Full[float32](tensor.Shape{1}, float32(a.t), a.backend)
	stateDict["step"] = step.Raw()
	return stateDict
}

// LoadStateDict restores state saved with StateDict.
func (a *Adam[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	a.m = make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	a.v = make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	a.t = 0
	if step, ok := stateDict["step"]; ok && step.NumElements() == 1 {
		a.t = int(step.AsFloat32()[0])
	}

	for _, param := range a.params {
		for prefix, store := range map[string]map[*nn.Parameter[B]]*tensor.Tensor[float32, B]{"exp_avg.": a.m, "exp_avg_sq.": a.v} {
			raw, ok := stateDict[prefix+param.Name()]
			if !ok {
				continue
			}
			if !raw.Shape().Equal(param.Tensor().Shape()) {
				return fmt.Errorf("%s shape mismatch for %s: expected %v, got %v",
					prefix[:len(prefix)-1], param.Name(), param.Tensor().Shape(), raw.Shape())
			}
			store[param] = tensor.New[float32, B](raw.Clone(), a.backend)
		}
	}
	return nil
}
