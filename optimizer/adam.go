package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-agrnn/layers"
	"gonum.org/v1/gonum/mat"
)

// AdamOptimizerState holds Adam moments for each bound parameter
type AdamOptimizerState struct {
	// Hyperparameters
	learningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient

	params          []*layers.Param
	MomentumBuffers []*mat.Dense // First moment for each parameter
	VarianceBuffers []*mat.Dense // Second moment for each parameter

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates an Adam optimizer over params
func NewAdamOptimizer(config AdamConfig, params []*layers.Param) (*AdamOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	adam := &AdamOptimizerState{
		learningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		params:          params,
		MomentumBuffers: make([]*mat.Dense, len(params)),
		VarianceBuffers: make([]*mat.Dense, len(params)),
	}
	for i, p := range params {
		adam.MomentumBuffers[i] = zeroLike(p.Value)
		adam.VarianceBuffers[i] = zeroLike(p.Value)
	}
	return adam, nil
}

// Step performs a single Adam optimization step with bias correction
func (adam *AdamOptimizerState) Step() error {
	adam.StepCount++
	t := float64(adam.StepCount)
	c1 := 1 - math.Pow(adam.Beta1, t)
	c2 := 1 - math.Pow(adam.Beta2, t)

	for i, p := range adam.params {
		r, c := p.Value.Dims()
		gr, gc := p.Grad.Dims()
		if r != gr || c != gc {
			return fmt.Errorf("gradient shape %dx%d doesn't match parameter %s shape %dx%d", gr, gc, p.Name, r, c)
		}
		for row := 0; row < r; row++ {
			w := p.Value.RawRowView(row)
			g := p.Grad.RawRowView(row)
			m := adam.MomentumBuffers[i].RawRowView(row)
			v := adam.VarianceBuffers[i].RawRowView(row)
			for j := range w {
				gj := g[j] + adam.WeightDecay*w[j]
				m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*gj
				v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*gj*gj
				w[j] -= adam.learningRate * (m[j] / c1) / (math.Sqrt(v[j]/c2) + adam.Epsilon)
			}
		}
	}
	return nil
}

// ZeroGrad clears the parameter gradients
func (adam *AdamOptimizerState) ZeroGrad() {
	layers.ZeroGrads(adam.params)
}

// LearningRate returns the current learning rate
func (adam *AdamOptimizerState) LearningRate() float64 {
	return adam.learningRate
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float64) {
	adam.learningRate = newLR
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts optimizer state
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	stateData := make([]StateTensor, 0, 2*len(adam.params))
	for i := range adam.params {
		if tensor := extractBufferState(adam.MomentumBuffers[i], fmt.Sprintf("momentum_%d", i), "momentum"); tensor != nil {
			stateData = append(stateData, *tensor)
		}
		if tensor := extractBufferState(adam.VarianceBuffers[i], fmt.Sprintf("variance_%d", i), "variance"); tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}

	return &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.learningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.learningRate = extractFloat64Param(state.Parameters, "learning_rate", adam.learningRate)
	adam.Beta1 = extractFloat64Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat64Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat64Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)

	for _, tensor := range state.StateData {
		idx := extractBufferIndex(tensor.Name)
		if idx < 0 || idx >= len(adam.params) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", tensor.Name)
		}
		var buffer *mat.Dense
		switch tensor.StateType {
		case "momentum":
			buffer = adam.MomentumBuffers[idx]
		case "variance":
			buffer = adam.VarianceBuffers[idx]
		default:
			continue
		}
		if err := restoreBufferState(buffer, tensor.Data, tensor.Name); err != nil {
			return err
		}
	}
	return nil
}
