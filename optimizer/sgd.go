package optimizer

import (
	"fmt"

	"github.com/tsawler/go-agrnn/layers"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SGDOptimizerState is stochastic gradient descent with optional momentum,
// L2 weight decay and Nesterov acceleration:
//
//	g = grad + wd*w
//	buf = momentum*buf + g        (buf = g on the first step)
//	w -= lr * (g + momentum*buf)  if nesterov, else lr * buf
type SGDOptimizerState struct {
	// Hyperparameters
	learningRate float64
	Momentum     float64 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float64 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	params          []*layers.Param
	MomentumBuffers []*mat.Dense // only if momentum > 0

	// Step tracking
	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates an SGD optimizer over params
func NewSGDOptimizer(config SGDConfig, params []*layers.Param) (*SGDOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}

	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires a positive momentum")
	}

	sgd := &SGDOptimizerState{
		learningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		params:       params,
	}

	if config.Momentum > 0 {
		sgd.MomentumBuffers = make([]*mat.Dense, len(params))
		for i, p := range params {
			sgd.MomentumBuffers[i] = zeroLike(p.Value)
		}
	}
	return sgd, nil
}

// Step performs a single SGD optimization step
func (sgd *SGDOptimizerState) Step() error {
	first := sgd.StepCount == 0
	sgd.StepCount++

	for i, p := range sgd.params {
		r, c := p.Value.Dims()
		gr, gc := p.Grad.Dims()
		if r != gr || c != gc {
			return fmt.Errorf("gradient shape %dx%d doesn't match parameter %s shape %dx%d", gr, gc, p.Name, r, c)
		}

		for row := 0; row < r; row++ {
			w := p.Value.RawRowView(row)
			g := append([]float64(nil), p.Grad.RawRowView(row)...)
			if sgd.WeightDecay != 0 {
				floats.AddScaled(g, sgd.WeightDecay, w)
			}

			if sgd.Momentum > 0 {
				buf := sgd.MomentumBuffers[i].RawRowView(row)
				if first {
					copy(buf, g)
				} else {
					floats.Scale(sgd.Momentum, buf)
					floats.Add(buf, g)
				}
				if sgd.Nesterov {
					floats.AddScaled(g, sgd.Momentum, buf)
				} else {
					copy(g, buf)
				}
			}

			floats.AddScaled(w, -sgd.learningRate, g)
		}
	}
	return nil
}

// ZeroGrad clears the parameter gradients
func (sgd *SGDOptimizerState) ZeroGrad() {
	layers.ZeroGrads(sgd.params)
}

// LearningRate returns the current learning rate
func (sgd *SGDOptimizerState) LearningRate() float64 {
	return sgd.learningRate
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float64) {
	sgd.learningRate = newLR
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	stateData := make([]StateTensor, 0, len(sgd.MomentumBuffers))
	for i, buffer := range sgd.MomentumBuffers {
		if tensor := extractBufferState(buffer, fmt.Sprintf("momentum_%d", i), "momentum"); tensor != nil {
			stateData = append(stateData, *tensor)
		}
	}

	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.learningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_count":    sgd.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.learningRate = extractFloat64Param(state.Parameters, "learning_rate", sgd.learningRate)
	sgd.Momentum = extractFloat64Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	for _, tensor := range state.StateData {
		if tensor.StateType != "momentum" {
			continue
		}
		idx := extractBufferIndex(tensor.Name)
		if idx < 0 || idx >= len(sgd.params) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", tensor.Name)
		}
		if sgd.MomentumBuffers == nil {
			sgd.MomentumBuffers = make([]*mat.Dense, len(sgd.params))
			for i, p := range sgd.params {
				sgd.MomentumBuffers[i] = zeroLike(p.Value)
			}
		}
		if err := restoreBufferState(sgd.MomentumBuffers[idx], tensor.Data, tensor.Name); err != nil {
			return err
		}
	}
	return nil
}
