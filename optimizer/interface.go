package optimizer

import (
	"fmt"

	"github.com/tsawler/go-agrnn/layers"
)

// Optimizer defines the common interface for all optimizers.
// Parameters are bound at construction; Step consumes their accumulated
// gradients.
type Optimizer interface {
	// Step performs a single optimization step
	Step() error

	// ZeroGrad clears the gradients of every bound parameter
	ZeroGrad()

	// GetState extracts optimizer state for inspection or checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// LearningRate returns the current learning rate
	LearningRate() float64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)
}

// OptimizerState represents the complete state of an optimizer
type OptimizerState struct {
	Type       string                 `json:"type"`       // "Adam", "SGD"
	Parameters map[string]interface{} `json:"parameters"` // Hyperparameters
	StateData  []StateTensor          `json:"state_data"`
}

// StateTensor is one per-parameter state buffer
type StateTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"`
}

// Config selects and parameterizes an optimizer
type Config struct {
	Name         string // "sgd" or "adam"
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// New builds the optimizer named by cfg over params
func New(cfg Config, params []*layers.Param) (Optimizer, error) {
	switch cfg.Name {
	case "sgd", "":
		return NewSGDOptimizer(SGDConfig{
			LearningRate: cfg.LearningRate,
			Momentum:     cfg.Momentum,
			WeightDecay:  cfg.WeightDecay,
			Nesterov:     cfg.Nesterov,
		}, params)
	case "adam":
		ac := DefaultAdamConfig()
		ac.LearningRate = cfg.LearningRate
		ac.WeightDecay = cfg.WeightDecay
		return NewAdamOptimizer(ac, params)
	default:
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Name)
	}
}

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "variance_1"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
