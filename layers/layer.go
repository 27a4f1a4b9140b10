package layers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	ReLU
	LeakyReLU
	Sigmoid
	Tanh
	Identity
	Dropout
	BatchNorm
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case LeakyReLU:
		return "LeakyReLU"
	case Sigmoid:
		return "Sigmoid"
	case Tanh:
		return "Tanh"
	case Identity:
		return "Identity"
	case Dropout:
		return "Dropout"
	case BatchNorm:
		return "BatchNorm"
	default:
		return "Unknown"
	}
}

// ParseActivation maps an activation name from a layer config to its type
func ParseActivation(name string) (LayerType, error) {
	switch name {
	case "ReLU", "relu":
		return ReLU, nil
	case "LeakyReLU", "leaky_relu":
		return LeakyReLU, nil
	case "Sigmoid", "sigmoid":
		return Sigmoid, nil
	case "Tanh", "tanh":
		return Tanh, nil
	case "", "Identity", "None":
		return Identity, nil
	default:
		return Identity, fmt.Errorf("unsupported activation %q", name)
	}
}

// Layer is a differentiable operation over row-major batches.
// Backward must be called after Forward with the gradient of the output.
type Layer interface {
	Forward(x *mat.Dense, train bool) *mat.Dense
	Backward(dy *mat.Dense) *mat.Dense
	Params() []*Param
	Spec() LayerSpec
}

// LayerSpec describes one layer for summaries
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ModelSpec describes a whole model as a flat list of layers
type ModelSpec struct {
	Layers          []LayerSpec `json:"layers"`
	TotalParameters int64       `json:"total_parameters"`
}

// Append adds the specs and parameter count of a layer stack
func (ms *ModelSpec) Append(ls ...Layer) {
	for _, l := range ls {
		ms.Layers = append(ms.Layers, l.Spec())
		for _, p := range l.Params() {
			ms.TotalParameters += int64(p.Size())
		}
	}
}

// Param is a learnable matrix with its accumulated gradient
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam allocates a zero parameter of the given shape
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Size returns the number of elements
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// Shape returns the parameter shape
func (p *Param) Shape() []int {
	r, c := p.Value.Dims()
	return []int{r, c}
}

// ZeroGrad clears the accumulated gradient
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// ZeroGrads clears the gradients of every parameter
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
