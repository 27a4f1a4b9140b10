package layers

import (
	"fmt"
	"math/rand/v2"

	"github.com/tsawler/go-agrnn/config"
	"gonum.org/v1/gonum/mat"
)

// MLP is a stack of Linear layers, each followed by its activation and
// an optional dropout, built from a config.LayerConfig
type MLP struct {
	name   string
	layers []Layer
}

// NewMLP builds the stack described by lc. Batch norm is not supported.
func NewMLP(name string, lc config.LayerConfig, rng *rand.Rand) (*MLP, error) {
	if err := lc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if lc.BatchNorm {
		return nil, fmt.Errorf("%s: batch normalization is not supported", name)
	}

	m := &MLP{name: name}
	for i := 0; i < len(lc.Sizes)-1; i++ {
		kind, err := ParseActivation(lc.Activations[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		prefix := fmt.Sprintf("%s.%d", name, i)
		m.layers = append(m.layers, NewLinear(prefix+".linear", lc.Sizes[i], lc.Sizes[i+1], lc.Bias, rng))
		if kind != Identity {
			m.layers = append(m.layers, NewActivation(prefix+"."+kind.String(), kind))
		}
		if lc.Dropout > 0 {
			m.layers = append(m.layers, NewDropout(prefix+".dropout", float64(lc.Dropout), rng))
		}
	}
	return m, nil
}

// Forward runs the stack
func (m *MLP) Forward(x *mat.Dense, train bool) *mat.Dense {
	for _, l := range m.layers {
		x = l.Forward(x, train)
	}
	return x
}

// Backward runs the stack in reverse and returns dx
func (m *MLP) Backward(dy *mat.Dense) *mat.Dense {
	for i := len(m.layers) - 1; i >= 0; i-- {
		dy = m.layers[i].Backward(dy)
	}
	return dy
}

// Params returns the parameters in layer order
func (m *MLP) Params() []*Param {
	var ps []*Param
	for _, l := range m.layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// Layers exposes the stack for summaries
func (m *MLP) Layers() []Layer {
	return m.layers
}
