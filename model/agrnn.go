// Package model implements the attention graph network that scores HOI
// actions for every detected region of an image.
package model

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/tsawler/go-agrnn/checkpoints"
	"github.com/tsawler/go-agrnn/config"
	"github.com/tsawler/go-agrnn/layers"
	"github.com/tsawler/go-agrnn/training"
	"gonum.org/v1/gonum/mat"
)

// AGRNN stacks graph attention layers over the regions of each image and
// reads out per-node action logits. Pool features first pass the graph
// head, fc7 features enter the first graph layer directly. Spatial and
// role features of a batch are accepted and ignored.
type AGRNN struct {
	featType config.FeatureType
	inputDim int
	head     *layers.MLP
	graph    []*GraphLayer
	readout  *layers.Linear
	train    bool
}

// New builds a model with numLayers graph layers using the per-layer
// configurations of featType
func New(featType config.FeatureType, numLayers int, rng *rand.Rand) (*AGRNN, error) {
	if numLayers <= 0 {
		return nil, fmt.Errorf("need at least one graph layer, got %d", numLayers)
	}
	cfgs := make([]*config.Configuration, numLayers)
	for i := range cfgs {
		cfg, err := config.ForLayer(featType, i)
		if err != nil {
			return nil, err
		}
		cfgs[i] = cfg
	}
	return NewFromConfigs(featType, cfgs, rng)
}

// NewFromConfigs builds a model from explicit per-layer configurations.
// The head of the first configuration is used for pool features.
func NewFromConfigs(featType config.FeatureType, cfgs []*config.Configuration, rng *rand.Rand) (*AGRNN, error) {
	if _, err := config.ParseFeatureType(string(featType)); err != nil {
		return nil, err
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("need at least one graph layer")
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	m := &AGRNN{featType: featType, train: true}
	dim := cfgs[0].Edge.InputDim() / 2
	m.inputDim = dim
	if featType == config.FeatPool {
		head, err := layers.NewMLP("head", cfgs[0].Head, rng)
		if err != nil {
			return nil, err
		}
		if cfgs[0].Head.OutputDim() != dim {
			return nil, fmt.Errorf("head output %d does not match graph input %d", cfgs[0].Head.OutputDim(), dim)
		}
		m.head = head
		m.inputDim = cfgs[0].Head.InputDim()
	}

	for i, cfg := range cfgs {
		if cfg.Edge.BatchNorm || cfg.Node.BatchNorm || cfg.Attn.BatchNorm {
			return nil, fmt.Errorf("layer %d: batch normalization is not supported", i)
		}
		g, err := newGraphLayer(i, cfg, dim, rng)
		if err != nil {
			return nil, err
		}
		m.graph = append(m.graph, g)
		dim = g.OutputDim()
	}

	actions := cfgs[len(cfgs)-1].ActionNum
	if actions <= 0 {
		actions = config.ActionNum
	}
	m.readout = layers.NewLinear("readout", dim, actions, true, rng)
	return m, nil
}

// InputDim is the node feature width the model expects
func (m *AGRNN) InputDim() int { return m.inputDim }

// Train enables dropout
func (m *AGRNN) Train() { m.train = true }

// Eval disables dropout
func (m *AGRNN) Eval() { m.train = false }

// Forward returns (nodes, actions) logits for the batch
func (m *AGRNN) Forward(b *training.Batch) (*mat.Dense, error) {
	if b.Features == nil {
		return nil, fmt.Errorf("batch has no node features")
	}
	n, d := b.Features.Dims()
	if d != m.inputDim {
		return nil, fmt.Errorf("node features are %d wide, model expects %d", d, m.inputDim)
	}
	total := 0
	for _, k := range b.NodeNum {
		total += k
	}
	if total != n {
		return nil, fmt.Errorf("batch node counts sum to %d, features have %d rows", total, n)
	}

	h := b.Features
	if m.head != nil {
		h = m.head.Forward(h, m.train)
	}
	es := completeEdges(b.NodeNum)
	for _, g := range m.graph {
		h = g.forward(h, es, m.train)
	}
	return m.readout.Forward(h, m.train), nil
}

// Backward accumulates parameter gradients from the logits gradient of
// the last Forward
func (m *AGRNN) Backward(dlogits *mat.Dense) error {
	if m.readout == nil {
		return fmt.Errorf("model is not built")
	}
	dh := m.readout.Backward(dlogits)
	for i := len(m.graph) - 1; i >= 0; i-- {
		dh = m.graph[i].backward(dh)
	}
	if m.head != nil {
		m.head.Backward(dh)
	}
	return nil
}

// Params returns every learnable parameter in a stable order
func (m *AGRNN) Params() []*layers.Param {
	var ps []*layers.Param
	if m.head != nil {
		ps = append(ps, m.head.Params()...)
	}
	for _, g := range m.graph {
		ps = append(ps, g.params()...)
	}
	return append(ps, m.readout.Params()...)
}

// Spec summarizes the layer stack
func (m *AGRNN) Spec() *layers.ModelSpec {
	spec := &layers.ModelSpec{}
	if m.head != nil {
		spec.Append(m.head.Layers()...)
	}
	for _, g := range m.graph {
		spec.Append(g.stack()...)
	}
	spec.Append(m.readout)
	return spec
}

// StateDict copies the parameters into named tensors
func (m *AGRNN) StateDict() []checkpoints.WeightTensor {
	params := m.Params()
	out := make([]checkpoints.WeightTensor, len(params))
	for i, p := range params {
		out[i] = checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: p.Shape(),
			Data:  slices.Clone(p.Value.RawMatrix().Data),
		}
	}
	return out
}

// LoadStateDict restores parameters by name. Every parameter must be
// present with a matching shape.
func (m *AGRNN) LoadStateDict(tensors []checkpoints.WeightTensor) error {
	byName := make(map[string]checkpoints.WeightTensor, len(tensors))
	for _, t := range tensors {
		byName[t.Name] = t
	}
	for _, p := range m.Params() {
		t, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("missing tensor %s", p.Name)
		}
		if !slices.Equal(t.Shape, p.Shape()) || len(t.Data) != p.Size() {
			return fmt.Errorf("tensor %s has shape %v, expected %v", p.Name, t.Shape, p.Shape())
		}
		copy(p.Value.RawMatrix().Data, t.Data)
	}
	return nil
}
