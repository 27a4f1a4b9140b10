package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFeatureType is returned for a feature type selector other than fc7 or pool
var ErrUnknownFeatureType = errors.New("unknown feature type")

// FeatureType selects the node feature source and with it the input sizing
type FeatureType string

const (
	FeatFC7  FeatureType = "fc7"
	FeatPool FeatureType = "pool"
)

// ParseFeatureType validates a selector string
func ParseFeatureType(s string) (FeatureType, error) {
	switch FeatureType(s) {
	case FeatFC7, FeatPool:
		return FeatureType(s), nil
	default:
		return "", fmt.Errorf("%w: %q (expected fc7 or pool)", ErrUnknownFeatureType, s)
	}
}

// InputDim returns the width of the node features fed to the first graph layer
func (ft FeatureType) InputDim() int {
	switch ft {
	case FeatFC7:
		return 1024
	case FeatPool:
		return 2048
	default:
		return 0
	}
}

// ActionNum is the number of HICO verb classes
const ActionNum = 117

// Dropout is a dropout probability that serializes as false when disabled.
// The persisted layer records have always used a boolean for "no dropout".
type Dropout float64

func (d Dropout) MarshalJSON() ([]byte, error) {
	if d == 0 {
		return []byte("false"), nil
	}
	return json.Marshal(float64(d))
}

func (d *Dropout) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "false", "null":
		*d = 0
		return nil
	case "true":
		return fmt.Errorf("dropout: boolean true carries no rate")
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("dropout: %w", err)
	}
	*d = Dropout(v)
	return nil
}

// LayerConfig holds the hyperparameters of one sub-module of a graph layer
type LayerConfig struct {
	Sizes       []int    // linear layer sizes, input first
	Activations []string // one activation name per linear layer
	Bias        bool
	BatchNorm   bool
	Dropout     Dropout
	GRU         int // recurrent width, node group only
}

// InputDim returns the first layer size
func (lc LayerConfig) InputDim() int {
	if len(lc.Sizes) == 0 {
		return 0
	}
	return lc.Sizes[0]
}

// OutputDim returns the last layer size
func (lc LayerConfig) OutputDim() int {
	if len(lc.Sizes) == 0 {
		return 0
	}
	return lc.Sizes[len(lc.Sizes)-1]
}

// Validate checks that sizes and activations line up
func (lc LayerConfig) Validate() error {
	if len(lc.Sizes) < 2 {
		return fmt.Errorf("need at least two layer sizes, got %v", lc.Sizes)
	}
	if len(lc.Activations) != len(lc.Sizes)-1 {
		return fmt.Errorf("need %d activations for sizes %v, got %d", len(lc.Sizes)-1, lc.Sizes, len(lc.Activations))
	}
	for i, s := range lc.Sizes {
		if s <= 0 {
			return fmt.Errorf("layer size %d must be positive, got %d", i, s)
		}
	}
	if lc.Dropout < 0 || lc.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %v", float64(lc.Dropout))
	}
	return nil
}

// Configuration is the full set of sub-module configs for one graph layer
type Configuration struct {
	FeatType  FeatureType
	ActionNum int

	Head LayerConfig // graph head, maps pooled ROI features to node features
	Node LayerConfig // node update function
	Edge LayerConfig // edge function
	Attn LayerConfig // attention scoring
}

// New builds the configuration for a feature type
func New(featType FeatureType) (*Configuration, error) {
	if _, err := ParseFeatureType(string(featType)); err != nil {
		return nil, err
	}

	in := featType.InputDim()
	cfg := &Configuration{
		FeatType:  featType,
		ActionNum: ActionNum,
		Head: LayerConfig{
			Sizes:       []int{12544, 2048, 2048},
			Activations: []string{"ReLU", "ReLU"},
			Bias:        true,
			Dropout:     0.2,
		},
		Node: LayerConfig{
			Sizes:       []int{in * 2, 1024},
			Activations: []string{"ReLU"},
			Bias:        true,
			GRU:         1024,
		},
		Edge: LayerConfig{
			Sizes:       []int{in * 2, 1024},
			Activations: []string{"ReLU"},
			Bias:        true,
		},
		Attn: LayerConfig{
			Sizes:       []int{1024, 1},
			Activations: []string{"LeakyReLU"},
		},
	}
	return cfg, nil
}

// ForLayer builds the configuration of graph layer idx (zero based).
// Only the first layer sees the raw features; deeper layers consume the
// 1024-wide node state and take the fc7 sizing while keeping the run's
// feature type.
func ForLayer(featType FeatureType, idx int) (*Configuration, error) {
	if idx < 0 {
		return nil, fmt.Errorf("layer index must be non-negative, got %d", idx)
	}
	if idx == 0 {
		return New(featType)
	}
	if _, err := ParseFeatureType(string(featType)); err != nil {
		return nil, err
	}
	cfg, err := New(FeatFC7)
	if err != nil {
		return nil, err
	}
	cfg.FeatType = featType
	return cfg, nil
}

// Validate checks every group
func (c *Configuration) Validate() error {
	groups := []struct {
		name string
		lc   LayerConfig
	}{
		{BucketHead, c.Head},
		{BucketNode, c.Node},
		{BucketEdge, c.Edge},
		{BucketAttn, c.Attn},
	}
	for _, g := range groups {
		if err := g.lc.Validate(); err != nil {
			return fmt.Errorf("%s: %w", g.name, err)
		}
	}
	if c.Attn.InputDim() != c.Edge.OutputDim() {
		return fmt.Errorf("attention input %d does not match edge output %d", c.Attn.InputDim(), c.Edge.OutputDim())
	}
	return nil
}
