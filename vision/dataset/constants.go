package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/tsawler/go-agrnn/config"
)

// Subsets of the HICO index
const (
	SubsetTrain = "train"
	SubsetVal   = "val"
	SubsetTest  = "test"
)

// Constants locates the processed HICO files for one feature type
type Constants struct {
	DataDir  string
	FeatType config.FeatureType
}

// NewConstants validates the feature type and returns the locations under dataDir
func NewConstants(dataDir string, featType config.FeatureType) (*Constants, error) {
	if _, err := config.ParseFeatureType(string(featType)); err != nil {
		return nil, err
	}
	return &Constants{DataDir: dataDir, FeatType: featType}, nil
}

// DBPath is <data_dir>/hico_<feat_type>.db
func (c *Constants) DBPath() string {
	return filepath.Join(c.DataDir, fmt.Sprintf("hico_%s.db", c.FeatType))
}

// FeatureDim is the node feature width stored for the feature type
func (c *Constants) FeatureDim() int {
	if c.FeatType == config.FeatPool {
		// 7x7 ROI pooled maps of 256 channels, flattened
		return 12544
	}
	return c.FeatType.InputDim()
}
