package dataset

import (
	"fmt"
	"math/rand/v2"

	"github.com/tsawler/go-agrnn/config"
	"github.com/tsawler/go-agrnn/training"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SyntheticSpec shapes generated samples
type SyntheticSpec struct {
	FeatureDim    int
	MinNodes      int
	MaxNodes      int
	Width, Height int // image size the boxes are drawn in
}

// Synthetic generates one labelled sample. Node 0 is always a person.
// The first ActionNum feature columns are shifted by the node labels so
// that the actions can be learned from the features.
func Synthetic(name string, spec SyntheticSpec, rng *rand.Rand) (*training.Sample, error) {
	if spec.MinNodes < 1 || spec.MaxNodes < spec.MinNodes {
		return nil, fmt.Errorf("invalid node range [%d, %d]", spec.MinNodes, spec.MaxNodes)
	}
	if spec.Width < 8 || spec.Height < 8 {
		return nil, fmt.Errorf("image of %dx%d is too small", spec.Width, spec.Height)
	}
	n := spec.MinNodes + rng.IntN(spec.MaxNodes-spec.MinNodes+1)
	noise := distuv.Normal{Mu: 0, Sigma: 0.1, Src: rng}

	s := &training.Sample{
		Name:       name,
		Boxes:      mat.NewDense(n, 4, nil),
		RoiLabels:  make([]int, n),
		RoiScores:  make([]float64, n),
		NodeLabels: mat.NewDense(n, config.ActionNum, nil),
		Features:   mat.NewDense(n, spec.FeatureDim, nil),
	}
	for i := 0; i < n; i++ {
		x1 := rng.IntN(spec.Width / 2)
		y1 := rng.IntN(spec.Height / 2)
		x2 := x1 + 4 + rng.IntN(spec.Width-x1-3)
		y2 := y1 + 4 + rng.IntN(spec.Height-y1-3)
		s.Boxes.SetRow(i, []float64{float64(x1), float64(y1), float64(min(x2, spec.Width-1)), float64(min(y2, spec.Height-1))})

		s.RoiLabels[i] = 2 + rng.IntN(79)
		if i == 0 {
			s.RoiLabels[i] = 1
		}
		s.RoiScores[i] = 0.5 + rng.Float64()/2

		for k := rng.IntN(3); k > 0; k-- {
			s.NodeLabels.Set(i, rng.IntN(config.ActionNum), 1)
		}
		for j := 0; j < spec.FeatureDim; j++ {
			v := noise.Rand()
			if j < config.ActionNum {
				v += s.NodeLabels.At(i, j)
			}
			s.Features.Set(i, j, v)
		}
	}
	return s, s.Validate()
}
