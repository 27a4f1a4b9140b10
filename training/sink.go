package training

import (
	"image"

	"github.com/tsawler/go-agrnn/checkpoints"
	"gonum.org/v1/gonum/mat"
)

// Model is the network driven by the controller. Forward returns one row of
// action logits per node of the batch; Backward consumes the gradient of the
// loss with respect to those logits and accumulates parameter gradients.
type Model interface {
	Train()
	Eval()
	Forward(b *Batch) (*mat.Dense, error)
	Backward(dlogits *mat.Dense) error
	StateDict() []checkpoints.WeightTensor
}

// Optimizer is the subset of optimizer.Optimizer the controller uses
type Optimizer interface {
	ZeroGrad()
	Step() error
	LearningRate() float64
	UpdateLearningRate(lr float64)
}

// SummaryWriter receives the observability stream of a run
type SummaryWriter interface {
	AddScalar(tag string, value float64, step int) error
	AddScalars(mainTag string, values map[string]float64, step int) error
	AddImage(tag string, img image.Image, step int) error
	Close() error
}

// Visualizer draws the detections of one image with the actions whose
// score reaches threshold
type Visualizer interface {
	Render(imgName string, boxes *mat.Dense, roiLabels []int, roiScores []float64, actions *mat.Dense, threshold float64) (image.Image, error)
}

type nopSummary struct{}

func (nopSummary) AddScalar(string, float64, int) error            { return nil }
func (nopSummary) AddScalars(string, map[string]float64, int) error { return nil }
func (nopSummary) AddImage(string, image.Image, int) error          { return nil }
func (nopSummary) Close() error                                     { return nil }
