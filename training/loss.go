package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-agrnn/layers"
	"gonum.org/v1/gonum/mat"
)

// Criterion scores logits against targets and returns the loss with its
// gradient with respect to the logits
type Criterion interface {
	Forward(logits, targets *mat.Dense) (float64, *mat.Dense, error)
}

// BCEWithLogitsLoss is the mean binary cross entropy of sigmoid(logits)
// against float targets, computed in the numerically stable form
//
//	l = max(z, 0) - z*y + log(1 + exp(-|z|))
type BCEWithLogitsLoss struct{}

// NewBCEWithLogitsLoss creates the multi-label action criterion
func NewBCEWithLogitsLoss() *BCEWithLogitsLoss {
	return &BCEWithLogitsLoss{}
}

func (BCEWithLogitsLoss) Forward(logits, targets *mat.Dense) (float64, *mat.Dense, error) {
	r, c := logits.Dims()
	tr, tc := targets.Dims()
	if r != tr || c != tc {
		return 0, nil, fmt.Errorf("logits %dx%d and targets %dx%d differ in shape", r, c, tr, tc)
	}
	if r == 0 || c == 0 {
		return 0, nil, fmt.Errorf("empty logits")
	}

	n := float64(r * c)
	grad := mat.NewDense(r, c, nil)
	var sum float64
	for i := 0; i < r; i++ {
		z := logits.RawRowView(i)
		y := targets.RawRowView(i)
		g := grad.RawRowView(i)
		for j := range z {
			sum += math.Max(z[j], 0) - z[j]*y[j] + math.Log1p(math.Exp(-math.Abs(z[j])))
			g[j] = (layers.SigmoidValue(z[j]) - y[j]) / n
		}
	}
	loss := sum / n
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, nil, fmt.Errorf("non-finite loss %v", loss)
	}
	return loss, grad, nil
}

// Sigmoid applies the logistic function element-wise
func Sigmoid(m *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(m)
	out.Apply(func(_, _ int, v float64) float64 { return layers.SigmoidValue(v) }, out)
	return out
}
