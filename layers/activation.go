package layers

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// LeakySlope is the negative slope used by LeakyReLU
const LeakySlope = 0.01

// Activation is an element-wise nonlinearity
type Activation struct {
	name string
	kind LayerType

	x *mat.Dense
	y *mat.Dense
}

// NewActivation creates an activation layer of the given type
func NewActivation(name string, kind LayerType) *Activation {
	return &Activation{name: name, kind: kind}
}

// Apply evaluates the activation on a single value
func Apply(kind LayerType, v float64) float64 {
	switch kind {
	case ReLU:
		if v > 0 {
			return v
		}
		return 0
	case LeakyReLU:
		if v > 0 {
			return v
		}
		return LeakySlope * v
	case Sigmoid:
		return SigmoidValue(v)
	case Tanh:
		return math.Tanh(v)
	default:
		return v
	}
}

// SigmoidValue is a numerically stable logistic function
func SigmoidValue(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}

func (a *Activation) Forward(x *mat.Dense, train bool) *mat.Dense {
	a.x = x
	y := mat.DenseCopyOf(x)
	y.Apply(func(_, _ int, v float64) float64 { return Apply(a.kind, v) }, y)
	a.y = y
	return y
}

func (a *Activation) Backward(dy *mat.Dense) *mat.Dense {
	dx := mat.DenseCopyOf(dy)
	dx.Apply(func(i, j int, g float64) float64 {
		switch a.kind {
		case ReLU:
			if a.x.At(i, j) > 0 {
				return g
			}
			return 0
		case LeakyReLU:
			if a.x.At(i, j) > 0 {
				return g
			}
			return LeakySlope * g
		case Sigmoid:
			y := a.y.At(i, j)
			return g * y * (1 - y)
		case Tanh:
			y := a.y.At(i, j)
			return g * (1 - y*y)
		default:
			return g
		}
	}, dx)
	return dx
}

func (a *Activation) Params() []*Param { return nil }

func (a *Activation) Spec() LayerSpec {
	params := map[string]interface{}{}
	if a.kind == LeakyReLU {
		params["negative_slope"] = LeakySlope
	}
	return LayerSpec{Type: a.kind, Name: a.name, Parameters: params}
}

// DropoutLayer zeroes elements with probability Rate during training and
// rescales the survivors by 1/(1-Rate). It is the identity at evaluation.
type DropoutLayer struct {
	name string
	Rate float64
	rng  *rand.Rand

	mask *mat.Dense
}

// NewDropout creates a dropout layer
func NewDropout(name string, rate float64, rng *rand.Rand) *DropoutLayer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &DropoutLayer{name: name, Rate: rate, rng: rng}
}

func (d *DropoutLayer) Forward(x *mat.Dense, train bool) *mat.Dense {
	if !train || d.Rate <= 0 {
		d.mask = nil
		return x
	}
	r, c := x.Dims()
	keep := 1 / (1 - d.Rate)
	d.mask = mat.NewDense(r, c, nil)
	d.mask.Apply(func(_, _ int, _ float64) float64 {
		if d.rng.Float64() < d.Rate {
			return 0
		}
		return keep
	}, d.mask)
	y := mat.NewDense(r, c, nil)
	y.MulElem(x, d.mask)
	return y
}

func (d *DropoutLayer) Backward(dy *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return dy
	}
	r, c := dy.Dims()
	dx := mat.NewDense(r, c, nil)
	dx.MulElem(dy, d.mask)
	return dx
}

func (d *DropoutLayer) Params() []*Param { return nil }

func (d *DropoutLayer) Spec() LayerSpec {
	return LayerSpec{Type: Dropout, Name: d.name, Parameters: map[string]interface{}{"rate": d.Rate}}
}
