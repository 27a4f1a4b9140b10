package layers

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Linear computes y = x·Wᵀ + b for row-major batches x of shape (n, in)
type Linear struct {
	name string
	in   int
	out  int
	W    *Param // (out, in)
	B    *Param // (1, out), nil without bias

	x *mat.Dense
}

// NewLinear creates a linear layer initialized from U(-1/sqrt(in), 1/sqrt(in))
func NewLinear(name string, in, out int, bias bool, rng *rand.Rand) *Linear {
	l := &Linear{
		name: name,
		in:   in,
		out:  out,
		W:    NewParam(name+".weight", out, in),
	}
	bound := 1 / math.Sqrt(float64(in))
	dist := distuv.Uniform{Min: -bound, Max: bound, Src: rng}
	fill(l.W.Value, dist)
	if bias {
		l.B = NewParam(name+".bias", 1, out)
		fill(l.B.Value, dist)
	}
	return l
}

func fill(m *mat.Dense, dist distuv.Uniform) {
	raw := m.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] = dist.Rand()
		}
	}
}

// Forward caches x for the backward pass
func (l *Linear) Forward(x *mat.Dense, train bool) *mat.Dense {
	n, _ := x.Dims()
	l.x = x
	y := mat.NewDense(n, l.out, nil)
	y.Mul(x, l.W.Value.T())
	if l.B != nil {
		b := l.B.Value.RawRowView(0)
		for i := 0; i < n; i++ {
			floats.Add(y.RawRowView(i), b)
		}
	}
	return y
}

// Backward accumulates parameter gradients and returns dx
func (l *Linear) Backward(dy *mat.Dense) *mat.Dense {
	n, _ := dy.Dims()

	var dW mat.Dense
	dW.Mul(dy.T(), l.x)
	l.W.Grad.Add(l.W.Grad, &dW)

	if l.B != nil {
		db := l.B.Grad.RawRowView(0)
		for i := 0; i < n; i++ {
			floats.Add(db, dy.RawRowView(i))
		}
	}

	dx := mat.NewDense(n, l.in, nil)
	dx.Mul(dy, l.W.Value)
	return dx
}

func (l *Linear) Params() []*Param {
	if l.B == nil {
		return []*Param{l.W}
	}
	return []*Param{l.W, l.B}
}

func (l *Linear) Spec() LayerSpec {
	return LayerSpec{
		Type: Dense,
		Name: l.name,
		Parameters: map[string]interface{}{
			"input_size":  l.in,
			"output_size": l.out,
			"use_bias":    l.B != nil,
		},
	}
}
