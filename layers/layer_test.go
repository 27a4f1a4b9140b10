package layers

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/tsawler/go-agrnn/config"
	"gonum.org/v1/gonum/mat"
)

func newRNG() *rand.Rand {
	return rand.New(rand.NewPCG(7, 11))
}

func TestLinearForward(t *testing.T) {
	l := NewLinear("fc", 2, 3, true, newRNG())
	l.W.Value = mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	l.B.Value = mat.NewDense(1, 3, []float64{0.5, -0.5, 0})

	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	y := l.Forward(x, true)

	expected := []float64{1.5, 1.5, 3, 3.5, 3.5, 7}
	r, c := y.Dims()
	if r != 2 || c != 3 {
		t.Fatalf("expected 2x3 output, got %dx%d", r, c)
	}
	for i, want := range expected {
		if got := y.At(i/3, i%3); math.Abs(got-want) > 1e-12 {
			t.Errorf("y[%d,%d]: expected %v, got %v", i/3, i%3, want, got)
		}
	}

	t.Run("Initialization bounds", func(t *testing.T) {
		l := NewLinear("init", 16, 4, true, newRNG())
		bound := 1 / math.Sqrt(16)
		for _, p := range l.Params() {
			for _, v := range p.Value.RawMatrix().Data {
				if v < -bound || v > bound {
					t.Fatalf("%s value %v outside [-%v, %v]", p.Name, v, bound, bound)
				}
			}
		}
	})
}

func TestParseActivation(t *testing.T) {
	for name, want := range map[string]LayerType{"ReLU": ReLU, "LeakyReLU": LeakyReLU, "Sigmoid": Sigmoid, "Tanh": Tanh, "": Identity} {
		got, err := ParseActivation(name)
		if err != nil || got != want {
			t.Errorf("ParseActivation(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseActivation("Swish"); err == nil {
		t.Error("expected error for unsupported activation")
	}
}

// loss = sum(y * w) for a fixed random w, so dL/dy = w
func checkGradients(t *testing.T, m *MLP, x *mat.Dense) {
	t.Helper()
	y := m.Forward(x, false)
	r, c := y.Dims()
	w := mat.NewDense(r, c, nil)
	rng := newRNG()
	w.Apply(func(_, _ int, _ float64) float64 { return rng.Float64() - 0.5 }, w)

	loss := func() float64 {
		out := m.Forward(x, false)
		var s float64
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				s += out.At(i, j) * w.At(i, j)
			}
		}
		return s
	}

	ZeroGrads(m.Params())
	m.Forward(x, false)
	dx := m.Backward(w)

	const eps = 1e-6
	for _, p := range m.Params() {
		raw := p.Value.RawMatrix().Data
		for k := 0; k < len(raw); k += 3 {
			orig := raw[k]
			raw[k] = orig + eps
			up := loss()
			raw[k] = orig - eps
			down := loss()
			raw[k] = orig
			numeric := (up - down) / (2 * eps)
			analytic := p.Grad.RawMatrix().Data[k]
			if math.Abs(numeric-analytic) > 1e-5 {
				t.Errorf("%s[%d]: numeric %v vs analytic %v", p.Name, k, numeric, analytic)
			}
		}
	}

	xr, xc := x.Dims()
	for i := 0; i < xr; i++ {
		for j := 0; j < xc; j++ {
			orig := x.At(i, j)
			x.Set(i, j, orig+eps)
			up := loss()
			x.Set(i, j, orig-eps)
			down := loss()
			x.Set(i, j, orig)
			numeric := (up - down) / (2 * eps)
			if math.Abs(numeric-dx.At(i, j)) > 1e-5 {
				t.Errorf("dx[%d,%d]: numeric %v vs analytic %v", i, j, numeric, dx.At(i, j))
			}
		}
	}
}

func TestMLPGradients(t *testing.T) {
	lc := config.LayerConfig{
		Sizes:       []int{4, 5, 3},
		Activations: []string{"Tanh", "LeakyReLU"},
		Bias:        true,
	}
	m, err := NewMLP("mlp", lc, newRNG())
	if err != nil {
		t.Fatalf("NewMLP failed: %v", err)
	}
	rng := newRNG()
	x := mat.NewDense(3, 4, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return rng.Float64()*2 - 1 }, x)
	checkGradients(t, m, x)
}

func TestMLPConstruction(t *testing.T) {
	t.Run("Layer count follows config", func(t *testing.T) {
		lc := config.LayerConfig{Sizes: []int{6, 4, 2}, Activations: []string{"ReLU", "ReLU"}, Bias: true, Dropout: 0.2}
		m, err := NewMLP("head", lc, newRNG())
		if err != nil {
			t.Fatalf("NewMLP failed: %v", err)
		}
		// linear, relu, dropout twice
		if len(m.Layers()) != 6 {
			t.Errorf("expected 6 layers, got %d", len(m.Layers()))
		}
		var spec ModelSpec
		spec.Append(m.Layers()...)
		want := int64(6*4 + 4 + 4*2 + 2)
		if spec.TotalParameters != want {
			t.Errorf("expected %d parameters, got %d", want, spec.TotalParameters)
		}
	})

	t.Run("Batch norm rejected", func(t *testing.T) {
		lc := config.LayerConfig{Sizes: []int{2, 2}, Activations: []string{"ReLU"}, BatchNorm: true}
		if _, err := NewMLP("bn", lc, newRNG()); err == nil {
			t.Error("expected error for batch norm")
		}
	})

	t.Run("Mismatched activations rejected", func(t *testing.T) {
		lc := config.LayerConfig{Sizes: []int{2, 2, 2}, Activations: []string{"ReLU"}}
		if _, err := NewMLP("bad", lc, newRNG()); err == nil {
			t.Error("expected error for missing activation")
		}
	})
}

func TestDropout(t *testing.T) {
	d := NewDropout("drop", 0.5, newRNG())
	x := mat.NewDense(10, 10, nil)
	x.Apply(func(_, _ int, _ float64) float64 { return 1 }, x)

	if y := d.Forward(x, false); !mat.Equal(y, x) {
		t.Error("dropout must be the identity at evaluation")
	}

	y := d.Forward(x, true)
	zeros := 0
	for _, v := range y.RawMatrix().Data {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("unexpected dropout output %v", v)
		}
	}
	if zeros == 0 || zeros == 100 {
		t.Errorf("expected a mix of dropped and kept values, got %d zeros", zeros)
	}

	dx := d.Backward(x)
	for i, v := range dx.RawMatrix().Data {
		if v != y.RawMatrix().Data[i] {
			t.Fatalf("backward mask differs from forward mask at %d", i)
		}
	}
}
