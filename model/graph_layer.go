package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/tsawler/go-agrnn/config"
	"github.com/tsawler/go-agrnn/layers"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// edges is the directed edge list of a batch: every ordered pair of
// distinct nodes within one image. recv[e] aggregates from send[e].
type edges struct {
	send []int
	recv []int
}

func completeEdges(nodeNum []int) edges {
	var es edges
	off := 0
	for _, n := range nodeNum {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i != j {
					es.recv = append(es.recv, off+i)
					es.send = append(es.send, off+j)
				}
			}
		}
		off += n
	}
	return es
}

func (es edges) len() int { return len(es.send) }

// GraphLayer is one round of attention-weighted message passing.
//
//	s_ij = attn(edge([h_i; h_j]))
//	a_ij = softmax_j(s_ij)
//	z_i  = sum_j a_ij h_j
//	h'_i = node([h_i; z_i])
type GraphLayer struct {
	dim  int
	edge *layers.MLP
	attn *layers.MLP
	node *layers.MLP

	h     *mat.Dense
	es    edges
	alpha []float64
}

func newGraphLayer(idx int, cfg *config.Configuration, dim int, rng *rand.Rand) (*GraphLayer, error) {
	if cfg.Edge.InputDim() != 2*dim {
		return nil, fmt.Errorf("layer %d: edge input %d, expected %d", idx, cfg.Edge.InputDim(), 2*dim)
	}
	if cfg.Node.InputDim() != 2*dim {
		return nil, fmt.Errorf("layer %d: node input %d, expected %d", idx, cfg.Node.InputDim(), 2*dim)
	}
	if cfg.Attn.OutputDim() != 1 {
		return nil, fmt.Errorf("layer %d: attention must produce one score, got %d", idx, cfg.Attn.OutputDim())
	}

	prefix := fmt.Sprintf("gnn.%d", idx)
	edge, err := layers.NewMLP(prefix+".edge", cfg.Edge, rng)
	if err != nil {
		return nil, err
	}
	attn, err := layers.NewMLP(prefix+".attn", cfg.Attn, rng)
	if err != nil {
		return nil, err
	}
	node, err := layers.NewMLP(prefix+".node", cfg.Node, rng)
	if err != nil {
		return nil, err
	}
	return &GraphLayer{dim: dim, edge: edge, attn: attn, node: node}, nil
}

// OutputDim is the width of the updated node state
func (g *GraphLayer) OutputDim() int {
	_, out := mlpDims(g.node)
	return out
}

func (g *GraphLayer) forward(h *mat.Dense, es edges, train bool) *mat.Dense {
	n, d := h.Dims()
	g.h, g.es = h, es

	z := mat.NewDense(n, d, nil)
	if es.len() > 0 {
		pairs := mat.NewDense(es.len(), 2*d, nil)
		for e := range es.send {
			row := pairs.RawRowView(e)
			copy(row[:d], h.RawRowView(es.recv[e]))
			copy(row[d:], h.RawRowView(es.send[e]))
		}
		scores := g.attn.Forward(g.edge.Forward(pairs, train), train)
		g.alpha = groupSoftmax(mat.Col(nil, 0, scores), es.recv, n)

		for e, a := range g.alpha {
			floats.AddScaled(z.RawRowView(es.recv[e]), a, h.RawRowView(es.send[e]))
		}
	} else {
		g.alpha = nil
	}

	cat := mat.NewDense(n, 2*d, nil)
	for i := 0; i < n; i++ {
		row := cat.RawRowView(i)
		copy(row[:d], h.RawRowView(i))
		copy(row[d:], z.RawRowView(i))
	}
	return g.node.Forward(cat, train)
}

func (g *GraphLayer) backward(dy *mat.Dense) *mat.Dense {
	n, d := g.h.Dims()
	dcat := g.node.Backward(dy)

	dh := mat.NewDense(n, d, nil)
	dz := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		row := dcat.RawRowView(i)
		copy(dh.RawRowView(i), row[:d])
		copy(dz.RawRowView(i), row[d:])
	}
	if g.es.len() == 0 {
		return dh
	}

	es := g.es
	dalpha := make([]float64, es.len())
	for e, a := range g.alpha {
		i, j := es.recv[e], es.send[e]
		dalpha[e] = floats.Dot(dz.RawRowView(i), g.h.RawRowView(j))
		floats.AddScaled(dh.RawRowView(j), a, dz.RawRowView(i))
	}

	// softmax backward within each receiver group
	dot := make([]float64, n)
	for e, a := range g.alpha {
		dot[es.recv[e]] += a * dalpha[e]
	}
	ds := mat.NewDense(es.len(), 1, nil)
	for e, a := range g.alpha {
		ds.Set(e, 0, a*(dalpha[e]-dot[es.recv[e]]))
	}

	dpairs := g.edge.Backward(g.attn.Backward(ds))
	for e := range es.send {
		row := dpairs.RawRowView(e)
		floats.Add(dh.RawRowView(es.recv[e]), row[:d])
		floats.Add(dh.RawRowView(es.send[e]), row[d:])
	}
	return dh
}

func (g *GraphLayer) params() []*layers.Param {
	var ps []*layers.Param
	for _, m := range []*layers.MLP{g.edge, g.attn, g.node} {
		ps = append(ps, m.Params()...)
	}
	return ps
}

func (g *GraphLayer) stack() []layers.Layer {
	var ls []layers.Layer
	for _, m := range []*layers.MLP{g.edge, g.attn, g.node} {
		ls = append(ls, m.Layers()...)
	}
	return ls
}

// groupSoftmax normalizes scores over the edges sharing a receiver
func groupSoftmax(scores []float64, recv []int, n int) []float64 {
	maxs := make([]float64, n)
	for i := range maxs {
		maxs[i] = math.Inf(-1)
	}
	for e, s := range scores {
		maxs[recv[e]] = math.Max(maxs[recv[e]], s)
	}
	out := make([]float64, len(scores))
	sums := make([]float64, n)
	for e, s := range scores {
		out[e] = math.Exp(s - maxs[recv[e]])
		sums[recv[e]] += out[e]
	}
	for e := range out {
		out[e] /= sums[recv[e]]
	}
	return out
}

func mlpDims(m *layers.MLP) (in, out int) {
	var first, last *layers.Linear
	for _, l := range m.Layers() {
		if lin, ok := l.(*layers.Linear); ok {
			if first == nil {
				first = lin
			}
			last = lin
		}
	}
	if first == nil {
		return 0, 0
	}
	// weights are (out, in)
	_, in = first.W.Value.Dims()
	out, _ = last.W.Value.Dims()
	return in, out
}
