package training

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Sample is one image: its detected regions and their node features
type Sample struct {
	Name       string
	Boxes      *mat.Dense // (n, 4) x1 y1 x2 y2
	RoiLabels  []int      // detection class per region, 1 is person
	RoiScores  []float64  // detection confidence per region
	NodeLabels *mat.Dense // (n, ActionNum) multi-hot ground truth
	Features   *mat.Dense // (n, D)

	// Optional extras, nil when the dataset does not provide them
	Spatial *mat.Dense // (n*(n-1), S) pairwise spatial features
	OneHot  *mat.Dense // (n, K) role encoding
}

// NodeNum returns the number of regions in the sample
func (s *Sample) NodeNum() int {
	if s.Features == nil {
		return 0
	}
	r, _ := s.Features.Dims()
	return r
}

// Validate checks the per-region arrays agree on the node count
func (s *Sample) Validate() error {
	n := s.NodeNum()
	if n == 0 {
		return fmt.Errorf("sample %s has no nodes", s.Name)
	}
	if r, c := dims(s.Boxes); r != n || c != 4 {
		return fmt.Errorf("sample %s: boxes are %dx%d, expected %dx4", s.Name, r, c, n)
	}
	if len(s.RoiLabels) != n || len(s.RoiScores) != n {
		return fmt.Errorf("sample %s: %d labels and %d scores for %d nodes", s.Name, len(s.RoiLabels), len(s.RoiScores), n)
	}
	if r, _ := dims(s.NodeLabels); r != n {
		return fmt.Errorf("sample %s: %d label rows for %d nodes", s.Name, r, n)
	}
	if s.OneHot != nil {
		if r, _ := s.OneHot.Dims(); r != n {
			return fmt.Errorf("sample %s: %d one-hot rows for %d nodes", s.Name, r, n)
		}
	}
	if s.Spatial != nil {
		if r, _ := s.Spatial.Dims(); r != n*(n-1) {
			return fmt.Errorf("sample %s: %d spatial rows, expected %d", s.Name, r, n*(n-1))
		}
	}
	return nil
}

func dims(m *mat.Dense) (int, int) {
	if m == nil {
		return 0, 0
	}
	return m.Dims()
}

// Batch is a set of collated samples. Per-sample metadata stays in slices;
// the per-node matrices are the row-wise concatenation of the samples.
type Batch struct {
	Names     []string
	Boxes     []*mat.Dense
	RoiLabels [][]int
	RoiScores [][]float64
	NodeNum   []int

	NodeLabels *mat.Dense
	Features   *mat.Dense
	Spatial    *mat.Dense // nil unless every sample has spatial features
	OneHot     *mat.Dense // nil unless every sample has a role encoding
}

// Len returns the number of samples in the batch
func (b *Batch) Len() int {
	return len(b.Names)
}

// Rows returns the total number of nodes in the batch
func (b *Batch) Rows() int {
	r, _ := dims(b.NodeLabels)
	return r
}

// Offset returns the first node row of sample i
func (b *Batch) Offset(i int) int {
	off := 0
	for _, n := range b.NodeNum[:i] {
		off += n
	}
	return off
}

// SampleRows returns the rows of m that belong to sample i
func (b *Batch) SampleRows(m *mat.Dense, i int) *mat.Dense {
	off := b.Offset(i)
	_, c := m.Dims()
	return mat.DenseCopyOf(m.Slice(off, off+b.NodeNum[i], 0, c))
}

// Collate concatenates samples into a Batch
func Collate(samples []*Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	b := &Batch{}
	var labels, feats, spatial, oneHot []*mat.Dense
	hasSpatial, hasOneHot := true, true
	for _, s := range samples {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		b.Names = append(b.Names, s.Name)
		b.Boxes = append(b.Boxes, s.Boxes)
		b.RoiLabels = append(b.RoiLabels, s.RoiLabels)
		b.RoiScores = append(b.RoiScores, s.RoiScores)
		b.NodeNum = append(b.NodeNum, s.NodeNum())
		labels = append(labels, s.NodeLabels)
		feats = append(feats, s.Features)
		spatial = append(spatial, s.Spatial)
		oneHot = append(oneHot, s.OneHot)
		hasSpatial = hasSpatial && s.Spatial != nil
		hasOneHot = hasOneHot && s.OneHot != nil
	}

	var err error
	if b.NodeLabels, err = stackRows(labels); err != nil {
		return nil, fmt.Errorf("node labels: %w", err)
	}
	if b.Features, err = stackRows(feats); err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	if hasSpatial {
		if b.Spatial, err = stackRows(spatial); err != nil {
			return nil, fmt.Errorf("spatial features: %w", err)
		}
	}
	if hasOneHot {
		if b.OneHot, err = stackRows(oneHot); err != nil {
			return nil, fmt.Errorf("one-hot encodings: %w", err)
		}
	}
	return b, nil
}

// stackRows concatenates matrices with equal column counts. Empty
// matrices are skipped.
func stackRows(ms []*mat.Dense) (*mat.Dense, error) {
	rows, cols := 0, -1
	for _, m := range ms {
		r, c := m.Dims()
		if r == 0 {
			continue
		}
		if cols >= 0 && c != cols {
			return nil, fmt.Errorf("column mismatch: %d vs %d", c, cols)
		}
		cols = c
		rows += r
	}
	if rows == 0 {
		return nil, fmt.Errorf("no rows to stack")
	}
	out := mat.NewDense(rows, cols, nil)
	at := 0
	for _, m := range ms {
		r, _ := m.Dims()
		for i := 0; i < r; i++ {
			out.SetRow(at, m.RawRowView(i))
			at++
		}
	}
	return out, nil
}
