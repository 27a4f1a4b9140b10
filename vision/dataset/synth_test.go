package dataset

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-agrnn/config"
)

func TestSynthetic(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	spec := SyntheticSpec{FeatureDim: 1024, MinNodes: 2, MaxNodes: 4, Width: 64, Height: 48}

	path := filepath.Join(t.TempDir(), "hico_fc7.db")
	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		s, err := Synthetic("img.png", spec, rng)
		if err != nil {
			t.Fatalf("Synthetic failed: %v", err)
		}
		n := s.NodeNum()
		if n < 2 || n > 4 || s.RoiLabels[0] != 1 {
			t.Fatalf("unexpected sample with %d nodes, labels %v", n, s.RoiLabels)
		}
		for r := 0; r < n; r++ {
			if s.Boxes.At(r, 2) > 63 || s.Boxes.At(r, 3) > 47 || s.Boxes.At(r, 0) >= s.Boxes.At(r, 2) {
				t.Fatalf("box %v outside the image", s.Boxes.RawRowView(r))
			}
			for j := 0; j < config.ActionNum; j++ {
				if s.NodeLabels.At(r, j) == 1 && s.Features.At(r, j) < 0.5 {
					t.Fatalf("feature %d does not carry label of node %d", j, r)
				}
			}
		}
		if err := w.Add(SubsetTrain, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	h, err := Open(path, SubsetTrain, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	if h.Len() != 20 {
		t.Errorf("expected 20 samples, got %d", h.Len())
	}

	if _, err := Synthetic("x", SyntheticSpec{FeatureDim: 4, MinNodes: 3, MaxNodes: 2, Width: 64, Height: 64}, rng); err == nil {
		t.Error("expected node range error")
	}
	if _, err := Synthetic("x", SyntheticSpec{FeatureDim: 4, MinNodes: 1, MaxNodes: 2, Width: 4, Height: 64}, rng); err == nil {
		t.Error("expected image size error")
	}
}
