package dataset

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tsawler/go-agrnn/config"
	"github.com/tsawler/go-agrnn/training"
	"gonum.org/v1/gonum/mat"
)

func makeSample(name string, nodes int, withExtras bool) *training.Sample {
	feat := mat.NewDense(nodes, 4, nil)
	labels := mat.NewDense(nodes, config.ActionNum, nil)
	boxes := mat.NewDense(nodes, 4, nil)
	roiLabels := make([]int, nodes)
	scores := make([]float64, nodes)
	for i := 0; i < nodes; i++ {
		feat.Set(i, i%4, float64(i+1))
		labels.Set(i, i, 1)
		boxes.SetRow(i, []float64{float64(i), 0, float64(i + 10), 20})
		roiLabels[i] = i + 1
		scores[i] = 0.5 + float64(i)/10
	}
	s := &training.Sample{
		Name:       name,
		Boxes:      boxes,
		RoiLabels:  roiLabels,
		RoiScores:  scores,
		NodeLabels: labels,
		Features:   feat,
	}
	if withExtras {
		s.Spatial = mat.NewDense(nodes*(nodes-1), 3, nil)
		s.OneHot = mat.NewDense(nodes, 2, nil)
	}
	return s
}

func writeIndex(t *testing.T, path string) {
	t.Helper()
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Add(SubsetTrain, makeSample(fmt.Sprintf("train_%d.jpg", i), i+2, i == 0)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if err := w.Add(SubsetVal, makeSample("val_0.jpg", 2, false)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if w.Count() != 4 {
		t.Errorf("expected 4 samples written, got %d", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestHicoRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hico_fc7.db")
	writeIndex(t, path)

	train, err := Open(path, SubsetTrain, 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer train.Close()
	if train.Len() != 3 || train.Subset() != SubsetTrain {
		t.Fatalf("expected 3 train samples, got %d", train.Len())
	}

	s, err := train.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	want := makeSample("train_0.jpg", 2, true)
	if s.Name != want.Name || s.NodeNum() != 2 {
		t.Errorf("unexpected sample %s with %d nodes", s.Name, s.NodeNum())
	}
	if !mat.Equal(s.Features, want.Features) || !mat.Equal(s.Boxes, want.Boxes) || !mat.Equal(s.NodeLabels, want.NodeLabels) {
		t.Error("matrices not preserved")
	}
	if s.RoiLabels[1] != 2 || s.RoiScores[1] != want.RoiScores[1] {
		t.Errorf("unexpected labels %v scores %v", s.RoiLabels, s.RoiScores)
	}
	if s.Spatial == nil || s.OneHot == nil {
		t.Error("expected optional features to be restored")
	}

	s2, err := train.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	if s2.NodeNum() != 4 || s2.Spatial != nil {
		t.Errorf("unexpected last sample with %d nodes", s2.NodeNum())
	}

	val, err := Open(path, SubsetVal, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer val.Close()
	if val.Len() != 1 {
		t.Errorf("expected 1 val sample, got %d", val.Len())
	}

	t.Run("Cache", func(t *testing.T) {
		before := train.CacheStats()
		again, err := train.Get(0)
		if err != nil {
			t.Fatal(err)
		}
		if again != s {
			t.Error("expected the cached sample")
		}
		after := train.CacheStats()
		if after.Hits != before.Hits+1 {
			t.Errorf("expected a cache hit, stats %s", after)
		}
	})

	t.Run("Feeds the data loader", func(t *testing.T) {
		dl := training.NewDataLoader(train, 2, false, 2, 1)
		var rows []int
		for b, err := range dl.Batches() {
			if err != nil {
				t.Fatal(err)
			}
			rows = append(rows, b.Rows())
		}
		if len(rows) != 2 || rows[0] != 5 || rows[1] != 4 {
			t.Errorf("expected batches of 5 and 4 nodes, got %v", rows)
		}
	})

	t.Run("Out of range", func(t *testing.T) {
		if _, err := train.Get(3); err == nil {
			t.Error("expected out of range error")
		}
	})
}

func TestOpenMissingIndex(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.db"), SubsetTrain, 0)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestWriterRejectsInvalidSample(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "hico.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	bad := makeSample("bad.jpg", 3, false)
	bad.RoiScores = bad.RoiScores[:2]
	if err := w.Add(SubsetTrain, bad); err == nil {
		t.Error("expected validation error")
	}
}

func TestCacheManager(t *testing.T) {
	cm := NewCacheManager(2)
	a, b, c := &training.Sample{Name: "a"}, &training.Sample{Name: "b"}, &training.Sample{Name: "c"}
	cm.Put(1, a)
	cm.Put(2, b)
	if _, ok := cm.Get(1); !ok {
		t.Fatal("expected hit for 1")
	}
	cm.Put(3, c)
	if _, ok := cm.Get(2); ok {
		t.Error("expected 2 evicted as least recently used")
	}
	if got, ok := cm.Get(3); !ok || got != c {
		t.Error("expected hit for 3")
	}

	stats := cm.Stats()
	if stats.Size != 2 || stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("unexpected stats %s", stats)
	}
	if !strings.Contains(stats.String(), "Hit Rate: 66.7%") {
		t.Errorf("unexpected stats string %s", stats)
	}

	cm.Clear()
	if _, ok := cm.Get(1); ok || cm.Stats().Size != 0 {
		t.Error("expected empty cache after Clear")
	}

	disabled := NewCacheManager(0)
	disabled.Put(1, a)
	if _, ok := disabled.Get(1); ok {
		t.Error("expected disabled cache to store nothing")
	}
}

func TestConstants(t *testing.T) {
	c, err := NewConstants("/data/hico", config.FeatPool)
	if err != nil {
		t.Fatal(err)
	}
	if c.DBPath() != filepath.Join("/data/hico", "hico_pool.db") {
		t.Errorf("unexpected db path %s", c.DBPath())
	}
	if c.FeatureDim() != 12544 {
		t.Errorf("expected pool feature dim 12544, got %d", c.FeatureDim())
	}
	fc7, _ := NewConstants("/data/hico", config.FeatFC7)
	if fc7.FeatureDim() != 1024 {
		t.Errorf("expected fc7 feature dim 1024, got %d", fc7.FeatureDim())
	}
	if _, err := NewConstants("/data/hico", "conv"); err == nil {
		t.Error("expected error for unknown feature type")
	}
}
