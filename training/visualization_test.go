package training

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tsawler/go-agrnn/checkpoints"
	"github.com/tsawler/go-agrnn/layers"
	"github.com/tsawler/go-agrnn/optimizer"
)

func TestCheckpointWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints", "v1")
	dropout := 0.2
	cw := NewCheckpointWriter(dir, checkpoints.FormatProto, Hyperparams{
		LR: 1e-5, BatchSize: 32, Dropout: &dropout, FeatType: "pool", Layers: 2,
	})

	model := &fakeModel{}
	path, err := cw.Write(model, 5000, "iters")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if filepath.Base(path) != "checkpoint_5000_iters.pth" || filepath.Dir(path) != dir {
		t.Errorf("unexpected path %s", path)
	}

	ckpt, err := checkpoints.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ckpt.LR != 1e-5 || ckpt.BatchSize != 32 || ckpt.FeatType != "pool" || ckpt.Layers != 2 {
		t.Errorf("hyperparameters not preserved: %+v", ckpt)
	}
	if ckpt.Dropout == nil || *ckpt.Dropout != 0.2 {
		t.Errorf("expected dropout 0.2, got %v", ckpt.Dropout)
	}
	if w, ok := ckpt.Tensor("w"); !ok || w.Data[1] != 2 {
		t.Errorf("expected state dict tensor w, got %+v", ckpt.StateDict)
	}

	// a second write at the same step replaces the file
	if _, err := cw.Write(model, 5000, "iters"); err != nil {
		t.Fatal(err)
	}
	if len(cw.SavedFiles()) != 2 {
		t.Errorf("expected 2 recorded writes, got %d", len(cw.SavedFiles()))
	}
}

func TestCheckpointWriterOptimizerState(t *testing.T) {
	p := layers.NewParam("w", 1, 2)
	p.Grad.SetRow(0, []float64{0.5, -1})
	opt, err := optimizer.NewSGDOptimizer(optimizer.SGDConfig{LearningRate: 0.1, Momentum: 0.9}, []*layers.Param{p})
	if err != nil {
		t.Fatal(err)
	}
	if err := opt.Step(); err != nil {
		t.Fatal(err)
	}

	cw := NewCheckpointWriter(t.TempDir(), checkpoints.FormatProto, Hyperparams{LR: 0.1, BatchSize: 1}).WithOptimizerState(opt)
	path, err := cw.Write(&fakeModel{}, 1, "epoch")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var state optimizer.OptimizerState
	if err := checkpoints.LoadState(checkpoints.StateFileName(path), &state); err != nil {
		t.Fatalf("expected optimizer state next to the checkpoint: %v", err)
	}
	restored, err := optimizer.NewSGDOptimizer(optimizer.SGDConfig{LearningRate: 0.5, Momentum: 0.9}, []*layers.Param{layers.NewParam("w", 1, 2)})
	if err != nil {
		t.Fatal(err)
	}
	if err := restored.LoadState(&state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if restored.GetStepCount() != 1 || restored.LearningRate() != 0.1 {
		t.Errorf("expected step 1 at lr 0.1, got step %d at lr %v", restored.GetStepCount(), restored.LearningRate())
	}
	if got := restored.MomentumBuffers[0].At(0, 1); got != -1 {
		t.Errorf("expected momentum -1, got %v", got)
	}
}

func TestVisualizationCollector(t *testing.T) {
	vc := NewVisualizationCollector("AGRNN")

	_ = vc.AddScalar(TagTrainLossIter, 1, 0)
	if len(vc.Series(TagTrainLossIter)) != 0 {
		t.Error("expected disabled collector to drop scalars")
	}

	vc.Enable()
	if !vc.IsEnabled() {
		t.Fatal("expected collector enabled")
	}
	_ = vc.AddScalars(TagTrainValEpoch, map[string]float64{"train": 0.4, "val": 0.5}, 0)
	_ = vc.AddScalars(TagTrainValEpoch, map[string]float64{"train": 0.3, "val": 0.45}, 1)
	_ = vc.AddScalar(TagLearningRate, 1e-5, 0)
	_ = vc.AddImage(TagGTDetection, image.NewRGBA(image.Rect(0, 0, 1, 1)), 0)

	train := vc.Series(TagTrainValEpoch + "/train")
	if len(train) != 2 || train[1].Value != 0.3 || train[1].Step != 1 {
		t.Errorf("unexpected train series %+v", train)
	}
	if vc.ImageCount(TagGTDetection) != 1 {
		t.Errorf("expected 1 image, got %d", vc.ImageCount(TagGTDetection))
	}

	curves := vc.GenerateTrainingCurvesPlot()
	if curves.PlotType != TrainingCurves || len(curves.Series) != 2 {
		t.Fatalf("expected 2 loss series, got %+v", curves.Series)
	}
	if curves.Series[0].Name != "trainval_loss_epoch/train" || curves.Series[1].Name != "trainval_loss_epoch/val" {
		t.Errorf("expected series sorted by tag, got %s and %s", curves.Series[0].Name, curves.Series[1].Name)
	}

	lr := vc.GenerateLearningRateSchedulePlot()
	if len(lr.Series) != 1 || len(lr.Series[0].Data) != 1 {
		t.Errorf("expected one learning rate point, got %+v", lr.Series)
	}

	js, err := curves.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(js), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["plot_type"] != "training_curves" {
		t.Errorf("expected plot_type training_curves, got %v", decoded["plot_type"])
	}

	vc.Clear()
	if len(vc.Series(TagTrainValEpoch+"/train")) != 0 || vc.ImageCount(TagGTDetection) != 0 {
		t.Error("expected Clear to drop everything")
	}
	vc.Disable()
	if vc.IsEnabled() {
		t.Error("expected collector disabled")
	}
}

func TestPlottingService(t *testing.T) {
	var posts atomic.Int32
	var lastType atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/api/plot":
			if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(PlottingResponse{Message: "bad request"})
				return
			}
			var pd PlotData
			if err := json.NewDecoder(r.Body).Decode(&pd); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(PlottingResponse{Message: err.Error()})
				return
			}
			posts.Add(1)
			lastType.Store(pd.PlotType)
			_ = json.NewEncoder(w).Encode(PlottingResponse{Success: true, PlotID: "p1", ViewURL: "/view/p1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cfg := DefaultPlottingServiceConfig()
	cfg.BaseURL = server.URL + "/"
	cfg.RetryDelay = time.Millisecond
	ps := NewPlottingService(cfg)
	ctx := context.Background()

	t.Run("Disabled", func(t *testing.T) {
		resp, err := ps.SendPlotData(ctx, PlotData{})
		if err != nil || resp.Success {
			t.Errorf("expected unsuccessful no-op, got %+v %v", resp, err)
		}
		if err := ps.CheckHealth(ctx); err == nil {
			t.Error("expected health check to fail while disabled")
		}
	})

	ps.Enable()

	t.Run("Health", func(t *testing.T) {
		if err := ps.CheckHealth(ctx); err != nil {
			t.Errorf("expected healthy service, got %v", err)
		}
	})

	t.Run("Send training plots", func(t *testing.T) {
		vc := NewVisualizationCollector("AGRNN")
		vc.Enable()
		_ = vc.AddScalar(TagTrainLossIter, 0.5, 0)

		results, err := ps.SendTrainingPlots(ctx, vc)
		if err != nil {
			t.Fatalf("SendTrainingPlots failed: %v", err)
		}
		// the learning rate plot is empty and skipped
		if len(results) != 1 || results[TrainingCurves] == nil || results[TrainingCurves].PlotID != "p1" {
			t.Errorf("unexpected results %+v", results)
		}
		if posts.Load() != 1 || lastType.Load() != TrainingCurves {
			t.Errorf("expected one training curves post, got %d", posts.Load())
		}
	})

	t.Run("Retry exhausts", func(t *testing.T) {
		bad := DefaultPlottingServiceConfig()
		bad.BaseURL = server.URL + "/missing"
		bad.RetryAttempts = 2
		bad.RetryDelay = time.Millisecond
		client := NewPlottingService(bad)
		client.Enable()
		if _, err := client.SendPlotDataWithRetry(ctx, PlotData{PlotType: TrainingCurves}); err == nil {
			t.Error("expected failure after retries")
		}
	})
}
