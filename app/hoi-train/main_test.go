package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tsawler/go-agrnn/checkpoints"
	"github.com/tsawler/go-agrnn/config"
	"github.com/tsawler/go-agrnn/model"
	"github.com/tsawler/go-agrnn/summary"
	"github.com/tsawler/go-agrnn/vision/dataset"
)

type fixture struct {
	dataDir, imgDir, saveDir, logDir string
}

// newFixture writes two train samples and one val sample of fc7 features
// with their images
func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		dataDir: filepath.Join(root, "data"),
		imgDir:  filepath.Join(root, "images"),
		saveDir: filepath.Join(root, "checkpoints"),
		logDir:  filepath.Join(root, "log"),
	}
	for _, dir := range []string{f.dataDir, f.imgDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}

	consts, err := dataset.NewConstants(f.dataDir, config.FeatFC7)
	if err != nil {
		t.Fatal(err)
	}
	w, err := dataset.Create(consts.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewPCG(7, 8))
	spec := dataset.SyntheticSpec{FeatureDim: consts.FeatureDim(), MinNodes: 2, MaxNodes: 3, Width: 64, Height: 48}
	for i, subset := range []string{dataset.SubsetTrain, dataset.SubsetTrain, dataset.SubsetVal} {
		name := subset + string(rune('a'+i)) + ".png"
		s, err := dataset.Synthetic(name, spec, rng)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Add(subset, s); err != nil {
			t.Fatal(err)
		}
		writePNG(t, filepath.Join(f.imgDir, name), spec.Width, spec.Height)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return f
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if err := png.Encode(out, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}

func (f fixture) args(extra ...string) []string {
	return append([]string{
		"--layers", "1", "--f_t", "fc7", "--gpu", "false",
		"--data_dir", f.dataDir, "--img_data", f.imgDir,
		"--save_dir", f.saveDir, "--log_dir", f.logDir,
		"--print_every", "1", "--lr", "0.01",
	}, extra...)
}

func TestRunEpochMode(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	err := run(context.Background(), f.args("--e_v", "e2e", "--t_m", "epoch", "--epoch", "2", "--save_every", "1"), &out)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out.String())
	}

	for _, want := range []string{"epoch training...", "Total parameters:", "[val] Epoch: 2/2 Loss:", "Finishing training!", "Optimizer steps: 2"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}

	expDir := filepath.Join(f.saveDir, "e2e")
	rec, err := config.ReadRecord(filepath.Join(expDir, "l1_config.json"))
	if err != nil {
		t.Fatalf("expected layer config: %v", err)
	}
	for _, key := range []string{"lr", "bs", "layers", config.BucketHead, config.BucketNode, config.BucketEdge, config.BucketAttn} {
		if _, ok := rec[key]; !ok {
			t.Errorf("l1_config.json missing %s", key)
		}
	}
	if configs, _ := filepath.Glob(filepath.Join(expDir, "l*_config.json")); len(configs) != 1 {
		t.Errorf("expected one layer config, got %v", configs)
	}

	ckptDir := filepath.Join(expDir, "epoch_train")
	files, _ := filepath.Glob(filepath.Join(ckptDir, "*.pth"))
	if len(files) != 2 ||
		filepath.Base(files[0]) != "checkpoint_1_epoch.pth" ||
		filepath.Base(files[1]) != "checkpoint_2_epoch.pth" {
		t.Errorf("expected exactly two epoch checkpoints, got %v", files)
	}

	for _, name := range []string{"checkpoint_1_epoch.optim.json", "checkpoint_2_epoch.optim.json"} {
		if _, err := os.Stat(filepath.Join(ckptDir, name)); err != nil {
			t.Errorf("expected optimizer state %s: %v", name, err)
		}
	}

	ck, err := checkpoints.Load(filepath.Join(ckptDir, "checkpoint_2_epoch.pth"))
	if err != nil {
		t.Fatal(err)
	}
	if ck.Step != 2 || ck.Unit != "epoch" || ck.FeatType != "fc7" || ck.Layers != 1 || ck.LR != 0.01 || ck.BatchSize != 2 {
		t.Errorf("unexpected checkpoint header %+v", ck.Metadata)
	}
	fresh, err := model.New(config.FeatFC7, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := fresh.LoadStateDict(ck.StateDict); err != nil {
		t.Errorf("checkpoint does not restore into a new model: %v", err)
	}

	t.Run("Summaries", func(t *testing.T) {
		files, _ := filepath.Glob(filepath.Join(f.logDir, "e2e", "epoch_train", "events.out.tfevents.*"))
		if len(files) != 1 {
			t.Fatalf("expected one events file, got %v", files)
		}
		r, err := os.Open(files[0])
		if err != nil {
			t.Fatal(err)
		}
		defer r.Close()
		events, err := summary.ReadEvents(r)
		if err != nil {
			t.Fatal(err)
		}
		tags := map[string]int{}
		for _, e := range events {
			for _, v := range e.Values {
				tags[v.Tag]++
			}
		}
		if tags["learning_rate"] != 2 || tags["gt_detection"] != 2 || tags["action_detection"] != 2 {
			t.Errorf("unexpected summary tags %v", tags)
		}
		subs, _ := filepath.Glob(filepath.Join(f.logDir, "e2e", "epoch_train", "trainval_loss_epoch_*"))
		if len(subs) != 2 {
			t.Errorf("expected train and val sub-writers, got %v", subs)
		}
	})

	t.Run("Resume", func(t *testing.T) {
		var out bytes.Buffer
		pretrained := filepath.Join(ckptDir, "checkpoint_2_epoch.pth")
		err := run(context.Background(), f.args("--e_v", "resume", "--t_m", "epoch", "--epoch", "1", "-p", pretrained, "--resume_optim", "yes"), &out)
		if err != nil {
			t.Fatalf("resume failed: %v", err)
		}
		for _, want := range []string{"Loading checkpoint", "Loading optimizer state", "Optimizer steps: 3"} {
			if !strings.Contains(out.String(), want) {
				t.Errorf("output missing %q", want)
			}
		}
	})
}

func TestRunIterationMode(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	err := run(context.Background(), f.args("--e_v", "it", "--t_m", "iteration", "--epoch", "1", "--ckpt_format", "json", "--img_data", "", "--max_samples", "1"), &out)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out.String())
	}
	path := filepath.Join(f.saveDir, "it", "iteration_train", "checkpoint_1_iters.pth")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected iteration checkpoint: %v", err)
	}
	if data[0] != '{' {
		t.Error("expected a JSON checkpoint")
	}
	for _, want := range []string{"iteration training...", "Optimizer steps: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRunErrors(t *testing.T) {
	f := newFixture(t)

	err := run(context.Background(), []string{"--layers", "1"}, &bytes.Buffer{})
	if !errors.Is(err, config.ErrMissingFlag) {
		t.Errorf("expected missing flag error, got %v", err)
	}

	err = run(context.Background(), f.args("--e_v", "x", "--t_m", "epoch", "--data_dir", t.TempDir()), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected missing dataset error, got %v", err)
	}

	err = run(context.Background(), f.args("--e_v", "x", "--t_m", "epoch", "-p", filepath.Join(t.TempDir(), "none.pth")), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "pretrained") {
		t.Errorf("expected pretrained load error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = run(ctx, f.args("--e_v", "x", "--t_m", "epoch", "--epoch", "1"), &bytes.Buffer{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation, got %v", err)
	}

	if err := run(context.Background(), []string{"-h"}, &bytes.Buffer{}); err != nil {
		t.Errorf("expected help to succeed, got %v", err)
	}
}
