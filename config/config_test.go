package config

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestNewConfiguration(t *testing.T) {
	t.Run("Input sizing per feature type", func(t *testing.T) {
		cases := []struct {
			feat FeatureType
			in   int
		}{
			{FeatFC7, 1024 * 2},
			{FeatPool, 2048 * 2},
		}
		for _, c := range cases {
			cfg, err := New(c.feat)
			if err != nil {
				t.Fatalf("New(%s) failed: %v", c.feat, err)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("%s configuration invalid: %v", c.feat, err)
			}
			if cfg.Node.InputDim() != c.in {
				t.Errorf("%s: expected node input %d, got %d", c.feat, c.in, cfg.Node.InputDim())
			}
			if cfg.Edge.InputDim() != c.in {
				t.Errorf("%s: expected edge input %d, got %d", c.feat, c.in, cfg.Edge.InputDim())
			}
			for name, lc := range map[string]LayerConfig{"head": cfg.Head, "node": cfg.Node, "edge": cfg.Edge, "attn": cfg.Attn} {
				if len(lc.Sizes) == 0 {
					t.Errorf("%s: %s has no layer sizes", c.feat, name)
				}
			}
			if cfg.ActionNum != 117 {
				t.Errorf("expected 117 actions, got %d", cfg.ActionNum)
			}
		}
	})

	t.Run("Unknown feature type fails fast", func(t *testing.T) {
		_, err := New("roi")
		if !errors.Is(err, ErrUnknownFeatureType) {
			t.Errorf("expected ErrUnknownFeatureType, got %v", err)
		}
		_, err = ForLayer("roi", 1)
		if !errors.Is(err, ErrUnknownFeatureType) {
			t.Errorf("expected ErrUnknownFeatureType for deeper layer, got %v", err)
		}
	})

	t.Run("Deeper layers use the hidden width", func(t *testing.T) {
		cfg, err := ForLayer(FeatPool, 1)
		if err != nil {
			t.Fatalf("ForLayer failed: %v", err)
		}
		if cfg.Node.InputDim() != 2*1024 {
			t.Errorf("expected node input 2048 for layer 2, got %d", cfg.Node.InputDim())
		}
		if cfg.FeatType != FeatPool {
			t.Errorf("expected layer 2 to keep feat_type pool, got %s", cfg.FeatType)
		}
		if got := cfg.SaveConfig()["feat_type"]; got != "pool" {
			t.Errorf("expected persisted feat_type pool, got %v", got)
		}
	})
}

func TestSaveConfigBuckets(t *testing.T) {
	cfg, _ := New(FeatFC7)
	rec := cfg.SaveConfig()

	for _, b := range Buckets() {
		group, ok := rec[b].(map[string]any)
		if !ok {
			t.Fatalf("bucket %s missing", b)
		}
		if len(group) == 0 {
			t.Errorf("bucket %s is empty", b)
		}
	}
	if rec["feat_type"] != "fc7" {
		t.Errorf("expected feat_type at the top level, got %v", rec["feat_type"])
	}
	if rec["ACTION_NUM"] != 117 {
		t.Errorf("expected ACTION_NUM at the top level, got %v", rec["ACTION_NUM"])
	}
	node := rec[BucketNode].(map[string]any)
	if _, ok := node["G_N_GRU"]; !ok {
		t.Error("expected G_N_GRU in graph_node")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]map[string]any
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	decoded = map[string]map[string]any{}
	for _, b := range Buckets() {
		m := map[string]any{}
		if err := json.Unmarshal(raw[b], &m); err != nil {
			t.Fatalf("bucket %s decode failed: %v", b, err)
		}
		decoded[b] = m
	}
	if decoded[BucketNode]["G_N_D"] != false {
		t.Errorf("expected disabled dropout to serialize as false, got %v", decoded[BucketNode]["G_N_D"])
	}
	if decoded[BucketHead]["G_H_D"] != 0.2 {
		t.Errorf("expected head dropout 0.2, got %v", decoded[BucketHead]["G_H_D"])
	}
}

func TestBucketFlattenRoundTrip(t *testing.T) {
	for _, feat := range []FeatureType{FeatFC7, FeatPool} {
		cfg, _ := New(feat)
		flat := cfg.Flat()
		back, err := Flatten(Bucket(flat))
		if err != nil {
			t.Fatalf("Flatten failed: %v", err)
		}
		if len(back) != len(flat) {
			t.Fatalf("expected %d keys, got %d", len(flat), len(back))
		}
		for k := range flat {
			if _, ok := back[k]; !ok {
				t.Errorf("key %s lost in round trip", k)
			}
		}

		// Classification is idempotent
		again, err := Flatten(Bucket(back))
		if err != nil {
			t.Fatalf("second Flatten failed: %v", err)
		}
		if len(again) != len(flat) {
			t.Errorf("second round trip changed key count: %d vs %d", len(again), len(flat))
		}
	}

	t.Run("Unprefixed keys stay top level", func(t *testing.T) {
		rec := Bucket(map[string]any{"lr": 0.1, "G_A_B": false})
		if rec["lr"] != 0.1 {
			t.Errorf("expected lr at the top level")
		}
		if _, ok := rec[BucketAttn].(map[string]any)["G_A_B"]; !ok {
			t.Errorf("expected G_A_B in graph_attn")
		}
	})
}

func TestDropoutJSON(t *testing.T) {
	var d Dropout
	if err := json.Unmarshal([]byte("false"), &d); err != nil || d != 0 {
		t.Errorf("expected false to decode as 0, got %v (%v)", d, err)
	}
	if err := json.Unmarshal([]byte("0.5"), &d); err != nil || d != 0.5 {
		t.Errorf("expected 0.5, got %v (%v)", d, err)
	}
	if err := json.Unmarshal([]byte("true"), &d); err == nil {
		t.Error("expected error for true")
	}
}

func TestParse(t *testing.T) {
	base := []string{"--layers", "2", "--e_v", "exp1", "--t_m", "iteration", "--f_t", "pool"}

	t.Run("Required flags and aliases", func(t *testing.T) {
		rc, err := Parse(base, io.Discard)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if rc.Layers != 2 || rc.ExpVer != "exp1" || rc.Mode != ModeIteration || rc.FeatType != FeatPool {
			t.Errorf("unexpected config: %+v", rc)
		}
		if rc.DropProb != nil {
			t.Errorf("expected unset drop_prob, got %v", *rc.DropProb)
		}
		if rc.BatchSize != 2 || rc.LR != 0.001 || !rc.GPU || !rc.Bias || !rc.BatchNorm {
			t.Errorf("defaults not applied: %+v", rc)
		}
		if rc.CheckpointDir() != filepath.Join("./checkpoints", "exp1", "iteration_train") {
			t.Errorf("unexpected checkpoint dir %s", rc.CheckpointDir())
		}
	})

	t.Run("Missing required flag", func(t *testing.T) {
		_, err := Parse([]string{"--layers", "1", "--e_v", "x", "--t_m", "epoch"}, io.Discard)
		if !errors.Is(err, ErrMissingFlag) {
			t.Errorf("expected ErrMissingFlag, got %v", err)
		}
	})

	t.Run("Boolean strings", func(t *testing.T) {
		rc, err := Parse(append(base, "--bias", "No", "--bn", "0", "--gpu", "YES", "--drop_prob", "0.3"), io.Discard)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if rc.Bias || rc.BatchNorm || !rc.GPU {
			t.Errorf("booleans not parsed: bias=%v bn=%v gpu=%v", rc.Bias, rc.BatchNorm, rc.GPU)
		}
		if rc.DropProb == nil || *rc.DropProb != 0.3 {
			t.Errorf("expected drop_prob 0.3")
		}

		_, err = Parse(append(base, "--bias", "maybe"), io.Discard)
		if err == nil {
			t.Error("expected error for unrecognized boolean")
		}
	})

	t.Run("Invalid selectors", func(t *testing.T) {
		_, err := Parse([]string{"--layers", "1", "--e_v", "x", "--t_m", "epoch", "--f_t", "roi"}, io.Discard)
		if !errors.Is(err, ErrUnknownFeatureType) {
			t.Errorf("expected ErrUnknownFeatureType, got %v", err)
		}
		_, err = Parse([]string{"--layers", "1", "--e_v", "x", "--t_m", "step", "--f_t", "fc7"}, io.Discard)
		if err == nil {
			t.Error("expected error for unknown mode")
		}
		_, err = Parse([]string{"--layers", "4", "--e_v", "x", "--t_m", "epoch", "--f_t", "fc7"}, io.Discard)
		if err == nil {
			t.Error("expected error for four layers")
		}
	})
}

func TestWriteLayerRecords(t *testing.T) {
	rc := Default()
	rc.SaveDir = t.TempDir()
	rc.ExpVer = "v2"
	rc.Layers = 3
	rc.LR = 0.01
	rc.BatchSize = 8

	paths, err := rc.WriteLayerRecords()
	if err != nil {
		t.Fatalf("WriteLayerRecords failed: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 records, got %d", len(paths))
	}
	for i, p := range paths {
		if filepath.Base(p) != []string{"l1_config.json", "l2_config.json", "l3_config.json"}[i] {
			t.Errorf("unexpected record name %s", p)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("record %s not written: %v", p, err)
		}
	}

	l1, err := ReadRecord(paths[0])
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}
	if l1["lr"] != 0.01 || l1["bs"] != float64(8) || l1["layers"] != float64(3) {
		t.Errorf("run fields missing from l1: lr=%v bs=%v layers=%v", l1["lr"], l1["bs"], l1["layers"])
	}
	l2, _ := ReadRecord(paths[1])
	if _, ok := l2["lr"]; ok {
		t.Error("lr must only be in l1")
	}
}
