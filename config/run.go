package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrMissingFlag is returned when a required flag was not given
	ErrMissingFlag = errors.New("missing required flag")
	// ErrBadBool is returned for a boolean flag value outside yes/true/1/no/false/0
	ErrBadBool = errors.New("boolean value expected")
)

// Mode selects how the training controller drives the run
type Mode string

const (
	ModeEpoch     Mode = "epoch"
	ModeIteration Mode = "iteration"
)

// ParseMode validates a training mode selector
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEpoch, ModeIteration:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown training mode %q (expected epoch or iteration)", s)
	}
}

// Dir is the per-mode subdirectory used for logs and checkpoints
func (m Mode) Dir() string {
	return string(m) + "_train"
}

// Unit is the checkpoint filename suffix for the mode
func (m Mode) Unit() string {
	if m == ModeIteration {
		return "iters"
	}
	return "epoch"
}

// RunConfig is the complete configuration of one training run
type RunConfig struct {
	BatchSize   int
	Layers      int
	DropProb    *float64 // nil when not given
	LR          float64
	GPU         bool
	Bias        bool
	BatchNorm   bool
	Clip        int // accepted for compatibility, not applied
	ImgData     string
	DataDir     string
	Pretrained  string
	ResumeOptim bool // also restore optimizer state saved beside Pretrained
	LogDir      string
	SaveDir     string
	Epochs      int
	StartEpoch  int
	PrintEvery  int
	SaveEvery   int
	TestEvery   int // accepted for compatibility, not applied
	ExpVer      string
	Mode        Mode
	FeatType    FeatureType
	Workers     int
	MaxSamples  int // 0 uses every sample of each split
	Seed        uint64
	Optimizer   string
	Momentum    float64
	WeightDecay float64
	LRStep      int
	LRGamma     float64
	CkptFormat  string
	MonitorAddr string
	MonitorAuth string
	PlotURL     string
}

// Default returns a RunConfig with every optional field at its default
func Default() *RunConfig {
	return &RunConfig{
		BatchSize:   2,
		Layers:      3,
		LR:          0.001,
		GPU:         true,
		Bias:        true,
		BatchNorm:   true,
		Clip:        4,
		ImgData:     "datasets/hico/images/train2015",
		DataDir:     "datasets/hico/processed",
		LogDir:      "./log",
		SaveDir:     "./checkpoints",
		Epochs:      300,
		StartEpoch:  0,
		PrintEvery:  10,
		SaveEvery:   20,
		TestEvery:   50,
		ExpVer:      "v1",
		Mode:        ModeEpoch,
		FeatType:    FeatFC7,
		Workers:     1,
		Seed:        1,
		Optimizer:   "sgd",
		Momentum:    0.9,
		WeightDecay: 0.0001,
		LRGamma:     0.5,
		CkptFormat:  "proto",
	}
}

// ParseBool accepts yes/true/1 and no/false/0 in any case
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrBadBool, s)
	}
}

type boolValue struct{ p *bool }

func (b boolValue) String() string {
	if b.p == nil {
		return ""
	}
	return strconv.FormatBool(*b.p)
}

func (b boolValue) Set(s string) error {
	v, err := ParseBool(s)
	if err != nil {
		return err
	}
	*b.p = v
	return nil
}

type optFloat struct{ p **float64 }

func (o optFloat) String() string {
	if o.p == nil || *o.p == nil {
		return "None"
	}
	return strconv.FormatFloat(**o.p, 'g', -1, 64)
}

func (o optFloat) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*o.p = &v
	return nil
}

// Parse builds a RunConfig from command line arguments (without the program name)
func Parse(args []string, output io.Writer) (*RunConfig, error) {
	rc := Default()
	fs := flag.NewFlagSet("hoi-train", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	var mode, feat string
	intVar := func(p *int, value int, usage string, names ...string) {
		for _, n := range names {
			fs.IntVar(p, n, value, usage)
		}
	}
	strVar := func(p *string, value string, usage string, names ...string) {
		for _, n := range names {
			fs.StringVar(p, n, value, usage)
		}
	}

	intVar(&rc.BatchSize, rc.BatchSize, "batch size: 2", "batch_size", "b_s")
	intVar(&rc.Layers, rc.Layers, "the num of gnn layers (required)", "layers")
	fs.Var(optFloat{&rc.DropProb}, "drop_prob", "dropout parameter: None")
	fs.Float64Var(&rc.LR, "lr", rc.LR, "learning rate: 0.001")
	fs.Var(boolValue{&rc.GPU}, "gpu", "chose to use gpu or not: true")
	fs.Var(boolValue{&rc.Bias}, "bias", "add bias to fc layers or not: true")
	fs.Var(boolValue{&rc.BatchNorm}, "bn", "use batch normalization or not: true")
	intVar(&rc.Clip, rc.Clip, "gradient clipping: 4", "clip")
	strVar(&rc.ImgData, rc.ImgData, "location of the original images", "img_data")
	strVar(&rc.DataDir, rc.DataDir, "location of the processed dataset files", "data_dir")
	strVar(&rc.Pretrained, "", "location of the pretrained checkpoint to start from", "pretrained", "p")
	fs.Var(boolValue{&rc.ResumeOptim}, "resume_optim", "also restore the optimizer state saved with the pretrained checkpoint: false")
	strVar(&rc.LogDir, rc.LogDir, "path to save the summary logs", "log_dir")
	strVar(&rc.SaveDir, rc.SaveDir, "path to save the checkpoints", "save_dir")
	intVar(&rc.Epochs, rc.Epochs, "number of epochs to train: 300", "epoch")
	intVar(&rc.StartEpoch, rc.StartEpoch, "number of beginning epochs: 0", "start_epoch")
	intVar(&rc.PrintEvery, rc.PrintEvery, "epochs between loss prints: 10", "print_every")
	intVar(&rc.SaveEvery, rc.SaveEvery, "epochs between checkpoints: 20", "save_every")
	intVar(&rc.TestEvery, rc.TestEvery, "epochs between tests: 50", "test_every")
	strVar(&rc.ExpVer, rc.ExpVer, "experiment version, creates subdirs in log and checkpoint dirs (required)", "exp_ver", "e_v")
	strVar(&mode, string(rc.Mode), "training mode: epoch or iteration (required)", "train_model", "t_m")
	strVar(&feat, string(rc.FeatType), "node feature type: fc7 or pool (required)", "feat_type", "f_t")
	intVar(&rc.Workers, rc.Workers, "data loader prefetch workers", "workers")
	intVar(&rc.MaxSamples, rc.MaxSamples, "use only the first N samples of each split (0 uses all)", "max_samples")
	fs.Uint64Var(&rc.Seed, "seed", rc.Seed, "random seed for weights and shuffling")
	strVar(&rc.Optimizer, rc.Optimizer, "optimizer: sgd or adam", "optimizer")
	fs.Float64Var(&rc.Momentum, "momentum", rc.Momentum, "sgd momentum")
	fs.Float64Var(&rc.WeightDecay, "weight_decay", rc.WeightDecay, "L2 weight decay")
	intVar(&rc.LRStep, rc.LRStep, "epochs between learning rate decays (0 disables)", "lr_step")
	fs.Float64Var(&rc.LRGamma, "lr_gamma", rc.LRGamma, "learning rate decay factor")
	strVar(&rc.CkptFormat, rc.CkptFormat, "checkpoint encoding: proto or json", "ckpt_format")
	strVar(&rc.MonitorAddr, "", "serve the live monitor on this address", "monitor_addr")
	strVar(&rc.MonitorAuth, "", "user:password for monitor basic auth", "monitor_auth")
	strVar(&rc.PlotURL, "", "plotting sidecar base URL", "plot_url")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	required := [][]string{{"layers"}, {"exp_ver", "e_v"}, {"train_model", "t_m"}, {"feat_type", "f_t"}}
	for _, names := range required {
		found := false
		for _, n := range names {
			found = found || set[n]
		}
		if !found {
			return nil, fmt.Errorf("%w: --%s", ErrMissingFlag, names[0])
		}
	}

	var err error
	if rc.Mode, err = ParseMode(mode); err != nil {
		return nil, err
	}
	if rc.FeatType, err = ParseFeatureType(feat); err != nil {
		return nil, err
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return rc, nil
}

// Validate checks ranges and enumerations
func (rc *RunConfig) Validate() error {
	if rc.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", rc.BatchSize)
	}
	if rc.Layers < 1 || rc.Layers > 3 {
		return fmt.Errorf("layers must be between 1 and 3, got %d", rc.Layers)
	}
	if rc.DropProb != nil && (*rc.DropProb < 0 || *rc.DropProb >= 1) {
		return fmt.Errorf("drop_prob must be in [0, 1), got %v", *rc.DropProb)
	}
	if rc.LR <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", rc.LR)
	}
	if rc.Epochs < 0 || rc.StartEpoch < 0 {
		return fmt.Errorf("epoch and start_epoch must be non-negative")
	}
	if rc.MaxSamples < 0 {
		return fmt.Errorf("max_samples must be non-negative, got %d", rc.MaxSamples)
	}
	if rc.ResumeOptim && rc.Pretrained == "" {
		return fmt.Errorf("resume_optim requires --pretrained")
	}
	if rc.PrintEvery <= 0 || rc.SaveEvery <= 0 {
		return fmt.Errorf("print_every and save_every must be positive")
	}
	if rc.ExpVer == "" {
		return fmt.Errorf("%w: --exp_ver", ErrMissingFlag)
	}
	if _, err := ParseMode(string(rc.Mode)); err != nil {
		return err
	}
	if _, err := ParseFeatureType(string(rc.FeatType)); err != nil {
		return err
	}
	switch rc.Optimizer {
	case "sgd", "adam":
	default:
		return fmt.Errorf("unknown optimizer %q (expected sgd or adam)", rc.Optimizer)
	}
	switch rc.CkptFormat {
	case "proto", "json":
	default:
		return fmt.Errorf("unknown checkpoint format %q (expected proto or json)", rc.CkptFormat)
	}
	if rc.MonitorAuth != "" && !strings.Contains(rc.MonitorAuth, ":") {
		return fmt.Errorf("monitor_auth must be user:password")
	}
	return nil
}

// ExpDir is <save_dir>/<exp_ver>
func (rc *RunConfig) ExpDir() string {
	return filepath.Join(rc.SaveDir, rc.ExpVer)
}

// CheckpointDir is <save_dir>/<exp_ver>/<mode>_train
func (rc *RunConfig) CheckpointDir() string {
	return filepath.Join(rc.SaveDir, rc.ExpVer, rc.Mode.Dir())
}

// SummaryDir is <log_dir>/<exp_ver>/<mode>_train
func (rc *RunConfig) SummaryDir() string {
	return filepath.Join(rc.LogDir, rc.ExpVer, rc.Mode.Dir())
}

// WriteLayerRecords persists l1..lN_config.json under ExpDir. The first
// record also carries the learning rate, batch size and layer count.
func (rc *RunConfig) WriteLayerRecords() ([]string, error) {
	dir := rc.ExpDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create experiment directory: %v", err)
	}

	var paths []string
	for i := 0; i < rc.Layers; i++ {
		cfg, err := ForLayer(rc.FeatType, i)
		if err != nil {
			return nil, err
		}
		rec := cfg.SaveConfig()
		if i == 0 {
			rec["lr"] = rc.LR
			rec["bs"] = rc.BatchSize
			rec["layers"] = rc.Layers
		}
		path := filepath.Join(dir, fmt.Sprintf("l%d_config.json", i+1))
		if err := WriteRecord(rec, path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
