package training

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tsawler/go-agrnn/checkpoints"
	"github.com/tsawler/go-agrnn/optimizer"
)

// Hyperparams is the snapshot stored with every checkpoint so that the
// model can be rebuilt from the file alone
type Hyperparams struct {
	LR        float64
	BatchSize int
	Bias      bool
	BN        bool
	Dropout   *float64
	FeatType  string
	Layers    int
}

// StateDicter exposes model parameters for serialization
type StateDicter interface {
	StateDict() []checkpoints.WeightTensor
}

// OptimizerStater exposes optimizer buffers for the state file written
// beside each checkpoint
type OptimizerStater interface {
	GetState() (*optimizer.OptimizerState, error)
}

// CheckpointWriter writes checkpoint_<N>_<unit>.pth files into one directory.
// Every call writes a new file; nothing is deduplicated or rotated.
type CheckpointWriter struct {
	dir        string
	saver      *checkpoints.CheckpointSaver
	hp         Hyperparams
	optim      OptimizerStater
	savedFiles []string
}

// NewCheckpointWriter creates a writer for dir
func NewCheckpointWriter(dir string, format checkpoints.CheckpointFormat, hp Hyperparams) *CheckpointWriter {
	return &CheckpointWriter{
		dir:   dir,
		saver: checkpoints.NewCheckpointSaver(format),
		hp:    hp,
	}
}

// WithOptimizerState makes every Write also save the optimizer state as
// checkpoint_<N>_<unit>.optim.json
func (cw *CheckpointWriter) WithOptimizerState(o OptimizerStater) *CheckpointWriter {
	cw.optim = o
	return cw
}

// Dir returns the checkpoint directory
func (cw *CheckpointWriter) Dir() string {
	return cw.dir
}

// Write snapshots the model as checkpoint_<step>_<unit>.pth and returns its path
func (cw *CheckpointWriter) Write(model StateDicter, step int, unit string) (string, error) {
	if err := os.MkdirAll(cw.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	checkpoint := &checkpoints.Checkpoint{
		LR:        cw.hp.LR,
		BatchSize: cw.hp.BatchSize,
		Bias:      cw.hp.Bias,
		BN:        cw.hp.BN,
		Dropout:   cw.hp.Dropout,
		FeatType:  cw.hp.FeatType,
		Layers:    cw.hp.Layers,
		StateDict: model.StateDict(),
		Unit:      unit,
		Step:      step,
	}

	path := filepath.Join(cw.dir, checkpoints.FileName(step, unit))
	if err := cw.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if cw.optim != nil {
		state, err := cw.optim.GetState()
		if err != nil {
			return "", fmt.Errorf("failed to extract optimizer state: %w", err)
		}
		if err := checkpoints.SaveState(state, checkpoints.StateFileName(path)); err != nil {
			return "", fmt.Errorf("failed to save optimizer state: %w", err)
		}
	}
	cw.savedFiles = append(cw.savedFiles, path)
	return path, nil
}

// SavedFiles lists the checkpoints written so far, oldest first
func (cw *CheckpointWriter) SavedFiles() []string {
	return cw.savedFiles
}
