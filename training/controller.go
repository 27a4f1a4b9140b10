package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tsawler/go-agrnn/config"
	"gonum.org/v1/gonum/mat"
)

// ErrAlreadyRun is returned when Run is called on a controller that has left Idle
var ErrAlreadyRun = errors.New("controller has already run")

// State is the lifecycle position of a Controller
type State int

const (
	Idle State = iota
	EpochMode
	IterationMode
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case EpochMode:
		return "EpochMode"
	case IterationMode:
		return "IterationMode"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Phase is one pass over a batch stream
type Phase string

const (
	PhaseTrain Phase = "train"
	PhaseVal   Phase = "val"
)

// Observability series names
const (
	TagTrainValEpoch   = "trainval_loss_epoch"
	TagTrainLossIter   = "train_loss_iter"
	TagValLossIter     = "val_loss_iter"
	TagGTDetection     = "gt_detection"
	TagActionDetection = "action_detection"
	TagLearningRate    = "learning_rate"
)

// ControllerConfig holds the cadences of a run
type ControllerConfig struct {
	Mode       config.Mode
	Epochs     int
	StartEpoch int // epoch mode only
	BatchSize  int
	PrintEvery int
	SaveEvery  int // epoch mode checkpoint cadence

	// Iteration mode cadences
	LossLogEvery  int // train_loss_iter sample when iter % LossLogEvery == 0
	ValidateEvery int // validation and checkpoint when iter % ValidateEvery == 0
	IterVisEvery  int // validation batch visualization period

	VisThreshold float64
	Scheduler    LRScheduler
	ShowProgress bool
}

// DefaultControllerConfig returns the cadences of the reference recipe
func DefaultControllerConfig(mode config.Mode) ControllerConfig {
	return ControllerConfig{
		Mode:          mode,
		Epochs:        300,
		BatchSize:     2,
		PrintEvery:    10,
		SaveEvery:     20,
		LossLogEvery:  99,
		ValidateEvery: 4999,
		IterVisEvery:  1000,
		VisThreshold:  0.7,
		Scheduler:     &NoOpScheduler{},
	}
}

// Validate checks the cadences are usable
func (cc ControllerConfig) Validate() error {
	if _, err := config.ParseMode(string(cc.Mode)); err != nil {
		return err
	}
	if cc.Epochs < 0 || cc.StartEpoch < 0 {
		return fmt.Errorf("epochs and start epoch must be non-negative")
	}
	if cc.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", cc.BatchSize)
	}
	if cc.PrintEvery <= 0 || cc.SaveEvery <= 0 {
		return fmt.Errorf("print and save cadences must be positive")
	}
	if cc.LossLogEvery <= 0 || cc.ValidateEvery <= 0 || cc.IterVisEvery <= 0 {
		return fmt.Errorf("iteration cadences must be positive")
	}
	return nil
}

// ValSamplePeriod is the epoch mode visualization period, ceil(1000/batch size)
func (cc ControllerConfig) ValSamplePeriod() int {
	return (1000 + cc.BatchSize - 1) / cc.BatchSize
}

// Components are the collaborators of a Controller. Summary, Visualizer and
// Out may be nil.
type Components struct {
	Model       Model
	Criterion   Criterion
	Optimizer   Optimizer
	Train       BatchSource
	Val         BatchSource
	Checkpoints *CheckpointWriter
	Summary     SummaryWriter
	Visualizer  Visualizer
	Out         io.Writer
}

// TrainingState is the mutable aggregate owned by the controller
type TrainingState struct {
	Epoch       int
	Iteration   int
	RunningLoss float64
}

// Controller drives one training run in either epoch or iteration mode
type Controller struct {
	cfg ControllerConfig
	Components

	state  State
	ts     TrainingState
	baseLR float64
}

// NewController validates the configuration and collaborators
func NewController(cfg ControllerConfig, c Components) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.Model == nil || c.Criterion == nil || c.Optimizer == nil {
		return nil, fmt.Errorf("model, criterion and optimizer are required")
	}
	if c.Train == nil || c.Val == nil {
		return nil, fmt.Errorf("train and val batch sources are required")
	}
	if c.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint writer is required")
	}
	if c.Summary == nil {
		c.Summary = nopSummary{}
	}
	if c.Out == nil {
		c.Out = io.Discard
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = &NoOpScheduler{}
	}
	return &Controller{cfg: cfg, Components: c, state: Idle, baseLR: c.Optimizer.LearningRate()}, nil
}

// State returns the lifecycle state
func (c *Controller) State() State {
	return c.state
}

// TrainingState returns a copy of the counters
func (c *Controller) TrainingState() TrainingState {
	return c.ts
}

// Run executes the configured mode to completion. It fails on the first
// batch, model, loss, optimizer, checkpoint or sink error, and stops
// between batches once ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if c.state != Idle {
		return ErrAlreadyRun
	}

	var err error
	switch c.cfg.Mode {
	case config.ModeIteration:
		c.state = IterationMode
		err = c.runIterations(ctx)
	default:
		c.state = EpochMode
		err = c.runEpochs(ctx)
	}
	c.state = Finished
	if err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Finishing training!")
	return nil
}

func (c *Controller) runEpochs(ctx context.Context) error {
	fmt.Fprintln(c.Out, "epoch training...")
	period := c.cfg.ValSamplePeriod()

	for epoch := c.cfg.StartEpoch; epoch < c.cfg.Epochs; epoch++ {
		c.ts.Epoch = epoch
		if err := c.applySchedule(epoch); err != nil {
			return err
		}

		var trainLoss float64
		for _, phase := range []Phase{PhaseTrain, PhaseVal} {
			start := time.Now()
			src := c.Train
			if phase == PhaseVal {
				src = c.Val
			}
			desc := fmt.Sprintf("[%s] %d/%d", phase, epoch+1, c.cfg.Epochs)
			loss, err := c.runPhase(ctx, phase, src, desc, period, epoch)
			if err != nil {
				return fmt.Errorf("epoch %d %s: %w", epoch, phase, err)
			}

			if phase == PhaseTrain {
				trainLoss = loss
			} else {
				vals := map[string]float64{"train": trainLoss, "val": loss}
				if err := c.Summary.AddScalars(TagTrainValEpoch, vals, epoch); err != nil {
					return fmt.Errorf("failed to record %s: %w", TagTrainValEpoch, err)
				}
			}
			if epoch%c.cfg.PrintEvery == 0 {
				c.printEpoch(phase, epoch, loss, time.Since(start))
			}
		}

		if epoch%c.cfg.SaveEvery == c.cfg.SaveEvery-1 {
			if _, err := c.Checkpoints.Write(c.Model, epoch+1, config.ModeEpoch.Unit()); err != nil {
				return err
			}
		}
	}
	return nil
}

// runPhase makes one pass over src and returns the node-weighted mean loss
func (c *Controller) runPhase(ctx context.Context, phase Phase, src BatchSource, desc string, visPeriod, step int) (float64, error) {
	if n := src.DatasetLen(); n == 0 {
		return 0, fmt.Errorf("%s dataset is empty", phase)
	}
	if phase == PhaseTrain {
		c.Model.Train()
	} else {
		c.Model.Eval()
	}
	c.ts.RunningLoss = 0

	bar := c.progress(desc, src.NumBatches())
	idx := 0
	for b, err := range src.Batches() {
		if err != nil {
			return 0, fmt.Errorf("failed to load batch %d: %w", idx, err)
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var loss float64
		var logits *mat.Dense
		if phase == PhaseTrain {
			loss, err = c.trainStep(b)
		} else {
			loss, logits, err = c.evalStep(b)
		}
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", idx, err)
		}

		if phase == PhaseVal && sampled(idx, visPeriod) {
			if err := c.visualize(b, logits, step); err != nil {
				return 0, err
			}
		}

		c.ts.RunningLoss += loss * float64(b.Rows())
		idx++
		if bar != nil {
			bar.Update(idx, map[string]float64{"loss": loss})
		}
	}
	if bar != nil {
		bar.Finish()
	}
	return c.ts.RunningLoss / float64(src.DatasetLen()), nil
}

func (c *Controller) runIterations(ctx context.Context) error {
	fmt.Fprintln(c.Out, "iteration training...")
	c.ts.Iteration = 0

	for epoch := 0; epoch < c.cfg.Epochs; epoch++ {
		c.ts.Epoch = epoch
		if err := c.applySchedule(epoch); err != nil {
			return err
		}
		if c.Train.DatasetLen() == 0 {
			return fmt.Errorf("train dataset is empty")
		}
		start := time.Now()
		c.ts.RunningLoss = 0

		bar := c.progress(fmt.Sprintf("[train] %d/%d", epoch+1, c.cfg.Epochs), c.Train.NumBatches())
		idx := 0
		for b, err := range c.Train.Batches() {
			if err != nil {
				return fmt.Errorf("epoch %d: failed to load batch %d: %w", epoch, idx, err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			// validation leaves the model in eval mode
			c.Model.Train()
			loss, err := c.trainStep(b)
			if err != nil {
				return fmt.Errorf("iteration %d: %w", c.ts.Iteration, err)
			}
			c.ts.RunningLoss += loss * float64(b.Rows())

			iter := c.ts.Iteration
			if iter%c.cfg.LossLogEvery == 0 {
				// divides by iterations since the start of the run while the
				// accumulator restarts every epoch
				soFar := c.ts.RunningLoss / float64(iter+1)
				if err := c.Summary.AddScalar(TagTrainLossIter, soFar, iter); err != nil {
					return fmt.Errorf("failed to record %s: %w", TagTrainLossIter, err)
				}
			}

			if iter%c.cfg.ValidateEvery == 0 {
				desc := fmt.Sprintf("[val] iter %d", iter)
				running := c.ts.RunningLoss
				valLoss, err := c.runPhase(ctx, PhaseVal, c.Val, desc, c.cfg.IterVisEvery, iter)
				c.ts.RunningLoss = running
				if err != nil {
					return fmt.Errorf("iteration %d validation: %w", iter, err)
				}
				if err := c.Summary.AddScalar(TagValLossIter, valLoss, iter); err != nil {
					return fmt.Errorf("failed to record %s: %w", TagValLossIter, err)
				}
				if _, err := c.Checkpoints.Write(c.Model, iter+1, config.ModeIteration.Unit()); err != nil {
					return err
				}
			}

			c.ts.Iteration++
			idx++
			if bar != nil {
				bar.Update(idx, map[string]float64{"loss": loss})
			}
		}
		if bar != nil {
			bar.Finish()
		}

		if epoch%c.cfg.PrintEvery == 0 {
			c.printEpoch(PhaseTrain, epoch, c.ts.RunningLoss/float64(c.Train.DatasetLen()), time.Since(start))
		}
	}
	return nil
}

// trainStep runs zero-grad, forward, loss, backward and one optimizer step
func (c *Controller) trainStep(b *Batch) (float64, error) {
	c.Optimizer.ZeroGrad()
	logits, err := c.Model.Forward(b)
	if err != nil {
		return 0, fmt.Errorf("forward failed: %w", err)
	}
	loss, grad, err := c.Criterion.Forward(logits, b.NodeLabels)
	if err != nil {
		return 0, fmt.Errorf("loss failed: %w", err)
	}
	if err := c.Model.Backward(grad); err != nil {
		return 0, fmt.Errorf("backward failed: %w", err)
	}
	if err := c.Optimizer.Step(); err != nil {
		return 0, fmt.Errorf("optimizer step failed: %w", err)
	}
	return loss, nil
}

// evalStep runs forward and loss only
func (c *Controller) evalStep(b *Batch) (float64, *mat.Dense, error) {
	logits, err := c.Model.Forward(b)
	if err != nil {
		return 0, nil, fmt.Errorf("forward failed: %w", err)
	}
	loss, _, err := c.Criterion.Forward(logits, b.NodeLabels)
	if err != nil {
		return 0, nil, fmt.Errorf("loss failed: %w", err)
	}
	return loss, logits, nil
}

// sampled reports whether batch idx of a validation pass is visualized
func sampled(idx, period int) bool {
	return idx == 0 || idx%period == period-1
}

// visualize renders ground truth and predicted scores for the first sample
func (c *Controller) visualize(b *Batch, logits *mat.Dense, step int) error {
	if c.Visualizer == nil || b.Len() == 0 {
		return nil
	}
	gt := b.SampleRows(b.NodeLabels, 0)
	pred := Sigmoid(b.SampleRows(logits, 0))

	for _, v := range []struct {
		tag     string
		actions *mat.Dense
	}{
		{TagGTDetection, gt},
		{TagActionDetection, pred},
	} {
		img, err := c.Visualizer.Render(b.Names[0], b.Boxes[0], b.RoiLabels[0], b.RoiScores[0], v.actions, c.cfg.VisThreshold)
		if err != nil {
			return fmt.Errorf("failed to render %s for %s: %w", v.tag, b.Names[0], err)
		}
		if err := c.Summary.AddImage(v.tag, img, step); err != nil {
			return fmt.Errorf("failed to record %s: %w", v.tag, err)
		}
	}
	return nil
}

// applySchedule sets the learning rate for epoch and records it
func (c *Controller) applySchedule(epoch int) error {
	lr := c.cfg.Scheduler.GetLR(epoch, c.baseLR)
	if lr != c.Optimizer.LearningRate() {
		c.Optimizer.UpdateLearningRate(lr)
	}
	if err := c.Summary.AddScalar(TagLearningRate, lr, epoch); err != nil {
		return fmt.Errorf("failed to record %s: %w", TagLearningRate, err)
	}
	return nil
}

func (c *Controller) printEpoch(phase Phase, epoch int, loss float64, elapsed time.Duration) {
	fmt.Fprintf(c.Out, "[%s] Epoch: %d/%d Loss: %v Execution time: %v\n",
		phase, epoch+1, c.cfg.Epochs, loss, elapsed.Seconds())
}

func (c *Controller) progress(desc string, total int) *ProgressBar {
	if !c.cfg.ShowProgress {
		return nil
	}
	return NewProgressBar(c.Out, desc, total)
}
