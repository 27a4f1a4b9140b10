// Command hoi-train trains the graph attention action classifier on the
// processed HICO dataset.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/tsawler/go-agrnn/checkpoints"
	"github.com/tsawler/go-agrnn/config"
	"github.com/tsawler/go-agrnn/device"
	"github.com/tsawler/go-agrnn/model"
	"github.com/tsawler/go-agrnn/optimizer"
	"github.com/tsawler/go-agrnn/summary"
	"github.com/tsawler/go-agrnn/training"
	"github.com/tsawler/go-agrnn/vision/dataset"
	"github.com/tsawler/go-agrnn/vision/render"
	"github.com/tsawler/go-agrnn/web"
)

const (
	modelName   = "AGRNN"
	sampleCache = 256
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("hoi-train: %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) (err error) {
	rc, err := config.Parse(args, out)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	dev := device.Select(rc.GPU)
	cpu := device.Probe()
	device.Report(out, dev, cpu)
	if rc.Workers <= 0 {
		rc.Workers = cpu.Workers()
	}

	records, err := rc.WriteLayerRecords()
	if err != nil {
		return fmt.Errorf("failed to persist layer configs: %w", err)
	}
	fmt.Fprintf(out, "Saved %d layer configs under %s\n", len(records), rc.ExpDir())

	consts, err := dataset.NewConstants(rc.DataDir, rc.FeatType)
	if err != nil {
		return err
	}
	trainSet, err := dataset.Open(consts.DBPath(), dataset.SubsetTrain, sampleCache)
	if err != nil {
		return err
	}
	defer trainSet.Close()
	valSet, err := dataset.Open(consts.DBPath(), dataset.SubsetVal, sampleCache)
	if err != nil {
		return err
	}
	defer valSet.Close()
	fmt.Fprintf(out, "Dataset: %d train / %d val samples from %s\n", trainSet.Len(), valSet.Len(), consts.DBPath())

	rng := rand.New(rand.NewPCG(rc.Seed, rc.Seed^0x5deece66d))
	agrnn, err := model.New(rc.FeatType, rc.Layers, rng)
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}
	if rc.Pretrained != "" {
		if err := loadPretrained(agrnn, rc, out); err != nil {
			return err
		}
	}
	training.NewModelArchitecturePrinter(out, modelName).PrintArchitecture(agrnn.Spec())

	opt, err := optimizer.New(optimizer.Config{
		Name:         rc.Optimizer,
		LearningRate: rc.LR,
		Momentum:     rc.Momentum,
		WeightDecay:  rc.WeightDecay,
	}, agrnn.Params())
	if err != nil {
		return fmt.Errorf("failed to create optimizer: %w", err)
	}
	if rc.ResumeOptim {
		if err := loadOptimizerState(opt, rc.Pretrained, out); err != nil {
			return err
		}
	}

	format, err := checkpoints.ParseFormat(rc.CkptFormat)
	if err != nil {
		return err
	}
	ckpt := training.NewCheckpointWriter(rc.CheckpointDir(), format, training.Hyperparams{
		LR:        rc.LR,
		BatchSize: rc.BatchSize,
		Bias:      rc.Bias,
		BN:        rc.BatchNorm,
		Dropout:   rc.DropProb,
		FeatType:  string(rc.FeatType),
		Layers:    rc.Layers,
	}).WithOptimizerState(opt)

	events, err := summary.NewWriter(rc.SummaryDir())
	if err != nil {
		return err
	}
	collector := training.NewVisualizationCollector(modelName)
	collector.Enable()
	sinks := []summary.Sink{events, collector}

	if rc.MonitorAddr != "" {
		monitor, err := startMonitor(rc, out)
		if err != nil {
			events.Close()
			return err
		}
		sinks = append(sinks, monitor)
	}
	sink := summary.NewMulti(sinks...)
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close summaries: %w", cerr)
		}
	}()

	cc := training.DefaultControllerConfig(rc.Mode)
	cc.Epochs = rc.Epochs
	cc.StartEpoch = rc.StartEpoch
	cc.BatchSize = rc.BatchSize
	cc.PrintEvery = rc.PrintEvery
	cc.SaveEvery = rc.SaveEvery
	cc.Scheduler = training.NewScheduler(rc.LRStep, rc.LRGamma)
	cc.ShowProgress = true

	comps := training.Components{
		Model:       agrnn,
		Criterion:   training.NewBCEWithLogitsLoss(),
		Optimizer:   opt,
		Train:       training.NewDataLoader(training.Head(trainSet, rc.MaxSamples), rc.BatchSize, true, rc.Workers, rc.Seed),
		Val:         training.NewDataLoader(training.Head(valSet, rc.MaxSamples), rc.BatchSize, true, rc.Workers, rc.Seed+1),
		Checkpoints: ckpt,
		Summary:     sink,
		Out:         out,
	}
	if rc.ImgData != "" {
		comps.Visualizer = render.NewRenderer(rc.ImgData)
	}

	ctrl, err := training.NewController(cc, comps)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Training on %s, checkpoints in %s, summaries in %s\n", dev.Kind, rc.CheckpointDir(), rc.SummaryDir())
	if err := ctrl.Run(ctx); err != nil {
		return fmt.Errorf("training failed after %d checkpoints: %w", len(ckpt.SavedFiles()), err)
	}
	fmt.Fprintf(out, "Train cache: %s\n", trainSet.CacheStats())
	fmt.Fprintf(out, "Optimizer steps: %d\n", opt.GetStepCount())

	if rc.PlotURL != "" {
		sendPlots(ctx, rc.PlotURL, collector, out)
	}
	return nil
}

// loadPretrained restores parameters only; counters always start fresh
func loadPretrained(m *model.AGRNN, rc *config.RunConfig, out io.Writer) error {
	fmt.Fprintf(out, "Loading checkpoint %s\n", rc.Pretrained)
	ck, err := checkpoints.Load(rc.Pretrained)
	if err != nil {
		return fmt.Errorf("failed to load pretrained checkpoint: %w", err)
	}
	if ck.FeatType != "" && ck.FeatType != string(rc.FeatType) {
		return fmt.Errorf("pretrained checkpoint uses %s features, run uses %s", ck.FeatType, rc.FeatType)
	}
	if err := m.LoadStateDict(ck.StateDict); err != nil {
		return fmt.Errorf("failed to restore pretrained parameters: %w", err)
	}
	return nil
}

// loadOptimizerState restores the buffers saved beside a pretrained checkpoint
func loadOptimizerState(opt optimizer.Optimizer, pretrained string, out io.Writer) error {
	path := checkpoints.StateFileName(pretrained)
	fmt.Fprintf(out, "Loading optimizer state %s\n", path)
	var state optimizer.OptimizerState
	if err := checkpoints.LoadState(path, &state); err != nil {
		return fmt.Errorf("failed to load optimizer state: %w", err)
	}
	if err := opt.LoadState(&state); err != nil {
		return fmt.Errorf("failed to restore optimizer state: %w", err)
	}
	return nil
}

func startMonitor(rc *config.RunConfig, out io.Writer) (*web.Server, error) {
	creds, err := web.ParseCredentials(rc.MonitorAuth)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", rc.MonitorAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to start monitor: %w", err)
	}
	srv := web.NewServer(creds)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("monitor stopped: %v", err)
		}
	}()
	fmt.Fprintf(out, "Serving training monitor at http://%s\n", ln.Addr())
	return srv, nil
}

// sendPlots reports sidecar failures without failing a finished run
func sendPlots(ctx context.Context, url string, collector *training.VisualizationCollector, out io.Writer) {
	cfg := training.DefaultPlottingServiceConfig()
	cfg.BaseURL = url
	cfg.Timeout = 10 * time.Second
	ps := training.NewPlottingService(cfg)
	ps.Enable()

	if err := ps.CheckHealth(ctx); err != nil {
		log.Printf("plotting service unavailable: %v", err)
		return
	}
	results, err := ps.SendTrainingPlots(ctx, collector)
	if err != nil {
		log.Printf("failed to send plots: %v", err)
	}
	for kind, resp := range results {
		fmt.Fprintf(out, "Sent %s plot: %s\n", kind, resp.ViewURL)
	}
}
