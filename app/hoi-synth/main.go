// Command hoi-synth writes a small synthetic HICO index and matching images
// so that hoi-train can be exercised without the real dataset.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/tsawler/go-agrnn/config"
	"github.com/tsawler/go-agrnn/vision/dataset"
)

func main() {
	dataDir := flag.String("data_dir", "datasets/hico/processed", "where to write the index")
	imgDir := flag.String("img_data", "datasets/hico/images/train2015", "where to write the images")
	feat := flag.String("feat_type", "fc7", "node feature type: fc7 or pool")
	nTrain := flag.Int("train", 32, "number of train samples")
	nVal := flag.Int("val", 8, "number of val samples")
	maxNodes := flag.Int("max_nodes", 5, "maximum detections per image")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	featType, err := config.ParseFeatureType(*feat)
	if err != nil {
		log.Fatalf("hoi-synth: %v", err)
	}
	consts, err := dataset.NewConstants(*dataDir, featType)
	if err != nil {
		log.Fatalf("hoi-synth: %v", err)
	}
	for _, dir := range []string{*dataDir, *imgDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("hoi-synth: %v", err)
		}
	}

	w, err := dataset.Create(consts.DBPath())
	if err != nil {
		log.Fatalf("hoi-synth: %v", err)
	}
	rng := rand.New(rand.NewPCG(*seed, *seed+1))
	spec := dataset.SyntheticSpec{
		FeatureDim: consts.FeatureDim(),
		MinNodes:   2,
		MaxNodes:   *maxNodes,
		Width:      320,
		Height:     240,
	}

	for _, part := range []struct {
		subset string
		n      int
	}{
		{dataset.SubsetTrain, *nTrain},
		{dataset.SubsetVal, *nVal},
	} {
		for i := 0; i < part.n; i++ {
			name := fmt.Sprintf("HICO_synth_%s_%05d.png", part.subset, i)
			s, err := dataset.Synthetic(name, spec, rng)
			if err != nil {
				log.Fatalf("hoi-synth: %v", err)
			}
			if err := w.Add(part.subset, s); err != nil {
				log.Fatalf("hoi-synth: %v", err)
			}
			if err := writeImage(filepath.Join(*imgDir, name), spec.Width, spec.Height, rng); err != nil {
				log.Fatalf("hoi-synth: %v", err)
			}
		}
	}
	if err := w.Close(); err != nil {
		log.Fatalf("hoi-synth: %v", err)
	}
	fmt.Printf("Wrote %d samples to %s and images to %s\n", w.Count(), consts.DBPath(), *imgDir)
}

// writeImage saves a vertical gradient so rendered boxes stand out
func writeImage(path string, width, height int, rng *rand.Rand) error {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := color.RGBA{R: uint8(rng.IntN(128)), G: uint8(rng.IntN(128)), B: uint8(rng.IntN(128)), A: 255}
	for y := 0; y < height; y++ {
		shade := uint8(y * 127 / height)
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: base.R + shade, G: base.G + shade, B: base.B + shade, A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
