package render

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func writeBlank(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestLabelTables(t *testing.T) {
	if len(Verbs) != 117 {
		t.Errorf("expected 117 verbs, got %d", len(Verbs))
	}
	if len(Objects) != 81 || ObjectName(HumanLabel) != "person" {
		t.Errorf("unexpected object table of %d entries", len(Objects))
	}
	if VerbName(36) != "hold" || VerbName(116) != "zip" || VerbName(117) != "unknown" {
		t.Error("unexpected verb lookup")
	}
	if ObjectName(-1) != "unknown" {
		t.Error("expected unknown for negative label")
	}
}

func TestCaption(t *testing.T) {
	got := Caption([]float64{0.1, 0.8, 0.7}, 0.7)
	if got != "assemble 0.80, block 0.70" {
		t.Errorf("unexpected caption %q", got)
	}
	if Caption([]float64{0.1}, 0.7) != "" {
		t.Error("expected empty caption below threshold")
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	writeBlank(t, dir, "img.png", 64, 48)

	boxes := mat.NewDense(2, 4, []float64{
		2, 20, 30, 46,
		35, 20, 60, 40,
	})
	actions := mat.NewDense(2, len(Verbs), nil)
	actions.Set(0, 36, 0.9)

	r := NewRenderer(dir)
	out, err := r.Render("img.png", boxes, []int{HumanLabel, 42}, []float64{0.99, 0.8}, actions, 0.7)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	rgba, ok := out.(*image.RGBA)
	if !ok {
		t.Fatalf("expected *image.RGBA, got %T", out)
	}
	if rgba.Bounds().Dx() != 64 || rgba.Bounds().Dy() != 48 {
		t.Errorf("unexpected bounds %v", rgba.Bounds())
	}

	if got := rgba.RGBAAt(2, 35); got != humanColor {
		t.Errorf("expected human box edge, got %v", got)
	}
	if got := rgba.RGBAAt(59, 35); got != objectColor {
		t.Errorf("expected object box edge, got %v", got)
	}
	// caption band sits above the human box
	if got := rgba.RGBAAt(3, 5); got != humanColor {
		t.Errorf("expected caption band, got %v", got)
	}
	if got := rgba.RGBAAt(15, 35); got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("expected untouched interior, got %v", got)
	}

	t.Run("Downscaled", func(t *testing.T) {
		small, err := NewRenderer(dir).WithMaxSide(32).Render("img.png", boxes, []int{1, 42}, []float64{1, 1}, nil, 0.7)
		if err != nil {
			t.Fatal(err)
		}
		if small.Bounds().Dx() != 32 || small.Bounds().Dy() != 24 {
			t.Errorf("expected 32x24, got %v", small.Bounds())
		}
	})

	t.Run("Errors", func(t *testing.T) {
		if _, err := r.Render("img.png", boxes, []int{1}, []float64{1, 1}, nil, 0.7); err == nil {
			t.Error("expected label count error")
		}
		if _, err := r.Render("img.png", boxes, []int{1, 2}, []float64{1, 1}, mat.NewDense(1, 3, nil), 0.7); err == nil {
			t.Error("expected action row error")
		}
		if _, err := r.Render("missing.png", boxes, []int{1, 2}, []float64{1, 1}, nil, 0.7); err == nil {
			t.Error("expected missing image error")
		}
	})
}
