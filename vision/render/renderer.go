// Package render draws detections and their predicted actions onto the
// source image for the validation visualizations.
package render

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/tsawler/go-agrnn/vision/preprocessing"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/mat"
)

var (
	humanColor  = color.RGBA{R: 230, G: 40, B: 40, A: 255}
	objectColor = color.RGBA{R: 40, G: 90, B: 230, A: 255}
	textColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Renderer loads images from a directory and annotates them
type Renderer struct {
	imgDir    string
	face      font.Face
	lineWidth int
	maxSide   int
}

// NewRenderer returns a renderer that resolves image names under imgDir
func NewRenderer(imgDir string) *Renderer {
	return &Renderer{imgDir: imgDir, face: basicfont.Face7x13, lineWidth: 2}
}

// WithMaxSide downscales rendered images so the longer side is at most n
// pixels. Zero keeps the original size.
func (r *Renderer) WithMaxSide(n int) *Renderer {
	r.maxSide = n
	return r
}

// Render draws every box of the image. Human boxes are captioned with the
// actions whose score reaches threshold, other boxes with their class and
// detection score. actions holds one row of scores per box.
func (r *Renderer) Render(imgName string, boxes *mat.Dense, roiLabels []int, roiScores []float64, actions *mat.Dense, threshold float64) (image.Image, error) {
	n, _ := boxes.Dims()
	if len(roiLabels) != n || len(roiScores) != n {
		return nil, fmt.Errorf("render %s: %d boxes with %d labels and %d scores", imgName, n, len(roiLabels), len(roiScores))
	}
	if actions != nil {
		if rows, _ := actions.Dims(); rows != n {
			return nil, fmt.Errorf("render %s: %d action rows for %d boxes", imgName, rows, n)
		}
	}

	img, err := preprocessing.LoadRGB(filepath.Join(r.imgDir, imgName))
	if err != nil {
		return nil, err
	}

	for i := 0; i < n; i++ {
		rect := image.Rect(
			int(boxes.At(i, 0)), int(boxes.At(i, 1)),
			int(boxes.At(i, 2)), int(boxes.At(i, 3)),
		).Canon()

		c := objectColor
		caption := fmt.Sprintf("%s %.2f", ObjectName(roiLabels[i]), roiScores[i])
		if roiLabels[i] == HumanLabel {
			c = humanColor
			if actions != nil {
				if verbs := Caption(mat.Row(nil, i, actions), threshold); verbs != "" {
					caption = verbs
				}
			}
		}
		r.strokeRect(img, rect, c)
		r.label(img, rect, caption, c)
	}

	if r.maxSide > 0 {
		img, _ = preprocessing.FitWithin(img, r.maxSide)
	}
	return img, nil
}

// Caption lists the actions of one score row that reach threshold
func Caption(scores []float64, threshold float64) string {
	var parts []string
	for j, s := range scores {
		if s >= threshold {
			parts = append(parts, fmt.Sprintf("%s %.2f", VerbName(j), s))
		}
	}
	return strings.Join(parts, ", ")
}

func (r *Renderer) strokeRect(dst *image.RGBA, rect image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	w := r.lineWidth
	for _, edge := range []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+w),
		image.Rect(rect.Min.X, rect.Max.Y-w, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+w, rect.Max.Y),
		image.Rect(rect.Max.X-w, rect.Min.Y, rect.Max.X, rect.Max.Y),
	} {
		draw.Draw(dst, edge.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// label writes text on a filled band above rect, or inside it when the box
// touches the top of the image
func (r *Renderer) label(dst *image.RGBA, rect image.Rectangle, text string, bg color.Color) {
	m := r.face.Metrics()
	height := (m.Ascent + m.Descent).Ceil() + 2
	width := font.MeasureString(r.face, text).Ceil() + 4

	top := rect.Min.Y - height
	if top < dst.Bounds().Min.Y {
		top = rect.Min.Y
	}
	band := image.Rect(rect.Min.X, top, rect.Min.X+width, top+height)
	draw.Draw(dst, band.Intersect(dst.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: r.face,
		Dot:  fixed.P(band.Min.X+2, band.Min.Y+1+m.Ascent.Ceil()),
	}
	d.DrawString(text)
}
