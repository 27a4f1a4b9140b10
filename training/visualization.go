package training

import (
	"encoding/json"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
)

// PlotData represents the universal JSON format for the sidecar plotting service
type PlotData struct {
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	Series []SeriesData `json:"series"`

	Config PlotConfig `json:"config"`

	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "scatter"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point
type DataPoint struct {
	X     interface{} `json:"x"`
	Y     interface{} `json:"y"`
	Label string      `json:"label,omitempty"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel  string `json:"x_axis_label"`
	YAxisLabel  string `json:"y_axis_label"`
	XAxisScale  string `json:"x_axis_scale"`
	YAxisScale  string `json:"y_axis_scale"`
	ShowLegend  bool   `json:"show_legend"`
	ShowGrid    bool   `json:"show_grid"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Interactive bool   `json:"interactive"`
}

// Point is one recorded scalar
type Point struct {
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// VisualizationCollector records scalar series as a SummaryWriter so that
// training curves can be sent to the plotting sidecar at the end of a run.
// Images are counted but not kept.
type VisualizationCollector struct {
	mu        sync.Mutex
	modelName string
	enabled   bool

	series map[string][]Point
	images map[string]int
}

// NewVisualizationCollector creates a disabled collector
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{
		modelName: modelName,
		series:    make(map[string][]Point),
		images:    make(map[string]int),
	}
}

// Enable starts recording
func (vc *VisualizationCollector) Enable() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.enabled = true
}

// Disable stops recording
func (vc *VisualizationCollector) Disable() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.enabled = false
}

// IsEnabled returns whether visualization is enabled
func (vc *VisualizationCollector) IsEnabled() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.enabled
}

// AddScalar records value under tag
func (vc *VisualizationCollector) AddScalar(tag string, value float64, step int) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.enabled {
		vc.series[tag] = append(vc.series[tag], Point{Step: step, Value: value})
	}
	return nil
}

// AddScalars records each value under mainTag/key
func (vc *VisualizationCollector) AddScalars(mainTag string, values map[string]float64, step int) error {
	for k, v := range values {
		if err := vc.AddScalar(mainTag+"/"+k, v, step); err != nil {
			return err
		}
	}
	return nil
}

// AddImage counts images per tag
func (vc *VisualizationCollector) AddImage(tag string, img image.Image, step int) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.enabled {
		vc.images[tag]++
	}
	return nil
}

// Close is a no-op
func (vc *VisualizationCollector) Close() error { return nil }

// Series returns a copy of one recorded series
func (vc *VisualizationCollector) Series(tag string) []Point {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return append([]Point(nil), vc.series[tag]...)
}

// ImageCount returns how many images were recorded under tag
func (vc *VisualizationCollector) ImageCount(tag string) int {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.images[tag]
}

var seriesColors = []string{"#FF6B6B", "#4ECDC4", "#FF9F43", "#5F27CD", "#1DD1A1"}

// GenerateTrainingCurvesPlot generates training curves plot data, one line
// per recorded loss series in tag order
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	tags := make([]string, 0, len(vc.series))
	for tag := range vc.series {
		if tag != TagLearningRate {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)

	series := make([]SeriesData, 0, len(tags))
	for i, tag := range tags {
		s := SeriesData{
			Name: tag,
			Type: "line",
			Data: make([]DataPoint, len(vc.series[tag])),
			Style: map[string]interface{}{
				"color":      seriesColors[i%len(seriesColors)],
				"line_width": 2,
			},
		}
		for j, p := range vc.series[tag] {
			s.Data[j] = DataPoint{X: p.Step, Y: p.Value}
		}
		series = append(series, s)
	}

	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    series,
		Config: PlotConfig{
			XAxisLabel:  "Step",
			YAxisLabel:  "Loss",
			XAxisScale:  "linear",
			YAxisScale:  "linear",
			ShowLegend:  true,
			ShowGrid:    true,
			Width:       800,
			Height:      600,
			Interactive: true,
		},
		Metrics: map[string]interface{}{
			TagGTDetection:     vc.images[TagGTDetection],
			TagActionDetection: vc.images[TagActionDetection],
		},
	}
}

// GenerateLearningRateSchedulePlot generates learning rate schedule plot data
func (vc *VisualizationCollector) GenerateLearningRateSchedulePlot() PlotData {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	lrs := vc.series[TagLearningRate]
	s := SeriesData{
		Name: "Learning Rate",
		Type: "line",
		Data: make([]DataPoint, len(lrs)),
		Style: map[string]interface{}{
			"color":      "#2E86AB",
			"line_width": 2,
		},
	}
	for i, p := range lrs {
		s.Data[i] = DataPoint{X: p.Step, Y: p.Value}
	}

	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("Learning Rate Schedule - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    []SeriesData{s},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Learning Rate",
			XAxisScale: "linear",
			YAxisScale: "log",
			ShowLegend: false,
			ShowGrid:   true,
			Width:      800,
			Height:     400,
		},
	}
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	data, err := json.Marshal(pd)
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data: %w", err)
	}
	return string(data), nil
}

// Clear resets all collected data
func (vc *VisualizationCollector) Clear() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.series = make(map[string][]Point)
	vc.images = make(map[string]int)
}
