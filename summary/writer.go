// Package summary writes training scalars and images as TensorBoard event
// files.
package summary

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Writer appends events to one events.out.tfevents file. AddScalars opens
// one child writer per key under <dir>/<main>_<key>, the layout
// TensorBoard groups into a single multi-line chart.
type Writer struct {
	mu   sync.Mutex
	dir  string
	path string
	f    *os.File
	w    *bufio.Writer
	subs map[string]*Writer
	now  func() time.Time
}

// NewWriter creates dir and a fresh events file inside it
func NewWriter(dir string) (*Writer, error) {
	return newWriter(dir, time.Now)
}

func newWriter(dir string, now func() time.Time) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create summary directory: %w", err)
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	path := filepath.Join(dir, fmt.Sprintf("events.out.tfevents.%d.%s", now().Unix(), host))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create events file: %w", err)
	}

	sw := &Writer{
		dir:  dir,
		path: path,
		f:    f,
		w:    bufio.NewWriter(f),
		subs: make(map[string]*Writer),
		now:  now,
	}
	if err := sw.write(&Event{FileVersion: FileVersion}); err != nil {
		f.Close()
		return nil, err
	}
	return sw, nil
}

// Dir returns the log directory of the writer
func (sw *Writer) Dir() string { return sw.dir }

// Path returns the events file of the writer
func (sw *Writer) Path() string { return sw.path }

func (sw *Writer) write(e *Event) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.f == nil {
		return fmt.Errorf("summary writer for %s is closed", sw.dir)
	}
	e.WallTime = float64(sw.now().UnixNano()) / 1e9
	if err := writeRecord(sw.w, e.Marshal()); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return sw.w.Flush()
}

// AddScalar records a scalar value
func (sw *Writer) AddScalar(tag string, value float64, step int) error {
	return sw.write(&Event{
		Step:   int64(step),
		Values: []Value{{Tag: tag, Simple: float32(value)}},
	})
}

// AddScalars records each value with tag mainTag in its own child writer
func (sw *Writer) AddScalars(mainTag string, values map[string]float64, step int) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sub, err := sw.sub(mainTag, k)
		if err != nil {
			return err
		}
		if err := sub.AddScalar(mainTag, values[k], step); err != nil {
			return err
		}
	}
	return nil
}

func (sw *Writer) sub(mainTag, key string) (*Writer, error) {
	name := strings.ReplaceAll(mainTag, "/", "_") + "_" + key
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sub, ok := sw.subs[name]; ok {
		return sub, nil
	}
	sub, err := newWriter(filepath.Join(sw.dir, name), sw.now)
	if err != nil {
		return nil, err
	}
	sw.subs[name] = sub
	return sub, nil
}

// AddImage records img as a PNG encoded summary image
func (sw *Writer) AddImage(tag string, img image.Image, step int) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode image %s: %w", tag, err)
	}
	bounds := img.Bounds()
	colorspace := 3
	if _, ok := img.(*image.RGBA); ok {
		colorspace = 4
	}
	return sw.write(&Event{
		Step: int64(step),
		Values: []Value{{Tag: tag, Image: &Image{
			Height:     bounds.Dy(),
			Width:      bounds.Dx(),
			Colorspace: colorspace,
			Encoded:    buf.Bytes(),
		}}},
	})
}

// Close flushes and closes the writer and its children
func (sw *Writer) Close() error {
	sw.mu.Lock()
	subs := sw.subs
	sw.subs = make(map[string]*Writer)
	sw.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		errs = append(errs, sub.Close())
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.f == nil {
		return errors.Join(errs...)
	}
	errs = append(errs, sw.w.Flush(), sw.f.Close())
	sw.f = nil
	return errors.Join(errs...)
}
