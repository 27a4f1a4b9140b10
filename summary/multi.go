package summary

import (
	"errors"
	"image"
)

// Sink is anything that consumes the summary stream
type Sink interface {
	AddScalar(tag string, value float64, step int) error
	AddScalars(mainTag string, values map[string]float64, step int) error
	AddImage(tag string, img image.Image, step int) error
	Close() error
}

// Multi fans every call out to all sinks. Every sink sees every call; the
// errors are joined.
type Multi struct {
	sinks []Sink
}

// NewMulti combines sinks, skipping nil entries
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) AddScalar(tag string, value float64, step int) error {
	return m.each(func(s Sink) error { return s.AddScalar(tag, value, step) })
}

func (m *Multi) AddScalars(mainTag string, values map[string]float64, step int) error {
	return m.each(func(s Sink) error { return s.AddScalars(mainTag, values, step) })
}

func (m *Multi) AddImage(tag string, img image.Image, step int) error {
	return m.each(func(s Sink) error { return s.AddImage(tag, img, step) })
}

func (m *Multi) Close() error {
	return m.each(func(s Sink) error { return s.Close() })
}
