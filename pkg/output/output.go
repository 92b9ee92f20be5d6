package output

import (
	"errors"
	"time"

	"github.com/ericogr/emfsense/pkg/telemetry"
)

// Renderer is fed the chart state after every consumed sample.
type Renderer interface {
	Refresh(telemetry.Frame) error
}

// Logger persists readings. Implementations route LF and HF readings to
// separate detailed stores.
type Logger interface {
	Store(value float64, mode telemetry.Mode) error
	Close() error
}

// FeedbackSink drives a haptic actuator. Pulses of zero or negative length
// are no-ops for the sink.
type FeedbackSink interface {
	Pulse(d time.Duration) error
}

// Canceler is implemented by sinks that can abort a running pulse.
type Canceler interface {
	Cancel() error
}

// Renderers fans a frame out to every renderer in order.
type Renderers []Renderer

func (rs Renderers) Refresh(f telemetry.Frame) error {
	var errs []error
	for _, r := range rs {
		if err := r.Refresh(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Loggers stores into every logger in order.
type Loggers []Logger

func (ls Loggers) Store(value float64, mode telemetry.Mode) error {
	var errs []error
	for _, l := range ls {
		if err := l.Store(value, mode); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ls Loggers) Close() error {
	var errs []error
	for _, l := range ls {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop implements every collaborator and does nothing.
type Nop struct{}

func (Nop) Refresh(telemetry.Frame) error       { return nil }
func (Nop) Store(float64, telemetry.Mode) error { return nil }
func (Nop) Close() error                        { return nil }
func (Nop) Pulse(time.Duration) error           { return nil }
