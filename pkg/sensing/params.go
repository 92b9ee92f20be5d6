package sensing

import (
	"errors"
	"fmt"

	"github.com/ericogr/emfsense/pkg/telemetry"
)

var (
	ErrInvalidParams = errors.New("invalid session params")
	ErrStarted       = errors.New("session already started")
	ErrStopped       = errors.New("session stopped")
	ErrNotResumed    = errors.New("session not resumed")
)

// Params are the launch parameters of a session. They are read again on
// every resume.
type Params struct {
	Mode       telemetry.Mode
	Frequency  float64
	DeviceID   string
	Simulation bool
	Logging    bool
	Capacity   int
}

func (p Params) Validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: mode %v", ErrInvalidParams, p.Mode)
	}
	if p.Frequency < 0 {
		return fmt.Errorf("%w: frequency %v must be >= 0", ErrInvalidParams, p.Frequency)
	}
	if p.Capacity < 0 {
		return fmt.Errorf("%w: capacity %d must be >= 0", ErrInvalidParams, p.Capacity)
	}
	return nil
}

func (p Params) capacity() int {
	if p.Capacity == 0 {
		return DefaultCapacity
	}
	return p.Capacity
}
