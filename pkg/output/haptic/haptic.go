package haptic

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// MaxPulse caps a single pulse so a large reading cannot keep the motor
// running indefinitely.
const MaxPulse = 5 * time.Second

// Vibrator drives a vibration motor on a GPIO pin: high for the length of
// a pulse, then low. A new pulse replaces the running one.
type Vibrator struct {
	pin gpio.PinOut

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Open looks up pinName (e.g. "GPIO17") on the host.
func Open(pinName string) (*Vibrator, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", pinName)
	}
	return New(p)
}

func New(pin gpio.PinOut) (*Vibrator, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio %s out: %w", pin, err)
	}
	return &Vibrator{pin: pin}, nil
}

func (v *Vibrator) Pulse(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if d > MaxPulse {
		d = MaxPulse
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked()
	if err := v.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("gpio %s high: %w", v.pin, err)
	}
	gen := v.gen
	v.timer = time.AfterFunc(d, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.gen != gen {
			return
		}
		_ = v.pin.Out(gpio.Low)
		v.timer = nil
	})
	return nil
}

// Cancel stops a running pulse.
func (v *Vibrator) Cancel() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked()
	if err := v.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("gpio %s low: %w", v.pin, err)
	}
	return nil
}

func (v *Vibrator) stopLocked() {
	v.gen++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

func (v *Vibrator) Close() error {
	if err := v.Cancel(); err != nil {
		return err
	}
	return v.pin.Halt()
}
