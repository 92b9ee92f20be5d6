package link

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Link is a connection to a probe. See sensing.DeviceLink.
type Link interface {
	Start() error
	Stop() error
	SetSampleRate(freq float64) error
	StopSampling() error
}

// Poster receives payloads from the link goroutine. Post is used for text
// payloads that still need decoding, PostValue for numeric ones.
type Poster interface {
	Post(raw string)
	PostValue(v float64)
}

var (
	ErrNotConnected = errors.New("link not connected")
	ErrUnknownKind  = errors.New("unknown link kind")
)

const (
	KindTCP    = "tcp"
	KindSerial = "serial"
	KindADC    = "adc"

	DefaultAddress  = "localhost:4568"
	DefaultBaudRate = 9600
)

type Options struct {
	Kind       string
	Simulation bool
	DeviceID   string

	// tcp
	Address     string
	DialTimeout time.Duration

	// serial
	SerialPort string
	BaudRate   int

	// adc
	I2CBus            string
	I2CAddress        int
	ADCChannel        int
	ADCDataRate       int
	CalibrationScale  float64
	CalibrationOffset float64

	// simulation
	SimInterval  time.Duration
	SimAmplitude float64
	SimPeriod    int

	Logger *slog.Logger
}

// New builds the link selected by opts. Simulation wins over Kind.
func New(opts Options, p Poster) (Link, error) {
	if opts.Simulation {
		return NewSimulator(opts, p), nil
	}
	switch strings.ToLower(opts.Kind) {
	case "", KindTCP:
		return NewTCP(opts, p), nil
	case KindSerial:
		return NewSerial(opts, p)
	case KindADC:
		return NewADC(opts, p)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownKind, opts.Kind)
}

func loggerOf(opts Options) *slog.Logger {
	if opts.Logger == nil {
		return slog.Default()
	}
	return opts.Logger
}

func sampleCommand(freq float64) string { return fmt.Sprintf("F%g\n", freq) }

const stopCommand = "S\n"
