package link

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01

	DefaultI2CBus     = "2"
	DefaultI2CAddress = 0x48
	DefaultDataRate   = 128
)

// ADC reads an analog probe wired to one input of an ADS1115 over I2C,
// polling in single-shot mode at the requested sample rate.
type ADC struct {
	busName  string
	addr     uint16
	channel  int
	dataRate int
	scale    float64
	offset   float64
	pgaFS    float64
	post     Poster
	log      *slog.Logger

	mu       sync.Mutex
	bus      i2c.BusCloser
	dev      *i2c.Dev
	sampling bool
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewADC(opts Options, p Poster) (Link, error) {
	a := &ADC{
		busName:  opts.I2CBus,
		addr:     uint16(opts.I2CAddress),
		channel:  opts.ADCChannel,
		dataRate: opts.ADCDataRate,
		scale:    opts.CalibrationScale,
		offset:   opts.CalibrationOffset,
		pgaFS:    4.096,
		post:     p,
		log:      loggerOf(opts),
	}
	if a.busName == "" {
		a.busName = DefaultI2CBus
	}
	if a.addr == 0 {
		a.addr = DefaultI2CAddress
	}
	if a.dataRate == 0 {
		a.dataRate = DefaultDataRate
	}
	if a.scale == 0 {
		a.scale = 1.0
	}
	if _, _, err := configForChannel(a.channel, a.dataRate); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *ADC) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bus != nil {
		return nil
	}
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(a.busName)
	if err != nil {
		return fmt.Errorf("open i2c: %w", err)
	}
	a.bus = bus
	a.dev = &i2c.Dev{Addr: a.addr, Bus: bus}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(a.stop, a.done)
	a.log.Info("adc link started", "bus", a.busName, "addr", fmt.Sprintf("0x%02X", a.addr), "channel", a.channel)
	return nil
}

func (a *ADC) Stop() error {
	a.mu.Lock()
	if a.bus == nil {
		a.mu.Unlock()
		return nil
	}
	stop, done := a.stop, a.done
	a.sampling = false
	a.mu.Unlock()

	close(stop)
	<-done

	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.bus.Close()
	a.bus, a.dev = nil, nil
	if err != nil {
		return fmt.Errorf("close i2c: %w", err)
	}
	return nil
}

// SetSampleRate starts polling every 1/freq seconds. A zero frequency
// polls as fast as the configured data rate allows.
func (a *ADC) SetSampleRate(freq float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bus == nil {
		return ErrNotConnected
	}
	a.interval = pollInterval(freq, a.dataRate)
	a.sampling = true
	return nil
}

func (a *ADC) StopSampling() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sampling = false
	return nil
}

func (a *ADC) run(stop, done chan struct{}) {
	defer close(done)
	for {
		a.mu.Lock()
		sampling, interval := a.sampling, a.interval
		a.mu.Unlock()
		if !sampling {
			interval = 50 * time.Millisecond
		}
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
		if !sampling {
			continue
		}
		v, err := a.read()
		if err != nil {
			a.log.Warn("adc read", "error", err)
			continue
		}
		a.post.PostValue(v)
	}
}

func (a *ADC) read() (float64, error) {
	msb, lsb, err := configForChannel(a.channel, a.dataRate)
	if err != nil {
		return 0, err
	}
	if err := a.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	// wait for conversion
	time.Sleep(conversionDelay(a.dataRate))
	readBuf := make([]byte, 2)
	if err := a.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("read conv: %w", err)
	}
	return a.volts(int16(readBuf[0])<<8 | int16(readBuf[1])), nil
}

func (a *ADC) volts(raw int16) float64 {
	return float64(raw)*a.pgaFS/32768.0*a.scale + a.offset
}

func conversionDelay(dataRate int) time.Duration {
	return time.Duration(int(1000.0/float64(dataRate))+2) * time.Millisecond
}

func pollInterval(freq float64, dataRate int) time.Duration {
	floor := conversionDelay(dataRate)
	if freq <= 0 {
		return floor
	}
	d := time.Duration(float64(time.Second) / freq)
	if d < floor {
		return floor
	}
	return d
}

// ADS1115 config register fields.
const (
	cfgStartConversion = 1 << 15
	cfgMuxShift        = 12
	cfgMuxSingleEnded  = 0x4 // AINx against GND; channel is added to it
	cfgPGAShift        = 9
	cfgPGA4096mV       = 0x1
	cfgSingleShot      = 1 << 8
	cfgDataRateShift   = 5
	cfgComparatorOff   = 0x3
)

// dataRateBits maps samples per second to the DR field. Unknown rates fall
// back to DefaultDataRate.
var dataRateBits = map[int]uint16{
	8: 0x0, 16: 0x1, 32: 0x2, 64: 0x3, 128: 0x4, 250: 0x5, 475: 0x6, 860: 0x7,
}

// configForChannel builds the single-shot config word for one input,
// returned as the two bytes written after the config pointer.
func configForChannel(channel, sampleRate int) (byte, byte, error) {
	if channel < 0 || channel > 3 {
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	dr, ok := dataRateBits[sampleRate]
	if !ok {
		dr = dataRateBits[DefaultDataRate]
	}
	word := uint16(cfgStartConversion) |
		uint16(cfgMuxSingleEnded+channel)<<cfgMuxShift |
		cfgPGA4096mV<<cfgPGAShift |
		cfgSingleShot |
		dr<<cfgDataRateShift |
		cfgComparatorOff
	return byte(word >> 8), byte(word), nil
}
