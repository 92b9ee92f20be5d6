package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ericogr/emfsense/pkg/link"
	"github.com/ericogr/emfsense/pkg/output/mqtt"
	"github.com/ericogr/emfsense/pkg/sensing"
	"github.com/ericogr/emfsense/pkg/telemetry"
)

type LinkConfig struct {
	Type              string  `json:"type" yaml:"type"`
	Address           string  `json:"address,omitempty" yaml:"address,omitempty"`
	SerialPort        string  `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	BaudRate          int     `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	I2CBus            string  `json:"i2c_bus,omitempty" yaml:"i2c_bus,omitempty"`
	I2CAddress        int     `json:"i2c_address,omitempty" yaml:"i2c_address,omitempty"`
	ADCChannel        int     `json:"adc_channel" yaml:"adc_channel"`
	ADCDataRate       int     `json:"adc_data_rate,omitempty" yaml:"adc_data_rate,omitempty"`
	CalibrationScale  float64 `json:"calibration_scale,omitempty" yaml:"calibration_scale,omitempty"`
	CalibrationOffset float64 `json:"calibration_offset,omitempty" yaml:"calibration_offset,omitempty"`
	SimIntervalMs     int     `json:"sim_interval_ms,omitempty" yaml:"sim_interval_ms,omitempty"`
	SimAmplitude      float64 `json:"sim_amplitude,omitempty" yaml:"sim_amplitude,omitempty"`
}

type OutputConfig struct {
	Type  string `json:"type" yaml:"type"`
	Every int    `json:"every,omitempty" yaml:"every,omitempty"`
}

type LogConfig struct {
	Enabled    bool         `json:"enabled" yaml:"enabled"`
	SQLitePath string       `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	MQTT       *mqtt.Config `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

type FeedbackConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Sink    string `json:"sink" yaml:"sink"`
	GPIOPin string `json:"gpio_pin,omitempty" yaml:"gpio_pin,omitempty"`
}

type Config struct {
	Mode       string         `json:"mode" yaml:"mode"`
	Frequency  float64        `json:"frequency" yaml:"frequency"`
	DeviceID   string         `json:"device_id" yaml:"device_id"`
	Simulation bool           `json:"simulation" yaml:"simulation"`
	Capacity   int            `json:"capacity" yaml:"capacity"`
	Link       LinkConfig     `json:"link" yaml:"link"`
	Outputs    []OutputConfig `json:"outputs" yaml:"outputs"`
	Log        LogConfig      `json:"log" yaml:"log"`
	Feedback   FeedbackConfig `json:"feedback" yaml:"feedback"`
	AutoSense  bool           `json:"auto_sense" yaml:"auto_sense"`
	HTTPAddr   string         `json:"http_addr" yaml:"http_addr"`
	LogLevel   string         `json:"log_level" yaml:"log_level"`
}

const (
	OutputConsole   = "console"
	OutputWebsocket = "websocket"

	SinkConsole = "console"
	SinkGPIO    = "gpio"
	SinkNone    = "none"
)

func DefaultConfig() Config {
	return Config{
		Mode:      "lf",
		Frequency: 50,
		DeviceID:  "emf-probe",
		Capacity:  sensing.DefaultCapacity,
		Link:      LinkConfig{Type: link.KindTCP, Address: link.DefaultAddress},
		Outputs:   []OutputConfig{{Type: OutputConsole, Every: 10}, {Type: OutputWebsocket}},
		Log:       LogConfig{SQLitePath: "data/emf.db"},
		Feedback:  FeedbackConfig{Enabled: true, Sink: SinkConsole, GPIOPin: "GPIO17"},
		AutoSense: true,
		HTTPAddr:  ":8080",
		LogLevel:  "info",
	}
}

// LoadFromFlags loads configuration from the command line of the process.
func LoadFromFlags() (Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load reads an optional JSON or YAML file named by -config and applies
// flag overrides on top of it.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagMode := fs.String("mode", "", "probe mode: lf|hf")
	flagFrequency := fs.Float64("frequency", math.NaN(), "sampling frequency requested from the probe")
	flagDeviceID := fs.String("device-id", "", "device id")
	flagSimulation := fs.Bool("simulation", false, "use the simulated probe")
	flagCapacity := fs.Int("capacity", -1, "samples kept before the chart restarts")
	flagLink := fs.String("link", "", "link type: tcp|serial|adc")
	flagLinkAddr := fs.String("link-address", "", "probe address for the tcp link (host:port)")
	flagSerialPort := fs.String("serial-port", "", "serial port for the serial link")
	flagBaudRate := fs.Int("baud-rate", -1, "serial baud rate")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus for the adc link (e.g., '2' -> /dev/i2c-2)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagADCChannel := fs.Int("adc-channel", -1, "ADS1115 input channel 0-3")
	flagOutputs := fs.String("outputs", "", "Comma-separated renderers (console,websocket)")
	flagOutputEvery := fs.String("output-every", "", "Comma-separated render throttles e.g. console=10")
	flagLog := fs.Bool("log", false, "persist every reading")
	flagLogDB := fs.String("log-db", "", "sqlite database path for logged readings")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT topic base")
	flagDiscovery := fs.String("mqtt-discovery", "", "Home Assistant discovery prefix (empty disables)")
	flagFeedback := fs.Bool("feedback", true, "haptic feedback on every reading")
	flagSink := fs.String("feedback-sink", "", "feedback sink: console|gpio|none")
	flagGPIOPin := fs.String("gpio-pin", "", "GPIO pin driving the vibration motor")
	flagAutoSense := fs.Bool("auto-sense", true, "request samples as soon as the session starts")
	flagHTTPAddr := fs.String("http-addr", "", "control API listen address")
	flagLogLevel := fs.String("log-level", "", "debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := readFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *flagMode != "" {
		cfg.Mode = *flagMode
	}
	if !math.IsNaN(*flagFrequency) {
		cfg.Frequency = *flagFrequency
	}
	if *flagDeviceID != "" {
		cfg.DeviceID = *flagDeviceID
	}
	if set["simulation"] {
		cfg.Simulation = *flagSimulation
	}
	if *flagCapacity != -1 {
		cfg.Capacity = *flagCapacity
	}
	if *flagLink != "" {
		cfg.Link.Type = *flagLink
	}
	if *flagLinkAddr != "" {
		cfg.Link.Address = *flagLinkAddr
	}
	if *flagSerialPort != "" {
		cfg.Link.SerialPort = *flagSerialPort
	}
	if *flagBaudRate != -1 {
		cfg.Link.BaudRate = *flagBaudRate
	}
	if *flagI2CBus != "" {
		cfg.Link.I2CBus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.Link.I2CAddress = v
	}
	if *flagADCChannel != -1 {
		cfg.Link.ADCChannel = *flagADCChannel
	}
	if *flagOutputs != "" {
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: p})
		}
		cfg.Outputs = outs
	}
	if *flagOutputEvery != "" {
		every, err := parseKeyIntMap(*flagOutputEvery)
		if err != nil {
			return cfg, fmt.Errorf("output-every: %w", err)
		}
		for i := range cfg.Outputs {
			if v, ok := every[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].Every = v
			}
		}
	}
	if set["log"] {
		cfg.Log.Enabled = *flagLog
	}
	if *flagLogDB != "" {
		cfg.Log.SQLitePath = *flagLogDB
	}
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" || *flagDiscovery != "" {
		if cfg.Log.MQTT == nil {
			cfg.Log.MQTT = &mqtt.Config{}
		}
		m := cfg.Log.MQTT
		if *flagMQTTServer != "" {
			m.Server = *flagMQTTServer
		}
		if *flagMQTTUser != "" {
			m.Username = *flagMQTTUser
		}
		if *flagMQTTPass != "" {
			m.Password = *flagMQTTPass
		}
		if *flagClientID != "" {
			m.ClientID = *flagClientID
		}
		if *flagTopic != "" {
			m.TopicBase = *flagTopic
		}
		if *flagDiscovery != "" {
			m.DiscoveryPrefix = *flagDiscovery
		}
	}
	if set["feedback"] {
		cfg.Feedback.Enabled = *flagFeedback
	}
	if *flagSink != "" {
		cfg.Feedback.Sink = *flagSink
	}
	if *flagGPIOPin != "" {
		cfg.Feedback.GPIOPin = *flagGPIOPin
	}
	if set["auto-sense"] {
		cfg.AutoSense = *flagAutoSense
	}
	if *flagHTTPAddr != "" {
		cfg.HTTPAddr = *flagHTTPAddr
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}

	return cfg, cfg.Validate()
}

func readFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate rejects configurations a session could not start with.
func (c Config) Validate() error {
	var errs []error
	if _, err := telemetry.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Frequency < 0 {
		errs = append(errs, errors.New("frequency must be >= 0"))
	}
	if c.Capacity < 0 {
		errs = append(errs, errors.New("capacity must be >= 0"))
	}
	switch strings.ToLower(c.Link.Type) {
	case "", link.KindTCP, link.KindSerial, link.KindADC:
	default:
		errs = append(errs, fmt.Errorf("unknown link type %q", c.Link.Type))
	}
	for _, o := range c.Outputs {
		switch o.Type {
		case OutputConsole, OutputWebsocket:
		default:
			errs = append(errs, fmt.Errorf("unknown output %q", o.Type))
		}
	}
	switch c.Feedback.Sink {
	case "", SinkConsole, SinkGPIO, SinkNone:
	default:
		errs = append(errs, fmt.Errorf("unknown feedback sink %q", c.Feedback.Sink))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Params are the session launch parameters described by c.
func (c Config) Params() (sensing.Params, error) {
	mode, err := telemetry.ParseMode(c.Mode)
	if err != nil {
		return sensing.Params{}, err
	}
	return sensing.Params{
		Mode:       mode,
		Frequency:  c.Frequency,
		DeviceID:   c.DeviceID,
		Simulation: c.Simulation,
		Logging:    c.Log.Enabled,
		Capacity:   c.Capacity,
	}, nil
}

// LinkOptions builds the device link options for p. p wins over c for the
// values a resume may change.
func (c Config) LinkOptions(p sensing.Params, logger *slog.Logger) link.Options {
	return link.Options{
		Kind:              c.Link.Type,
		Simulation:        p.Simulation,
		DeviceID:          p.DeviceID,
		Address:           c.Link.Address,
		SerialPort:        c.Link.SerialPort,
		BaudRate:          c.Link.BaudRate,
		I2CBus:            c.Link.I2CBus,
		I2CAddress:        c.Link.I2CAddress,
		ADCChannel:        c.Link.ADCChannel,
		ADCDataRate:       c.Link.ADCDataRate,
		CalibrationScale:  c.Link.CalibrationScale,
		CalibrationOffset: c.Link.CalibrationOffset,
		SimInterval:       time.Duration(c.Link.SimIntervalMs) * time.Millisecond,
		SimAmplitude:      c.Link.SimAmplitude,
		Logger:            logger,
	}
}

// ParseLevel maps a level name to a slog level; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry %q (want key=value)", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid value in %q: %w", p, err)
		}
		out[strings.TrimSpace(kv[0])] = v
	}
	return out, nil
}
