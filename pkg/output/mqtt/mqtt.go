package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ericogr/emfsense/pkg/output"
	"github.com/ericogr/emfsense/pkg/telemetry"
)

const (
	// defaults
	DefaultServer    = "tcp://localhost:1883"
	DefaultClientID  = "emfsense"
	DefaultTopicBase = "emf"
	detailedTopicFmt = "%s/%s/%s/detailed"
	publishTimeout   = 2 * time.Second
	// <prefix>/sensor/<device>_<mode>/config, Home Assistant layout
	discoveryTopicFmt = "%s/sensor/%s_%s/config"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
	valueTemplateValue     = "{{ value_json.value }}"
)

type Config struct {
	Server    string `json:"server" yaml:"server"`
	Username  string `json:"username" yaml:"username"`
	Password  string `json:"password" yaml:"password"`
	ClientID  string `json:"client_id" yaml:"client_id"`
	TopicBase string `json:"topic_base" yaml:"topic_base"`
	Retain    bool   `json:"retain" yaml:"retain"`
	// DiscoveryPrefix enables Home Assistant discovery when set
	// (usually "homeassistant").
	DiscoveryPrefix string `json:"discovery_prefix,omitempty" yaml:"discovery_prefix,omitempty"`
	DiscoveryName   string `json:"discovery_name,omitempty" yaml:"discovery_name,omitempty"`
}

// Payload is the message published for every stored reading.
type Payload struct {
	Value     float64        `json:"value"`
	Mode      telemetry.Mode `json:"mode"`
	DeviceID  string         `json:"device_id"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// MQTTLogger publishes readings to <base>/<device>/<lf|hf>/detailed.
type MQTTLogger struct {
	client   mqtt.Client
	base     string
	deviceID string
	runID    string
	retain   bool
	now      func() time.Time
}

func NewMQTT(cfg Config, deviceID, runID string) (output.Logger, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	l := newLogger(client, cfg, deviceID, runID)
	if cfg.DiscoveryPrefix != "" {
		if err := l.PublishDiscovery(cfg.DiscoveryPrefix, cfg.DiscoveryName); err != nil {
			slog.Warn("mqtt discovery publish", "error", err)
		}
	}
	return l, nil
}

func newLogger(client mqtt.Client, cfg Config, deviceID, runID string) *MQTTLogger {
	base := strings.TrimSuffix(cfg.TopicBase, "/")
	if base == "" {
		base = DefaultTopicBase
	}
	return &MQTTLogger{client: client, base: base, deviceID: deviceID, runID: runID, retain: cfg.Retain, now: time.Now}
}

func (m *MQTTLogger) device() string {
	if m.deviceID == "" {
		return "default"
	}
	return m.deviceID
}

// Topic returns the detailed topic for mode.
func (m *MQTTLogger) Topic(mode telemetry.Mode) string {
	return fmt.Sprintf(detailedTopicFmt, m.base, m.device(), mode)
}

func (m *MQTTLogger) Store(value float64, mode telemetry.Mode) error {
	b, err := json.Marshal(Payload{
		Value:     value,
		Mode:      mode,
		DeviceID:  m.deviceID,
		RunID:     m.runID,
		Timestamp: m.now().UTC(),
	})
	if err != nil {
		return err
	}
	token := m.client.Publish(m.Topic(mode), 0, m.retain, b)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", m.Topic(mode))
	}
	return token.Error()
}

// PublishDiscovery announces one retained sensor per mode so that Home
// Assistant picks up the detailed topics.
func (m *MQTTLogger) PublishDiscovery(prefix, name string) error {
	prefix = strings.TrimSuffix(prefix, "/")
	dev := m.device()
	if name == "" {
		name = "EMF " + dev
	}
	var errs []error
	for _, mode := range []telemetry.Mode{telemetry.LF, telemetry.HF} {
		uid := fmt.Sprintf("%s_%s", dev, mode)
		payload := map[string]interface{}{
			keyName:                fmt.Sprintf("%s %s", name, strings.ToUpper(mode.String())),
			keyStateTopic:          m.Topic(mode),
			keyStateClass:          stateClassMeasurement,
			keyValueTemplate:       valueTemplateValue,
			keyJSONAttributesTopic: m.Topic(mode),
			keyUniqueID:            uid,
		}
		b, err := json.Marshal(payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		topic := fmt.Sprintf(discoveryTopicFmt, prefix, dev, mode)
		token := m.client.Publish(topic, 0, true, b)
		if !token.WaitTimeout(publishTimeout) {
			errs = append(errs, fmt.Errorf("mqtt publish %s: timeout", topic))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("mqtt publish %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

func (m *MQTTLogger) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}
