// Package notify publishes capture events to MQTT.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/wachiwi/glasses-cam/pkg/journal"
)

// Notifier is told about every finished capture attempt.
type Notifier interface {
	Notify(rec journal.Record) error
	Close() error
}

// Config holds MQTT configuration. An empty Broker disables publishing.
type Config struct {
	Broker   string `yaml:"broker"` // host:port
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(journal.Record) error { return nil }
func (Nop) Close() error                { return nil }

// New connects to cfg.Broker, or returns Nop when no broker is configured.
func New(cfg Config) (Notifier, error) {
	if cfg.Broker == "" {
		return Nop{}, nil
	}
	m := NewMQTT(cfg)
	if err := m.Connect(); err != nil {
		return nil, err
	}
	return m, nil
}

// MQTT publishes one JSON message per capture to <topic>/<outcome>.
type MQTT struct {
	cfg            Config
	client         mqtt.Client
	connectTimeout time.Duration

	mu        sync.RWMutex
	connected bool
}

// NewMQTT creates an unconnected publisher.
func NewMQTT(cfg Config) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = "glasses/captures"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "glasses-cam"
	}
	return &MQTT{cfg: cfg, connectTimeout: 5 * time.Second}
}

// Connect establishes the broker connection. A broker that does not answer
// in time is retried in the background and events are dropped until it
// does. Lost connections are retried the same way.
func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", m.cfg.Broker))
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.setConnected(true)
		slog.Info("MQTT connection established", "broker", m.cfg.Broker, "client_id", m.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.setConnected(false)
		slog.Warn("MQTT connection lost, will auto-reconnect", "broker", m.cfg.Broker, "error", err)
	}

	m.client = mqtt.NewClient(opts)

	slog.Info("Connecting to MQTT broker", "broker", m.cfg.Broker)
	token := m.client.Connect()
	if !token.WaitTimeout(m.connectTimeout) {
		slog.Warn("MQTT broker not reachable yet, retrying in background", "broker", m.cfg.Broker)
		return nil
	}
	if err := token.Error(); err != nil {
		m.client.Disconnect(0)
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	m.setConnected(true)
	return nil
}

// Notify publishes rec.
func (m *MQTT) Notify(rec journal.Record) error {
	if !m.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	topic, payload, err := message(m.cfg.Topic, rec)
	if err != nil {
		return err
	}

	token := m.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	slog.Debug("Capture event published", "topic", topic, "size", len(payload))
	return nil
}

// Close disconnects from the broker and stops any pending retries.
func (m *MQTT) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
		slog.Info("MQTT disconnected")
	}
	m.setConnected(false)
	return nil
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MQTT) isConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func message(base string, rec journal.Record) (string, []byte, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal capture event: %w", err)
	}
	return base + "/" + rec.Outcome, payload, nil
}
