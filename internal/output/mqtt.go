package output

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/metapages/metaframe-bluetooth/internal/config"
)

// MQTTSink publishes every update as {key: value} JSON to <prefix>/<key>.
type MQTTSink struct {
	client    mqtt.Client
	cfg       config.MQTTConfig
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Compile-time interface satisfaction check.
var _ Sink = (*MQTTSink)(nil)

func NewMQTTSink(cfg config.MQTTConfig, logger *slog.Logger) *MQTTSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MQTTSink{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		logger.Info("[OUTPUT] mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("[OUTPUT] mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Connect waits for the initial broker connection, respecting ctx and Close.
func (s *MQTTSink) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return fmt.Errorf("output: mqtt sink closed")
	default:
	}
	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("output: mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return fmt.Errorf("output: mqtt sink closed")
		default:
		}
	}
}

func (s *MQTTSink) Publish(key string, value any) error {
	if !s.IsConnected() {
		return fmt.Errorf("output: mqtt not connected")
	}

	topic := Topic(s.cfg.TopicPrefix, key)
	data, err := EncodeUpdate(key, value)
	if err != nil {
		return err
	}

	// Notification callbacks must not wait on the broker; delivery errors
	// are logged when the token completes.
	token := s.client.Publish(topic, s.cfg.QoS, s.cfg.Retain, data)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			s.logger.Warn("[OUTPUT] mqtt publish timeout", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			s.logger.Warn("[OUTPUT] mqtt publish failed", "topic", topic, "error", err)
			return
		}
		s.logger.Debug("[OUTPUT] mqtt published", "topic", topic)
	}()
	return nil
}

// IsConnected returns whether the broker connection is up.
func (s *MQTTSink) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Close stops the client. Idempotent.
func (s *MQTTSink) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.client.Disconnect(250)
	s.setConnected(false)
	s.logger.Info("[OUTPUT] mqtt disconnected")
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Topic joins prefix and key with a single slash.
func Topic(prefix, key string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// EncodeUpdate renders the single-key update {key: value} as JSON.
// Non-finite floats, which JSON cannot represent, are encoded as null.
func EncodeUpdate(key string, value any) ([]byte, error) {
	data, err := json.Marshal(map[string]any{key: jsonValue(value)})
	if err != nil {
		return nil, fmt.Errorf("output: marshal %q: %w", key, err)
	}
	return data, nil
}

func jsonValue(v any) any {
	switch v := v.(type) {
	case float32:
		if !finite(float64(v)) {
			return nil
		}
	case float64:
		if !finite(v) {
			return nil
		}
	case []float32:
		if !slices.ContainsFunc(v, func(f float32) bool { return !finite(float64(f)) }) {
			return v
		}
		out := make([]any, len(v))
		for i, f := range v {
			if finite(float64(f)) {
				out[i] = f
			}
		}
		return out
	}
	return v
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
