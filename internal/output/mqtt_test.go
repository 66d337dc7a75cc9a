package output

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/metapages/metaframe-bluetooth/internal/config"
)

func TestMQTTSinkPublishWhileDisconnected(t *testing.T) {
	s := NewMQTTSink(config.Default().Output.MQTT, nil)
	defer s.Close()

	if s.IsConnected() {
		t.Fatal("new sink should not be connected")
	}
	if err := s.Publish("a", true); err == nil {
		t.Error("Publish() should fail while disconnected")
	}
}

func TestMQTTSinkConnectAfterClose(t *testing.T) {
	s := NewMQTTSink(config.Default().Output.MQTT, nil)
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Connect(ctx); err == nil {
		t.Error("Connect() after Close should fail")
	}
}

// stalledToken never completes, like a publish to an unresponsive broker.
type stalledToken struct{ done chan struct{} }

func (t stalledToken) Wait() bool { <-t.done; return true }
func (t stalledToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t stalledToken) Done() <-chan struct{} { return t.done }
func (t stalledToken) Error() error          { return nil }

type stalledClient struct {
	mqtt.Client
	mu     sync.Mutex
	topics []string
}

func (c *stalledClient) IsConnected() bool { return true }

func (c *stalledClient) Publish(topic string, _ byte, _ bool, _ interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return stalledToken{done: make(chan struct{})}
}

func TestMQTTSinkPublishDoesNotWaitForBroker(t *testing.T) {
	s := NewMQTTSink(config.Default().Output.MQTT, slog.New(slog.NewTextHandler(io.Discard, nil)))
	client := &stalledClient{}
	s.client = client
	s.setConnected(true)

	start := time.Now()
	if err := s.Publish("a", true); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Publish() took %v; it should not wait for the broker", elapsed)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if want := []string{"metaframe/bluetooth/a"}; !reflect.DeepEqual(client.topics, want) {
		t.Errorf("topics = %v, want %v", client.topics, want)
	}
}
