package output

import (
	"maps"
	"sync"
)

// Publisher resolves output keys and forwards values to a sink. It also
// holds the latest value per key for diagnostics; the caller decides what
// gets stored.
type Publisher struct {
	sink Sink

	mu     sync.Mutex
	latest map[string]any
}

// NewPublisher creates a Publisher backed by sink.
// Panics if sink is nil (programmer error).
func NewPublisher(sink Sink) *Publisher {
	if sink == nil {
		panic("output: NewPublisher called with nil sink")
	}
	return &Publisher{
		sink:   sink,
		latest: make(map[string]any),
	}
}

// Key returns the alias configured for id, or id itself.
func Key(id string, aliases map[string]string) string {
	if alias := aliases[id]; alias != "" {
		return alias
	}
	return id
}

// Publish sends {key: value} for characteristic id and returns the key used.
func (p *Publisher) Publish(id string, aliases map[string]string, value any) (string, error) {
	key := Key(id, aliases)
	return key, p.sink.Publish(key, value)
}

// Store records value as the latest for key.
func (p *Publisher) Store(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest[key] = value
}

// Latest returns a copy of the latest value per key.
func (p *Publisher) Latest() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.latest)
}

// Clear drops the snapshot.
func (p *Publisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.latest)
}
