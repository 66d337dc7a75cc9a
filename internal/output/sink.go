// Package output forwards decoded characteristic values to the embedding
// host. Each value is published as an independent single-key update; the
// host is responsible for any accumulation.
package output

import (
	"context"
	"errors"
	"log/slog"
)

// Sink receives one single-key update per notification.
type Sink interface {
	Publish(key string, value any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(key string, value any) error

func (f SinkFunc) Publish(key string, value any) error { return f(key, value) }

// Multi fans every update out to all sinks. Every sink is tried; errors
// are joined.
type Multi []Sink

// Compile-time interface satisfaction check.
var _ Sink = Multi(nil)

func (m Multi) Publish(key string, value any) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(key, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes every update to a structured logger.
type LogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (s LogSink) Publish(key string, value any) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(context.Background(), s.Level, "[OUTPUT] value", "key", key, "value", value)
	return nil
}
