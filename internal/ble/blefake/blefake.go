// Package blefake provides in-memory implementations of the ble interfaces
// for tests. Every fake is safe for concurrent use.
package blefake

import (
	"context"
	"fmt"
	"sync"

	"github.com/metapages/metaframe-bluetooth/internal/ble"
)

// Characteristic simulates a notifiable characteristic.
type Characteristic struct {
	ID string
	// StartErr is returned by StartNotifications.
	StartErr error
	// Entered, if non-nil, receives a value each time StartNotifications is
	// entered, before any blocking on Release.
	Entered chan struct{}
	// Release, if non-nil, blocks StartNotifications until it is closed or
	// the context ends.
	Release chan struct{}
	// Hold, if non-nil, blocks StartNotifications until it is closed,
	// ignoring the context the way some platform stacks do.
	Hold chan struct{}

	mu       sync.Mutex
	callback func([]byte)
	starts   int
	stops    int
}

// NewCharacteristic returns a characteristic that subscribes immediately.
func NewCharacteristic(id string) *Characteristic {
	return &Characteristic{ID: id}
}

func (c *Characteristic) UUID() string { return c.ID }

func (c *Characteristic) StartNotifications(ctx context.Context, cb func([]byte)) error {
	if c.Entered != nil {
		c.Entered <- struct{}{}
	}
	if c.Release != nil {
		select {
		case <-c.Release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.Hold != nil {
		<-c.Hold
	}
	if c.StartErr != nil {
		return c.StartErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	c.starts++
	return nil
}

func (c *Characteristic) StopNotifications() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = nil
	c.stops++
	return nil
}

// Notify sends a notification to the subscriber, if any.
func (c *Characteristic) Notify(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Subscribed reports whether notifications are currently enabled.
func (c *Characteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback != nil
}

// Stops returns how many times StopNotifications was called.
func (c *Characteristic) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// Service simulates a primary service.
type Service struct {
	ID    string
	Chars []*Characteristic
	// Err is returned by Characteristics.
	Err error
}

func (s *Service) UUID() string { return s.ID }

func (s *Service) Characteristics(_ context.Context) ([]ble.Characteristic, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]ble.Characteristic, 0, len(s.Chars))
	for _, c := range s.Chars {
		out = append(out, c)
	}
	return out, nil
}

// Server simulates a connected GATT server.
type Server struct {
	Services []*Service
	// ResolveErr is returned by PrimaryService.
	ResolveErr error

	mu           sync.Mutex
	disconnected int
}

// NewServer returns a server exposing the given services.
func NewServer(services ...*Service) *Server {
	return &Server{Services: services}
}

func (s *Server) PrimaryService(_ context.Context, uuid string) (ble.Service, error) {
	if s.ResolveErr != nil {
		return nil, s.ResolveErr
	}
	for _, svc := range s.Services {
		if svc.ID == uuid {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("blefake: service %s not found", uuid)
}

func (s *Server) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected++
	return nil
}

// Disconnects returns how many times Disconnect was called.
func (s *Server) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// Adapter simulates the BLE adapter.
type Adapter struct {
	EnableErr  error
	RequestErr error
	ConnectErr error
	Device     ble.Device
	Server     *Server
	// ConnectRelease, if non-nil, blocks Connect until closed, ignoring
	// the context the way some platform stacks do.
	ConnectRelease chan struct{}
	// ConnectEntered, if non-nil, receives a value when Connect is entered.
	ConnectEntered chan struct{}

	mu       sync.Mutex
	requests []string
	connects int
}

// NewAdapter returns an adapter that picks device and connects to server.
func NewAdapter(device ble.Device, server *Server) *Adapter {
	return &Adapter{Device: device, Server: server}
}

func (a *Adapter) Enable() error { return a.EnableErr }

func (a *Adapter) RequestDevice(_ context.Context, serviceUUID string) (ble.Device, error) {
	a.mu.Lock()
	a.requests = append(a.requests, serviceUUID)
	a.mu.Unlock()
	if a.RequestErr != nil {
		return ble.Device{}, a.RequestErr
	}
	return a.Device, nil
}

func (a *Adapter) Connect(_ context.Context, _ ble.Device) (ble.Server, error) {
	a.mu.Lock()
	a.connects++
	a.mu.Unlock()
	if a.ConnectEntered != nil {
		a.ConnectEntered <- struct{}{}
	}
	if a.ConnectRelease != nil {
		<-a.ConnectRelease
	}
	if a.ConnectErr != nil {
		return nil, a.ConnectErr
	}
	return a.Server, nil
}

// Requests returns the service filters passed to RequestDevice, in order.
func (a *Adapter) Requests() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.requests...)
}

// Connects returns how many times Connect was called.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// Compile-time interface checks.
var (
	_ ble.Adapter        = (*Adapter)(nil)
	_ ble.Server         = (*Server)(nil)
	_ ble.Service        = (*Service)(nil)
	_ ble.Characteristic = (*Characteristic)(nil)
)
