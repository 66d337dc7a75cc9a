package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth. On macOS device addresses are
// CoreBluetooth UUIDs rather than MAC addresses; Device.Address carries
// whichever form the platform reports.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	id      string

	// mu protects connections.
	mu          sync.Mutex
	connections map[string]*tinyGoServer // keyed by device address
}

// NewTinyGoAdapter creates an adapter for the given controller id (e.g.
// "hci0"). An empty id selects the platform default adapter.
func NewTinyGoAdapter(id string) *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     platformAdapter(id),
		id:          id,
		connections: make(map[string]*tinyGoServer),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter %q: %w", a.id, err)
	}

	// Drop bookkeeping for peripherals that go away on their own.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		_, ok := a.connections[addr]
		delete(a.connections, addr)
		a.mu.Unlock()
		if ok {
			slog.Warn("[BLE] peripheral disconnected", "address", addr)
		}
	})

	return nil
}

func (a *TinyGoAdapter) RequestDevice(ctx context.Context, serviceUUID string) (Device, error) {
	var filter bluetooth.UUID
	if serviceUUID != "" {
		uuid, err := ParseUUID(serviceUUID)
		if err != nil {
			return Device{}, err
		}
		filter = uuid
	}

	if err := ctx.Err(); err != nil {
		return Device{}, err
	}

	stopScan := func() {
		if err := a.adapter.StopScan(); err != nil && !strings.Contains(err.Error(), "no scan in progress") {
			slog.Warn("[BLE] failed to stop scan", "error", err)
		}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-scanCtx.Done()
		stopScan()
	}()

	var (
		mu     sync.Mutex
		found  *Device
		anyDev = serviceUUID == ""
	)
	slog.Debug("[BLE] scanning", "service", serviceUUID)
	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !anyDev && !result.HasServiceUUID(filter) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if found != nil {
			return
		}
		found = &Device{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    int(result.RSSI),
		}
		cancel()
	})

	mu.Lock()
	defer mu.Unlock()
	if found != nil {
		return *found, nil
	}
	if err != nil && ctx.Err() == nil {
		return Device{}, fmt.Errorf("ble: scan: %w", err)
	}
	if ctx.Err() != nil {
		return Device{}, fmt.Errorf("%w: %w", ErrNoDevice, ctx.Err())
	}
	return Device{}, ErrNoDevice
}

func (a *TinyGoAdapter) Connect(ctx context.Context, device Device) (Server, error) {
	var addr bluetooth.Address
	addr.Set(device.Address)

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	// tinygo/bluetooth's Connect blocks with its own timeout; wrap it to
	// also respect ctx.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		d, err := a.adapter.Connect(addr, params)
		ch <- connectResult{d, err}
	}()

	select {
	case <-ctx.Done():
		// A late success is disconnected so the peripheral is not left
		// attached to nothing.
		go func() {
			if result := <-ch; result.err == nil {
				_ = result.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", device.Address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", device.Address, result.err)
		}
		srv := &tinyGoServer{adapter: a, address: device.Address, device: &result.device}

		a.mu.Lock()
		a.connections[device.Address] = srv
		a.mu.Unlock()

		return srv, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoServer struct {
	adapter *TinyGoAdapter
	address string
	device  *bluetooth.Device
}

func (s *tinyGoServer) PrimaryService(ctx context.Context, uuid string) (Service, error) {
	svcUUID, err := ParseUUID(uuid)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	svcs, err := s.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", uuid)
	}
	return &tinyGoService{svc: svcs[0]}, nil
}

func (s *tinyGoServer) Disconnect() error {
	s.adapter.mu.Lock()
	delete(s.adapter.connections, s.address)
	s.adapter.mu.Unlock()
	return s.device.Disconnect()
}

type tinyGoService struct {
	svc bluetooth.DeviceService
}

func (s *tinyGoService) UUID() string {
	return s.svc.UUID().String()
}

func (s *tinyGoService) Characteristics(ctx context.Context) ([]Characteristic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chars, err := s.svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	out := make([]Characteristic, 0, len(chars))
	for i := range chars {
		out = append(out, &tinyGoCharacteristic{char: chars[i]})
	}
	return out, nil
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) UUID() string {
	return c.char.UUID().String()
}

func (c *tinyGoCharacteristic) StartNotifications(ctx context.Context, cb func([]byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.char.EnableNotifications(func(buf []byte) {
		// The backend may reuse buf after the callback returns.
		cb(append([]byte(nil), buf...))
	})
}

func (c *tinyGoCharacteristic) StopNotifications() error {
	return c.char.EnableNotifications(nil)
}
