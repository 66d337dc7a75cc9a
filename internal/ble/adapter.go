// Package ble abstracts the host Bluetooth Low Energy adapter as a GATT
// client: device request, connect, primary service resolution,
// characteristic enumeration and notifications.
package ble

import (
	"context"
	"errors"
)

// ErrNoDevice is returned by RequestDevice when no matching peripheral was
// found before the request ended.
var ErrNoDevice = errors.New("ble: no device selected")

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Characteristic represents a BLE GATT characteristic on a connected peripheral.
type Characteristic interface {
	// UUID returns the characteristic identifier in canonical string form.
	UUID() string
	// StartNotifications enables value-change notifications and delivers
	// every payload to callback.
	StartNotifications(ctx context.Context, callback func(data []byte)) error
	// StopNotifications disables notifications started earlier.
	StopNotifications() error
}

// Service represents a resolved primary service.
type Service interface {
	UUID() string
	// Characteristics enumerates every characteristic of the service.
	Characteristics(ctx context.Context) ([]Characteristic, error)
}

// Server represents a connected GATT server.
type Server interface {
	// PrimaryService resolves the primary service with the given UUID.
	PrimaryService(ctx context.Context, uuid string) (Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter. It fails when the host has no
	// usable Bluetooth stack.
	Enable() error
	// RequestDevice picks a peripheral advertising serviceUUID, or any
	// peripheral when serviceUUID is empty. Blocks until a device is found
	// or ctx is done.
	RequestDevice(ctx context.Context, serviceUUID string) (Device, error)
	// Connect establishes a GATT connection to the device.
	Connect(ctx context.Context, device Device) (Server, error)
}
