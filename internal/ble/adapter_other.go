//go:build !linux

package ble

import (
	"log/slog"

	"tinygo.org/x/bluetooth"
)

// platformAdapter returns the only adapter CoreBluetooth and WinRT expose.
func platformAdapter(id string) *bluetooth.Adapter {
	if id != "" {
		slog.Warn("[BLE] adapter id is only honored on linux", "adapter", id)
	}
	return bluetooth.DefaultAdapter
}
