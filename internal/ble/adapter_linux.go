package ble

import "tinygo.org/x/bluetooth"

// platformAdapter picks a BlueZ controller by id, defaulting to hci0.
func platformAdapter(id string) *bluetooth.Adapter {
	if id != "" {
		return bluetooth.NewAdapter(id)
	}
	return bluetooth.DefaultAdapter
}
