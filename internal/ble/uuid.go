package ble

import (
	"fmt"
	"strconv"
	"strings"

	"tinygo.org/x/bluetooth"
)

// ParseUUID parses a full 128-bit UUID or a 16/32-bit short UUID given in
// hex ("180d", "0x180D", "0000180d"). Short forms expand onto the Bluetooth
// base UUID.
func ParseUUID(s string) (bluetooth.UUID, error) {
	short := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	switch len(short) {
	case 4:
		v, err := strconv.ParseUint(short, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("ble: parse UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	case 8:
		v, err := strconv.ParseUint(short, 16, 32)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("ble: parse UUID %q: %w", s, err)
		}
		return bluetooth.ParseUUID(fmt.Sprintf("%08x-0000-1000-8000-00805f9b34fb", v))
	}
	uuid, err := bluetooth.ParseUUID(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("ble: parse UUID %q: %w", s, err)
	}
	return uuid, nil
}
