package ble_test

import (
	"testing"

	"github.com/metapages/metaframe-bluetooth/internal/ble"
	"github.com/metapages/metaframe-bluetooth/internal/ble/blefake"
)

func TestFakeAdapterImplementsInterface(t *testing.T) {
	var _ ble.Adapter = (*blefake.Adapter)(nil)
}

func TestFakeServerImplementsInterface(t *testing.T) {
	var _ ble.Server = (*blefake.Server)(nil)
}

func TestFakeCharacteristicNotify(t *testing.T) {
	c := blefake.NewCharacteristic("2a37")

	var got []byte
	c.Notify([]byte{1}) // no subscriber yet
	if err := c.StartNotifications(t.Context(), func(b []byte) { got = b }); err != nil {
		t.Fatalf("StartNotifications() error = %v", err)
	}
	c.Notify([]byte{2})
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("callback got %v, want [2]", got)
	}

	if err := c.StopNotifications(); err != nil {
		t.Fatalf("StopNotifications() error = %v", err)
	}
	if c.Subscribed() {
		t.Error("Subscribed() should be false after StopNotifications")
	}
	if c.Stops() != 1 {
		t.Errorf("Stops() = %d, want 1", c.Stops())
	}
}

func TestTinyGoAdapterImplementsInterface(t *testing.T) {
	var _ ble.Adapter = (*ble.TinyGoAdapter)(nil)
}
