package ble

import "testing"

func TestParseUUID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "180d", want: "0000180d-0000-1000-8000-00805f9b34fb"},
		{in: "0x180D", want: "0000180d-0000-1000-8000-00805f9b34fb"},
		{in: "0000180d", want: "0000180d-0000-1000-8000-00805f9b34fb"},
		{in: "19b10000-e8f2-537e-4f6c-d104768a1214", want: "19b10000-e8f2-537e-4f6c-d104768a1214"},
		{in: " 19B10000-E8F2-537E-4F6C-D104768A1214 ", want: "19b10000-e8f2-537e-4f6c-d104768a1214"},
		{in: "zzzz", wantErr: true},
		{in: "heart_rate", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseUUID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseUUID(%q) should fail, got %s", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUUID(%q) error = %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseUUID(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
