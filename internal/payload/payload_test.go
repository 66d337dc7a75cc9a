package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"math"
	"reflect"
	"testing"
)

func TestDecodeNil(t *testing.T) {
	if got := Decode(nil); got != nil {
		t.Errorf("Decode(nil) = %#v, want nil", got)
	}
}

func TestDecodeSingleByte(t *testing.T) {
	for b := 0; b < 256; b++ {
		got := Decode([]byte{byte(b)})
		v, ok := got.(bool)
		if !ok {
			t.Fatalf("Decode([%d]) = %T, want bool", b, got)
		}
		if v != (b == 1) {
			t.Errorf("Decode([%d]) = %v, want %v", b, v, b == 1)
		}
	}
}

func TestDecodeFloats(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []float32
	}{
		{name: "one", data: []byte{0, 0, 128, 63}, want: []float32{1.0}},
		{name: "negative", data: []byte{0, 0, 0, 192}, want: []float32{-2.0}},
		{name: "two", data: []byte{0, 0, 128, 63, 0, 0, 64, 64}, want: []float32{1.0, 3.0}},
		{name: "zero", data: []byte{0, 0, 0, 0}, want: []float32{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.data)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode(%v) = %#v, want %#v", tt.data, got, tt.want)
			}
		})
	}
}

func TestDecodeFloatsLength(t *testing.T) {
	for n := 1; n <= 16; n++ {
		data := make([]byte, 4*n)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(float32(i)+0.5))
		}
		got, ok := Decode(data).([]float32)
		if !ok {
			t.Fatalf("Decode(%d bytes) = %T, want []float32", len(data), Decode(data))
		}
		if len(got) != n {
			t.Fatalf("Decode(%d bytes) has %d values, want %d", len(data), len(got), n)
		}
		for i, v := range got {
			if v != float32(i)+0.5 {
				t.Errorf("value %d = %v, want %v", i, v, float32(i)+0.5)
			}
		}
	}
}

func TestDecodeBase64(t *testing.T) {
	tests := [][]byte{
		{},
		{1, 2},
		{1, 2, 3},
		{1, 2, 3, 4, 5},
		{0xff, 0xfe, 0xfd, 0xfc, 0xfb, 0xfa, 0xf9},
		bytes.Repeat([]byte{7}, 13),
	}

	for _, data := range tests {
		got, ok := Decode(data).(string)
		if !ok {
			t.Fatalf("Decode(%v) = %T, want string", data, Decode(data))
		}
		if want := base64.StdEncoding.EncodeToString(data); got != want {
			t.Errorf("Decode(%v) = %q, want %q", data, got, want)
		}
		back, err := base64.StdEncoding.DecodeString(got)
		if err != nil {
			t.Fatalf("base64 decode of %q: %v", got, err)
		}
		if !bytes.Equal(back, data) {
			t.Errorf("round trip = %v, want %v", back, data)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: "undefined"},
		{in: true, want: "true"},
		{in: false, want: "false"},
		{in: "AQID", want: "AQID"},
		{in: []float32{1, 2.5}, want: "[1, 2.5]"},
		{in: []float32{}, want: "[]"},
		{in: []float64{0.25}, want: "[0.25]"},
		{in: []any{true, 1.5}, want: "[true, 1.5]"},
		{in: 42, want: "42"},
	}

	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
