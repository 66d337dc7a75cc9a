package output

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"testing"
)

type recordSink struct {
	keys   []string
	values []any
	err    error
}

func (s *recordSink) Publish(key string, value any) error {
	s.keys = append(s.keys, key)
	s.values = append(s.values, value)
	return s.err
}

func TestKey(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		aliases map[string]string
		want    string
	}{
		{"nil aliases", "a", nil, "a"},
		{"no entry", "a", map[string]string{"b": "x"}, "a"},
		{"alias", "a", map[string]string{"a": "x"}, "x"},
		{"empty alias", "a", map[string]string{"a": ""}, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.id, tt.aliases); got != tt.want {
				t.Errorf("Key(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestPublisherPublish(t *testing.T) {
	sink := &recordSink{}
	p := NewPublisher(sink)

	key, err := p.Publish("a", map[string]string{"a": "x"}, true)
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if key != "x" {
		t.Errorf("key = %q, want %q", key, "x")
	}
	if _, err := p.Publish("b", nil, []float32{1.5}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if want := []string{"x", "b"}; !reflect.DeepEqual(sink.keys, want) {
		t.Errorf("sink keys = %v, want %v", sink.keys, want)
	}
	if len(p.Latest()) != 0 {
		t.Errorf("Publish should not touch the snapshot, got %v", p.Latest())
	}
}

func TestPublisherPublishReturnsSinkError(t *testing.T) {
	p := NewPublisher(&recordSink{err: errors.New("down")})

	key, err := p.Publish("a", nil, "AQID")
	if err == nil {
		t.Fatal("Publish() should return the sink error")
	}
	if key != "a" {
		t.Errorf("key = %q, want a", key)
	}
}

func TestPublisherStoreAndClear(t *testing.T) {
	p := NewPublisher(&recordSink{})

	p.Store("b", []float32{1.5})
	p.Store("b", []float32{2})
	if got := p.Latest(); !reflect.DeepEqual(got, map[string]any{"b": []float32{2}}) {
		t.Errorf("Latest() = %v", got)
	}

	p.Clear()
	if got := p.Latest(); len(got) != 0 {
		t.Errorf("Latest() after Clear = %v, want empty", got)
	}
}

func TestPublisherLatestIsACopy(t *testing.T) {
	p := NewPublisher(&recordSink{})
	p.Store("a", true)

	latest := p.Latest()
	latest["a"] = false
	if p.Latest()["a"] != true {
		t.Error("mutating Latest() result changed the snapshot")
	}
}

func TestNewPublisherPanicsOnNilSink(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewPublisher(nil) should panic")
		}
	}()
	NewPublisher(nil)
}

func TestMulti(t *testing.T) {
	good := &recordSink{}
	bad := &recordSink{err: errors.New("bad sink")}
	after := &recordSink{}

	err := Multi{good, bad, after}.Publish("k", 1)
	if err == nil || !strings.Contains(err.Error(), "bad sink") {
		t.Errorf("Publish() error = %v, want bad sink", err)
	}
	if len(good.keys) != 1 || len(after.keys) != 1 {
		t.Error("every sink should receive the update")
	}
}

func TestSinkFunc(t *testing.T) {
	var got string
	s := SinkFunc(func(key string, _ any) error {
		got = key
		return nil
	})
	if err := s.Publish("k", nil); err != nil || got != "k" {
		t.Errorf("SinkFunc.Publish: got %q, err %v", got, err)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil)), Level: slog.LevelInfo}

	if err := s.Publish("heart_rate", []float32{72}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "[OUTPUT]") || !strings.Contains(out, "key=heart_rate") {
		t.Errorf("log output = %q", out)
	}
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"metaframe/bluetooth", "a", "metaframe/bluetooth/a"},
		{"metaframe/bluetooth/", "a", "metaframe/bluetooth/a"},
		{"", "a", "a"},
	}
	for _, tt := range tests {
		if got := Topic(tt.prefix, tt.key); got != tt.want {
			t.Errorf("Topic(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
}

func TestEncodeUpdate(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
		want  string
	}{
		{"bool", "a", true, `{"a":true}`},
		{"floats", "a", []float32{1, -2.5}, `{"a":[1,-2.5]}`},
		{"string", "x", "AQID", `{"x":"AQID"}`},
		{"nil", "a", nil, `{"a":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeUpdate(tt.key, tt.value)
			if err != nil {
				t.Fatalf("EncodeUpdate() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeUpdate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeUpdateNonFinite(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nan in slice", []float32{1, nan}, `{"a":[1,null]}`},
		{"infinities", []float32{inf, -inf, 2}, `{"a":[null,null,2]}`},
		{"scalar nan", nan, `{"a":null}`},
		{"float64 inf", math.Inf(-1), `{"a":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeUpdate("a", tt.value)
			if err != nil {
				t.Fatalf("EncodeUpdate() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeUpdate() = %s, want %s", got, tt.want)
			}
		})
	}
}
