package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metapages/metaframe-bluetooth/internal/config"
)

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()

	New(&buf, cfg, false).Info("[SESSION] connected", "device", "AA:BB")

	out := buf.String()
	if !strings.Contains(out, "[SESSION] connected") || !strings.Contains(out, "device=AA:BB") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("output should not contain ANSI escapes when color is off")
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogFormat = "json"

	New(&buf, cfg, false).Info("hello", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "hello" || rec["k"] != "v" || rec["app"] != appName {
		t.Errorf("record = %v", rec)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogLevel = "warn"

	logger := New(&buf, cfg, false)
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestOpenLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.LogFile = filepath.Join(t.TempDir(), "logs", "app.log")

	logger, closeFn, err := Open(cfg, true)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	logger.Info("to file")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q", data)
	}
}

func TestOpenTUIDefaultsToFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	_, closeFn, err := Open(config.Default(), true)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer closeFn()

	if _, err := os.Stat(config.DefaultLogFile()); err != nil {
		t.Errorf("default log file not created: %v", err)
	}
}
