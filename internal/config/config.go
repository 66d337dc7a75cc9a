package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Service is the GATT service UUID to discover and subscribe to.
	Service     string            `yaml:"service"`
	Diagnostics bool              `yaml:"diagnostics"`
	Aliases     map[string]string `yaml:"aliases"` // characteristic UUID -> output key

	BLE    BLEConfig    `yaml:"ble"`
	Output OutputConfig `yaml:"output"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" or "json"
	LogFile   string `yaml:"log_file"`
}

// BLEConfig holds adapter settings.
type BLEConfig struct {
	Adapter        string        `yaml:"adapter"` // e.g. "hci0"; linux only
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// OutputConfig selects where decoded values are published.
type OutputConfig struct {
	Log       bool            `yaml:"log"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// MQTTConfig holds broker settings for the MQTT sink.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Port        int    `yaml:"port"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// WebSocketConfig holds the listener that host pages connect to.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "metaframe-bluetooth")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultLogFile returns where logs go while the terminal UI owns the screen.
func DefaultLogFile() string {
	return filepath.Join(DefaultConfigDir(), "metaframe-bluetooth.log")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Aliases: map[string]string{},
		BLE: BLEConfig{
			ScanTimeout:    30 * time.Second,
			ConnectTimeout: 15 * time.Second,
		},
		Output: OutputConfig{
			Log: true,
			MQTT: MQTTConfig{
				Broker:      "localhost",
				Port:        1883,
				ClientID:    "metaframe-bluetooth",
				TopicPrefix: "metaframe/bluetooth",
			},
			WebSocket: WebSocketConfig{
				Addr: "127.0.0.1:8765",
				Path: "/ws",
			},
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in log_file is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Aliases = NormalizeAliases(cfg.Aliases)

	cfg.LogFile = expandTilde(cfg.LogFile)

	return cfg, nil
}

// NormalizeAliases lowercases characteristic UUID keys, the form BLE stacks
// report them in. Never returns nil.
func NormalizeAliases(aliases map[string]string) map[string]string {
	out := make(map[string]string, len(aliases))
	for id, alias := range aliases {
		out[strings.ToLower(strings.TrimSpace(id))] = alias
	}
	return out
}

// defaultHeader is prepended to the file written by WriteDefault.
const defaultHeader = `# metaframe-bluetooth configuration
# service: GATT service UUID (128-bit, or 16/32-bit short hex such as "180d")
# aliases: characteristic UUID -> output key published to the host
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. Returns the path written, or "" if a file was already
// present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks the config for invalid values. An empty service is
// allowed; it only disables scanning from the terminal UI.
func (c *Config) Validate() error {
	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}

	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}

	for id := range c.Aliases {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("aliases must not contain an empty characteristic id")
		}
	}

	if m := c.Output.MQTT; m.Enabled {
		if m.Broker == "" {
			return fmt.Errorf("output.mqtt.broker must not be empty")
		}
		if m.Port <= 0 || m.Port > 65535 {
			return fmt.Errorf("output.mqtt.port must be 1-65535, got %d", m.Port)
		}
		if m.QoS > 2 {
			return fmt.Errorf("output.mqtt.qos must be 0, 1, or 2, got %d", m.QoS)
		}
	}

	if ws := c.Output.WebSocket; ws.Enabled {
		if ws.Addr == "" {
			return fmt.Errorf("output.websocket.addr must not be empty")
		}
		if !strings.HasPrefix(ws.Path, "/") {
			return fmt.Errorf("output.websocket.path must start with \"/\", got %q", ws.Path)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
