package session

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// State is the connection lifecycle state.
type State int

const (
	Begin State = iota
	Scanning
	Connecting
	ChoosingService
	GettingService
	GettingCharacteristics
	FinishedSuccess
	FinishedError
)

var stateNames = [...]string{
	Begin:                  "Begin",
	Scanning:               "Scanning",
	Connecting:             "Connecting",
	ChoosingService:        "ChoosingService",
	GettingService:         "GettingService",
	GettingCharacteristics: "GettingCharacteristics",
	FinishedSuccess:        "FinishedSuccess",
	FinishedError:          "FinishedError",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Connected reports whether a GATT server handle is held in this state.
func (s State) Connected() bool {
	switch s {
	case ChoosingService, GettingService, GettingCharacteristics, FinishedSuccess:
		return true
	}
	return false
}

// Severity tags a status entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
)

// Status is one entry of the status log.
type Status struct {
	Severity Severity
	Title    string
	Message  string
}

// Config is the externally owned session configuration.
type Config struct {
	Service     string            `json:"service" yaml:"service"`
	Diagnostics bool              `json:"debug" yaml:"diagnostics"`
	Aliases     map[string]string `json:"aliases" yaml:"aliases"`
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	c.Aliases = maps.Clone(c.Aliases)
	return c
}

// Update applies a host configuration message to c. Fields absent from
// raw keep their value; an aliases object replaces the whole map.
func (c Config) Update(raw []byte) (Config, error) {
	var msg struct {
		Service     *string           `json:"service"`
		Diagnostics *bool             `json:"debug"`
		Aliases     map[string]string `json:"aliases"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return c, fmt.Errorf("session: decode config: %w", err)
	}
	c = c.Clone()
	if msg.Service != nil {
		c.Service = strings.TrimSpace(*msg.Service)
	}
	if msg.Diagnostics != nil {
		c.Diagnostics = *msg.Diagnostics
	}
	if msg.Aliases != nil {
		c.Aliases = make(map[string]string, len(msg.Aliases))
		for id, alias := range msg.Aliases {
			c.Aliases[strings.ToLower(strings.TrimSpace(id))] = alias
		}
	}
	return c, nil
}

var shortUUID = regexp.MustCompile(`^(0x)?([0-9a-f]{4}|[0-9a-f]{8})$`)

// ValidService reports whether s is minimally usable as a service
// identifier: a 128-bit UUID or a 16/32-bit short UUID in hex.
func ValidService(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	if shortUUID.MatchString(s) {
		return true
	}
	// uuid.Parse also accepts urn and braced forms; only the canonical
	// 36-character form is meaningful to a BLE stack.
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
