// Package widget is the terminal surface of the session: connectivity
// icon, action button, status log, diagnostics table and the
// configuration menu.
package widget

import (
	"strconv"
	"strings"

	"github.com/metapages/metaframe-bluetooth/internal/session"
)

// Action is what pressing the button does.
type Action int

const (
	ActionNone Action = iota
	ActionScan
	ActionReset
)

// Button is the single action affordance shown for a state.
type Button struct {
	Label   string
	Enabled bool
	Hint    string
	Action  Action
}

// ButtonFor maps a state and the configured service to the button.
func ButtonFor(state session.State, service string) Button {
	switch state {
	case session.Begin:
		if !session.ValidService(service) {
			return Button{Label: "Scan", Hint: "configure a service UUID to scan"}
		}
		return Button{Label: "Scan", Enabled: true, Action: ActionScan}
	case session.Scanning, session.Connecting:
		return Button{Label: "Scan", Enabled: true, Action: ActionScan, Hint: "press again to restart"}
	case session.ChoosingService, session.GettingService, session.GettingCharacteristics, session.FinishedSuccess:
		return Button{Label: "Disconnect", Enabled: true, Action: ActionReset}
	case session.FinishedError:
		return Button{Label: "Reset", Enabled: true, Action: ActionReset}
	}
	return Button{Label: "Scan"}
}

// OptionType is the kind of value a configuration option holds.
type OptionType string

const (
	OptionString  OptionType = "string"
	OptionBoolean OptionType = "boolean"
)

// Option names.
const (
	OptionService     = "service"
	OptionDiagnostics = "debug"
	aliasPrefix       = "alias:"
)

// Option is one entry of the configuration menu.
type Option struct {
	Name  string
	Label string
	Type  OptionType
	Value string
	// Characteristic is set for alias options.
	Characteristic string
}

// Options lists the configuration menu for snap: the service, the
// diagnostics flag and one alias per known characteristic.
func Options(snap session.Snapshot) []Option {
	opts := []Option{
		{Name: OptionService, Label: "Service UUID", Type: OptionString, Value: snap.Config.Service},
		{Name: OptionDiagnostics, Label: "Diagnostics", Type: OptionBoolean, Value: strconv.FormatBool(snap.Config.Diagnostics)},
	}
	for _, id := range snap.Characteristics {
		opts = append(opts, Option{
			Name:           aliasPrefix + id,
			Label:          "Alias for " + id,
			Type:           OptionString,
			Value:          snap.Config.Aliases[id],
			Characteristic: id,
		})
	}
	return opts
}

// Apply returns cfg with opt set to value. An empty alias removes it.
func Apply(cfg session.Config, opt Option, value string) session.Config {
	cfg = cfg.Clone()
	value = strings.TrimSpace(value)
	switch {
	case opt.Name == OptionService:
		cfg.Service = value
	case opt.Name == OptionDiagnostics:
		cfg.Diagnostics, _ = strconv.ParseBool(value)
	case opt.Characteristic != "":
		if value == "" {
			delete(cfg.Aliases, opt.Characteristic)
			break
		}
		if cfg.Aliases == nil {
			cfg.Aliases = make(map[string]string)
		}
		cfg.Aliases[opt.Characteristic] = value
	}
	return cfg
}
