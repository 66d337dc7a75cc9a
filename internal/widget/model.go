package widget

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/metapages/metaframe-bluetooth/internal/payload"
	"github.com/metapages/metaframe-bluetooth/internal/session"
)

// Controller is the part of the session machine the widget drives.
type Controller interface {
	Scan(ctx context.Context) error
	Reset()
	SetConfig(cfg session.Config)
	Snapshot() session.Snapshot
}

// RefreshMsg asks the model to re-read the snapshot. Send it from the
// machine's change hook via tea.Program.Send.
type RefreshMsg struct{}

// RefreshHook returns a change hook that refreshes the model running in p.
// The send happens on its own goroutine: the hook also fires from inside
// Update (Reset, SetConfig), where a direct Send would block the event loop
// it is waiting on.
func RefreshHook(p *tea.Program) func() {
	return func() {
		go p.Send(RefreshMsg{})
	}
}

type scanDoneMsg struct{ err error }

// Model is the bubbletea model of the widget.
type Model struct {
	ctx  context.Context
	ctrl Controller
	snap session.Snapshot

	menu    bool
	cursor  int
	editing bool
	edit    Option // option being edited; the menu may change underneath
	input   []rune
}

// New creates a model. ctx bounds scans started from the widget.
func New(ctx context.Context, ctrl Controller) Model {
	return Model{ctx: ctx, ctrl: ctrl, snap: ctrl.Snapshot()}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case RefreshMsg, scanDoneMsg:
		m.snap = m.ctrl.Snapshot()
		m.clampCursor()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch {
		case m.editing:
			return m.updateEditing(msg)
		case m.menu:
			return m.updateMenu(msg)
		default:
			return m.updateMain(msg)
		}
	}
	return m, nil
}

func (m Model) updateMain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "enter", " ":
		return m.press()
	case "m":
		m.menu = true
		m.cursor = 0
	}
	return m, nil
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	opts := Options(m.snap)
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "m":
		m.menu = false
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(opts)-1 {
			m.cursor++
		}
	case "enter", " ":
		opt := opts[m.cursor]
		if opt.Type == OptionBoolean {
			on, _ := strconv.ParseBool(opt.Value)
			m.apply(opt, strconv.FormatBool(!on))
			return m, nil
		}
		m.editing = true
		m.edit = opt
		m.input = []rune(opt.Value)
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.editing = false
		m.input = nil
	case tea.KeyEnter:
		m.apply(m.edit, string(m.input))
		m.editing = false
		m.input = nil
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
	}
	return m, nil
}

func (m *Model) apply(opt Option, value string) {
	m.ctrl.SetConfig(Apply(m.snap.Config, opt, value))
	m.snap = m.ctrl.Snapshot()
	m.clampCursor()
}

func (m Model) press() (tea.Model, tea.Cmd) {
	b := ButtonFor(m.snap.State, m.snap.Config.Service)
	if !b.Enabled {
		return m, nil
	}
	switch b.Action {
	case ActionScan:
		ctx, ctrl := m.ctx, m.ctrl
		return m, func() tea.Msg {
			return scanDoneMsg{err: ctrl.Scan(ctx)}
		}
	case ActionReset:
		m.ctrl.Reset()
		m.snap = m.ctrl.Snapshot()
		m.clampCursor()
	}
	return m, nil
}

// clampCursor keeps the menu cursor on an option after the characteristic
// set shrinks.
func (m *Model) clampCursor() {
	if n := len(Options(m.snap)); m.cursor >= n {
		m.cursor = n - 1
	}
}

// Icon returns the connectivity glyph for a state.
func Icon(state session.State) string {
	switch {
	case state == session.FinishedSuccess:
		return "◉"
	case state == session.FinishedError:
		return "✖"
	case state != session.Begin:
		return "◌"
	}
	return "○"
}

var severityTags = map[session.Severity]string{
	session.SeverityInfo:    "info ",
	session.SeverityWarning: "warn ",
	session.SeverityError:   "error",
	session.SeveritySuccess: "ok   ",
}

func (m Model) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s  metaframe-bluetooth  (%s)\n", Icon(m.snap.State), m.snap.State)
	if d := m.snap.Device; d.Address != "" {
		fmt.Fprintf(&b, "   device: %s %s\n", d.Name, d.Address)
	}
	b.WriteString("\n")

	btn := ButtonFor(m.snap.State, m.snap.Config.Service)
	if btn.Enabled {
		fmt.Fprintf(&b, "  [ %s ]", btn.Label)
	} else {
		fmt.Fprintf(&b, "  ( %s )", btn.Label)
	}
	if btn.Hint != "" {
		fmt.Fprintf(&b, "  %s", btn.Hint)
	}
	b.WriteString("\n\n")

	for _, s := range m.snap.Status {
		fmt.Fprintf(&b, "  %s  ", severityTags[s.Severity])
		if s.Title != "" {
			fmt.Fprintf(&b, "%s: ", s.Title)
		}
		b.WriteString(s.Message)
		b.WriteString("\n")
	}

	if m.snap.Config.Diagnostics {
		b.WriteString("\n  Diagnostics\n")
		keys := make([]string, 0, len(m.snap.Outputs))
		for k := range m.snap.Outputs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "    %-38s %s\n", k, payload.Format(m.snap.Outputs[k]))
		}
	}

	if m.menu {
		b.WriteString("\n  Configuration\n")
		for i, opt := range Options(m.snap) {
			cursor := " "
			if i == m.cursor {
				cursor = ">"
			}
			fmt.Fprintf(&b, "  %s %-44s %s\n", cursor, opt.Label, opt.Value)
		}
		if m.editing {
			fmt.Fprintf(&b, "\n  %s: %s_\n", m.edit.Label, string(m.input))
		}
		b.WriteString("\n  ↑/↓ move  enter edit/toggle  esc close  q quit\n")
	} else {
		b.WriteString("\n  enter press  m menu  q quit\n")
	}
	return b.String()
}
