// Package session implements the BLE connection state machine: device
// request, connect, service resolution, characteristic enumeration and
// concurrent notification subscription, with teardown on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metapages/metaframe-bluetooth/internal/ble"
	"github.com/metapages/metaframe-bluetooth/internal/output"
	"github.com/metapages/metaframe-bluetooth/internal/payload"
)

// Error taxonomy. Every failure recorded in the status log wraps one of these.
var (
	ErrUnavailable  = errors.New("bluetooth unavailable")
	ErrDiscovery    = errors.New("device request failed")
	ErrConnection   = errors.New("connection failed")
	ErrResolution   = errors.New("service resolution failed")
	ErrSubscription = errors.New("subscription failed")

	// ErrSuperseded is returned by Scan when a reset or a newer scan
	// discarded the session it was driving.
	ErrSuperseded = errors.New("session superseded")
)

var errorTitles = map[error]string{
	ErrUnavailable:  "Bluetooth unavailable",
	ErrDiscovery:    "No device",
	ErrConnection:   "Connection failed",
	ErrResolution:   "Service not available",
	ErrSubscription: "Subscription failed",
}

// Options configures the machine.
type Options struct {
	Logger         *slog.Logger
	ScanTimeout    time.Duration // bound on the device request (default 30s)
	ConnectTimeout time.Duration // bound on GATT connect (default 15s)
}

// Snapshot is a consistent copy of the observable machine state.
type Snapshot struct {
	State           State
	Config          Config
	Device          ble.Device
	Status          []Status
	Characteristics []string // UUIDs, ascending
	Outputs         map[string]any
}

// Machine owns one BLE session at a time.
type Machine struct {
	adapter   ble.Adapter
	publisher *output.Publisher
	opts      Options
	logger    *slog.Logger

	mu        sync.Mutex
	cfg       Config
	state     State
	gen       uint64 // bumped whenever a session is discarded
	status    []Status
	device    ble.Device
	server    ble.Server
	service   ble.Service
	chars     []ble.Characteristic
	disposers []func()
	onChange  func()
}

// New creates a machine in state Begin. A nil adapter means the host has
// no Bluetooth capability; every Scan then fails with ErrUnavailable.
// Panics if publisher is nil (programmer error).
func New(adapter ble.Adapter, publisher *output.Publisher, cfg Config, opts Options) *Machine {
	if publisher == nil {
		panic("session: New called with nil publisher")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	m := &Machine{
		adapter:   adapter,
		publisher: publisher,
		opts:      opts,
		logger:    opts.Logger,
		cfg:       cfg.Clone(),
	}
	return m
}

// SetOnChange registers fn to be called after every observable change.
// fn runs without the machine lock held and may call Snapshot.
func (m *Machine) SetOnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns a copy of the current configuration.
func (m *Machine) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Clone()
}

// Snapshot returns a copy of the observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		State:           m.state,
		Config:          m.cfg.Clone(),
		Device:          m.device,
		Status:          append([]Status(nil), m.status...),
		Characteristics: make([]string, len(m.chars)),
	}
	for i, c := range m.chars {
		snap.Characteristics[i] = c.UUID()
	}
	m.mu.Unlock()
	snap.Outputs = m.publisher.Latest()
	return snap
}

// SetConfig replaces the configuration. A different service while a session
// is active resets the machine.
func (m *Machine) SetConfig(cfg Config) {
	cfg = cfg.Clone()

	m.mu.Lock()
	serviceChanged := strings.TrimSpace(cfg.Service) != strings.TrimSpace(m.cfg.Service)
	m.cfg = cfg
	var disposers []func()
	reset := serviceChanged && m.state != Begin
	if reset {
		disposers = m.resetLocked()
	}
	m.mu.Unlock()

	if reset {
		m.logger.Info("[SESSION] service changed, resetting", "service", cfg.Service)
		m.teardown(disposers)
	}
	m.changed()
}

// Reset discards the current session, whatever its state. Handles, the
// characteristic set and the status log are cleared before Reset returns;
// subscriptions and the connection are released on the way out.
func (m *Machine) Reset() {
	m.mu.Lock()
	disposers := m.resetLocked()
	m.mu.Unlock()

	m.teardown(disposers)
	m.changed()
}

// Scan starts a new session, discarding any current one, and drives it
// until it succeeds, fails, waits for a service to be configured, or is
// superseded. The returned error is also recorded in the status log.
func (m *Machine) Scan(ctx context.Context) error {
	// Discarding the session also aborts whatever step is in flight.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	disposers := m.resetLocked()
	gen := m.gen
	m.disposers = append(m.disposers, cancel)
	m.mu.Unlock()
	m.teardown(disposers)

	if m.adapter == nil {
		return m.fail(gen, ErrUnavailable, errors.New("this host has no Bluetooth adapter"))
	}
	if err := m.adapter.Enable(); err != nil {
		return m.fail(gen, ErrUnavailable, err)
	}

	if !m.commit(gen, func() {
		m.state = Scanning
		m.appendLocked(SeverityInfo, "", "Requesting device")
	}) {
		return ErrSuperseded
	}
	return m.dispatch(ctx, gen)
}

// dispatch runs the step owned by the state just committed, and keeps
// going while steps commit further transitions.
func (m *Machine) dispatch(ctx context.Context, gen uint64) error {
	for {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return ErrSuperseded
		}
		state := m.state
		m.mu.Unlock()

		var err error
		switch state {
		case Scanning:
			err = m.requestDevice(ctx, gen)
		case Connecting:
			err = m.connect(ctx, gen)
		case ChoosingService:
			var waiting bool
			waiting, err = m.chooseService(gen)
			if waiting {
				return nil
			}
		case GettingService:
			err = m.resolveService(ctx, gen)
		case GettingCharacteristics:
			err = m.subscribe(ctx, gen)
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (m *Machine) requestDevice(ctx context.Context, gen uint64) error {
	service := m.Config().Service

	rctx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	device, err := m.adapter.RequestDevice(rctx, service)
	cancel()
	if err != nil {
		return m.fail(gen, ErrDiscovery, err)
	}

	if !m.commit(gen, func() {
		m.device = device
		m.state = Connecting
		m.appendLocked(SeverityInfo, "", "Connecting to "+deviceLabel(device))
	}) {
		return ErrSuperseded
	}
	return nil
}

func (m *Machine) connect(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	device := m.device
	m.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	server, err := m.adapter.Connect(cctx, device)
	cancel()
	if err != nil {
		return m.fail(gen, ErrConnection, err)
	}

	disconnect := func() {
		if err := server.Disconnect(); err != nil {
			m.logger.Warn("[SESSION] disconnect failed", "device", device.Address, "error", err)
		}
	}
	if !m.commit(gen, func() {
		m.server = server
		m.disposers = append(m.disposers, disconnect)
		m.state = ChoosingService
		m.appendLocked(SeverityInfo, "", "Connected to "+deviceLabel(device))
	}) {
		disconnect()
		return ErrSuperseded
	}
	m.logger.Info("[SESSION] connected", "device", device.Address, "name", device.Name)
	return nil
}

// chooseService moves on to service resolution once a service is
// configured. It reports waiting when there is none yet.
func (m *Machine) chooseService(gen uint64) (waiting bool, err error) {
	var service string
	ok := m.commit(gen, func() {
		service = strings.TrimSpace(m.cfg.Service)
		if service == "" {
			m.appendLocked(SeverityWarning, "", "Connected; configure a service to continue")
			return
		}
		m.state = GettingService
		m.appendLocked(SeverityInfo, "", "Resolving service "+service)
	})
	if !ok {
		return false, ErrSuperseded
	}
	return service == "", nil
}

func (m *Machine) resolveService(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	server, service := m.server, strings.TrimSpace(m.cfg.Service)
	m.mu.Unlock()

	svc, err := server.PrimaryService(ctx, service)
	if err != nil {
		return m.fail(gen, ErrResolution, err)
	}
	if !m.commit(gen, func() {
		m.service = svc
		m.state = GettingCharacteristics
		m.appendLocked(SeverityInfo, "", "Enumerating characteristics")
	}) {
		return ErrSuperseded
	}
	return nil
}

func (m *Machine) subscribe(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	svc := m.service
	m.mu.Unlock()

	chars, err := svc.Characteristics(ctx)
	if err != nil {
		return m.fail(gen, ErrResolution, err)
	}
	sort.SliceStable(chars, func(i, j int) bool { return chars[i].UUID() < chars[j].UUID() })

	if !m.commit(gen, func() {
		m.chars = chars
		m.appendLocked(SeverityInfo, "", fmt.Sprintf("Subscribing to %d characteristics", len(chars)))
	}) {
		return ErrSuperseded
	}

	// All subscriptions start at once; starting them one after another
	// stalls on some Bluetooth stacks.
	var (
		startedMu sync.Mutex
		started   []ble.Characteristic
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chars {
		g.Go(func() error {
			if err := c.StartNotifications(gctx, m.listener(gen, c.UUID())); err != nil {
				return fmt.Errorf("%s: %w", c.UUID(), err)
			}
			startedMu.Lock()
			started = append(started, c)
			startedMu.Unlock()
			return nil
		})
	}
	err = g.Wait()

	release := func() {
		for _, c := range started {
			if err := c.StopNotifications(); err != nil {
				m.logger.Warn("[SESSION] stop notifications failed", "characteristic", c.UUID(), "error", err)
			}
		}
	}
	if err != nil {
		release()
		return m.fail(gen, ErrSubscription, err)
	}

	if !m.commit(gen, func() {
		m.disposers = append(m.disposers, release)
		m.state = FinishedSuccess
		m.status = []Status{{
			Severity: SeveritySuccess,
			Title:    "Connected",
			Message:  fmt.Sprintf("Receiving notifications from %d characteristics", len(chars)),
		}}
	}) {
		release()
		return ErrSuperseded
	}
	m.logger.Info("[SESSION] subscribed", "characteristics", len(chars))
	return nil
}

// listener returns the notification callback for one characteristic of
// session gen. Callbacks from discarded sessions are dropped; a payload
// that cannot be handled is logged and never affects the session.
func (m *Machine) listener(gen uint64, id string) func([]byte) {
	return func(data []byte) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("[SESSION] notification handler failed", "characteristic", id, "panic", r)
			}
		}()

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		aliases := m.cfg.Aliases
		m.mu.Unlock()

		value := payload.Decode(data)
		key, err := m.publisher.Publish(id, aliases, value)
		if err != nil {
			m.logger.Warn("[SESSION] publish failed", "key", key, "error", err)
		}

		// The snapshot write is checked again: a reset while the sink was
		// busy has already cleared it.
		m.mu.Lock()
		store := m.gen == gen && m.cfg.Diagnostics
		if store {
			m.publisher.Store(key, value)
		}
		m.mu.Unlock()
		if store {
			m.changed()
		}
	}
}

// commit applies fn under the lock if gen is still current.
func (m *Machine) commit(gen uint64, fn func()) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	from := m.state
	fn()
	to := m.state
	m.mu.Unlock()

	if from != to {
		m.logger.Debug("[SESSION] transition", "from", from, "to", to)
	}
	m.changed()
	return true
}

// fail records err in the status log, tears the session down and enters
// FinishedError, unless gen was already discarded.
func (m *Machine) fail(gen uint64, kind, err error) error {
	wrapped := fmt.Errorf("%w: %w", kind, err)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.logger.Debug("[SESSION] dropping stale failure", "error", wrapped)
		return ErrSuperseded
	}
	disposers := m.discardLocked()
	m.state = FinishedError
	m.appendLocked(SeverityError, errorTitles[kind], err.Error())
	m.mu.Unlock()

	m.logger.Warn("[SESSION] failed", "error", wrapped)
	m.teardown(disposers)
	m.changed()
	return wrapped
}

// resetLocked discards the session and returns to Begin with an empty
// status log. Caller must hold mu and run teardown on the result.
func (m *Machine) resetLocked() []func() {
	disposers := m.discardLocked()
	m.state = Begin
	m.status = nil
	return disposers
}

// discardLocked invalidates the current generation, drops every session
// handle and hands back the disposer stack. Caller must hold mu.
func (m *Machine) discardLocked() []func() {
	m.gen++
	disposers := m.disposers
	m.disposers = nil
	m.device = ble.Device{}
	m.server = nil
	m.service = nil
	m.chars = nil
	return disposers
}

// teardown unwinds disposers in reverse acquisition order and drops the
// diagnostic snapshot.
func (m *Machine) teardown(disposers []func()) {
	for i := len(disposers) - 1; i >= 0; i-- {
		disposers[i]()
	}
	m.publisher.Clear()
}

func (m *Machine) appendLocked(sev Severity, title, msg string) {
	m.status = append(m.status, Status{Severity: sev, Title: title, Message: msg})
}

func (m *Machine) changed() {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func deviceLabel(d ble.Device) string {
	if d.Name != "" {
		return d.Name
	}
	return d.Address
}
