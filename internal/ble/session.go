package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/trionesctl/internal/events"
)

// State is the pairing state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disconnected":
		*s = Disconnected
	case "connecting":
		*s = Connecting
	case "connected":
		*s = Connected
	default:
		return fmt.Errorf("ble: unknown state %q", b)
	}
	return nil
}

// StateChange is the payload of events.SessionStateChanged.
type StateChange struct {
	State    State  `json:"state"`
	Previous State  `json:"previous"`
	Device   Device `json:"device"`
	Reason   string `json:"reason,omitempty"`
}

// Lost reports whether the change ended an established connection, as
// opposed to a failed pairing attempt.
func (c StateChange) Lost() bool {
	return c.State == Disconnected && c.Previous == Connected
}

// Selector picks one device out of a scan. Returning false cancels pairing.
type Selector func(devices []Device) (Device, bool)

// SessionOptions configures pairing and the command channel.
type SessionOptions struct {
	Address     string        // connect directly, skipping the scan
	NamePrefix  string        // advertised name prefix to scan for
	ServiceUUID string        // GATT service holding the command characteristic
	CharUUID    string        // command characteristic
	PairTimeout time.Duration // bound on the whole handshake
	ScanTimeout time.Duration // scan window when a Selector is set
	WriteRate   float64       // writes per second, <= 0 disables pacing
	Selector    Selector      // nil connects to the first match
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		NamePrefix:  DefaultNamePrefix,
		ServiceUUID: ServiceUUID,
		CharUUID:    CharacteristicUUID,
		PairTimeout: 15 * time.Second,
		ScanTimeout: 5 * time.Second,
		WriteRate:   20,
	}
}

// Session owns the connection to the bulb. The characteristic handle lives
// here only; the Channel borrows it for the duration of a single write.
type Session struct {
	adapter Adapter
	opts    SessionOptions
	bus     *events.Bus
	channel *Channel

	mu            sync.Mutex
	state         State
	device        Device
	conn          Connection
	char          Characteristic
	epoch         uint64
	connCtx       context.Context
	connCancel    context.CancelFunc
	connectCancel context.CancelFunc // aborts an attempt in Connecting
}

// NewSession creates a disconnected session. bus may be nil.
func NewSession(adapter Adapter, bus *events.Bus, opts SessionOptions) *Session {
	def := DefaultSessionOptions()
	if opts.NamePrefix == "" && opts.Address == "" {
		opts.NamePrefix = def.NamePrefix
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.CharUUID == "" {
		opts.CharUUID = def.CharUUID
	}
	if opts.PairTimeout <= 0 {
		opts.PairTimeout = def.PairTimeout
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	s := &Session{
		adapter: adapter,
		opts:    opts,
		bus:     bus,
	}
	s.channel = newChannel(s, opts.WriteRate)
	return s
}

// Channel returns the command channel bound to this session.
func (s *Session) Channel() *Channel {
	return s.channel
}

// State returns the current pairing state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device returns the connected device, if any.
func (s *Session) Device() (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device, s.state == Connected
}

// Connect pairs with the bulb. Only one attempt may run at a time; a call
// while Connected is a no-op. On failure the session is Disconnected and the
// error is a *PairError.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Connecting:
		s.mu.Unlock()
		return &PairError{Op: "connect", Err: ErrAlreadyConnecting}
	case Connected:
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.PairTimeout)
	defer cancel()
	s.state = Connecting
	s.connectCancel = cancel
	s.mu.Unlock()
	s.publish(Connecting, Disconnected, Device{}, "")

	dev, conn, char, err := s.handshake(ctx)
	if err == nil && ctx.Err() != nil {
		// Disconnect() or the deadline won the race against a late success.
		_ = conn.Disconnect()
		err = &PairError{Op: "connect", Err: ctx.Err()}
	}
	if err == nil {
		err = s.establish(dev, conn, char)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = &PairError{Op: "connect", Err: fmt.Errorf("%w after %s: %w", ErrPairTimeout, s.opts.PairTimeout, err)}
		}
		s.mu.Lock()
		s.state = Disconnected
		s.connectCancel = nil
		s.mu.Unlock()
		slog.Warn("[BLE] pairing failed", "error", err)
		s.publish(Disconnected, Connecting, Device{}, err.Error())
		return err
	}

	slog.Info("[BLE] connected", "name", dev.Name, "address", dev.Address)
	s.publish(Connected, Connecting, dev, "")
	return nil
}

// establish installs the disconnect callback and then commits the handle.
// A drop that fires before the commit fails the attempt instead of leaving
// a dead handle behind.
func (s *Session) establish(dev Device, conn Connection, char Characteristic) error {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	conn.OnDisconnect(func() {
		s.lost(epoch)
	})

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		_ = conn.Disconnect()
		return &PairError{Op: "connect to " + dev.Address, Err: ErrConnectionLost}
	}
	s.state = Connected
	s.device = dev
	s.conn = conn
	s.char = char
	s.connCtx, s.connCancel = context.WithCancel(context.Background())
	s.connectCancel = nil
	s.mu.Unlock()
	return nil
}

// handshake runs enable → select → connect → discover.
func (s *Session) handshake(ctx context.Context) (Device, Connection, Characteristic, error) {
	if err := s.adapter.Enable(); err != nil {
		return Device{}, nil, nil, &PairError{Op: "enable adapter", Err: err}
	}

	dev, err := s.selectDevice(ctx)
	if err != nil {
		return Device{}, nil, nil, err
	}

	conn, err := s.adapter.Connect(ctx, dev.Address)
	if err != nil {
		return Device{}, nil, nil, &PairError{Op: "connect to " + dev.Address, Err: err}
	}

	char, err := conn.DiscoverCharacteristic(s.opts.ServiceUUID, s.opts.CharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return Device{}, nil, nil, &PairError{
			Op:  "discover characteristic",
			Err: fmt.Errorf("%w: %s: %v", ErrCharacteristicNotFound, s.opts.CharUUID, err),
		}
	}
	return dev, conn, char, nil
}

// selectDevice resolves which peripheral to connect to.
func (s *Session) selectDevice(ctx context.Context) (Device, error) {
	if s.opts.Address != "" {
		return Device{Address: s.opts.Address}, nil
	}

	filter := ScanFilter{NamePrefix: s.opts.NamePrefix}
	scanCtx := ctx
	if s.opts.Selector == nil {
		filter.Limit = 1
	} else {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.opts.ScanTimeout)
		defer cancel()
	}

	devices, err := s.adapter.Scan(scanCtx, filter)
	if err != nil {
		return Device{}, &PairError{Op: "scan", Err: err}
	}
	if ctx.Err() != nil {
		return Device{}, &PairError{Op: "scan", Err: ctx.Err()}
	}
	if len(devices) == 0 {
		return Device{}, &PairError{Op: "scan", Err: fmt.Errorf("%w (prefix %q)", ErrDeviceNotFound, s.opts.NamePrefix)}
	}

	if s.opts.Selector == nil {
		return devices[0], nil
	}
	dev, ok := s.opts.Selector(devices)
	if !ok {
		return Device{}, &PairError{Op: "select device", Err: ErrSelectionCancelled}
	}
	return dev, nil
}

// Disconnect drops the connection and fails any queued write. While
// Connecting it aborts the attempt instead. Safe to call in any state.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == Connecting {
		if s.connectCancel != nil {
			s.connectCancel()
		}
		s.mu.Unlock()
		return nil
	}
	if s.state == Disconnected {
		s.mu.Unlock()
		return nil
	}
	conn, dev := s.conn, s.device
	s.dropLocked()
	s.mu.Unlock()

	s.channel.reset()

	var err error
	if conn != nil {
		if err = conn.Disconnect(); err != nil {
			err = fmt.Errorf("ble: disconnect: %w", err)
		}
	}
	slog.Info("[BLE] disconnected", "address", dev.Address)
	s.publish(Disconnected, Connected, dev, "requested")
	return err
}

// lost handles a device-initiated disconnect for the connection created at
// epoch. Callbacks from older connections are ignored.
func (s *Session) lost(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if s.state == Connecting {
		// Dropped before establish committed; it sees the bumped epoch.
		s.epoch++
		s.mu.Unlock()
		return
	}
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	dev := s.device
	s.dropLocked()
	s.mu.Unlock()

	s.channel.reset()

	slog.Warn("[BLE] device disconnected", "address", dev.Address)
	s.publish(Disconnected, Connected, dev, "device disconnected")
}

// dropLocked forgets the handle (caller must hold mu).
func (s *Session) dropLocked() {
	s.state = Disconnected
	s.conn = nil
	s.char = nil
	s.device = Device{}
	s.epoch++
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
	}
	s.connCtx = nil
}

// acquire lends the characteristic and the connection's context to the
// channel for one write.
func (s *Session) acquire() (Characteristic, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.char == nil {
		return nil, nil, ErrNotConnected
	}
	return s.char, s.connCtx, nil
}

func (s *Session) publish(state, previous State, dev Device, reason string) {
	s.bus.Emit(events.SessionStateChanged, StateChange{State: state, Previous: previous, Device: dev, Reason: reason})
}

// Scan lists nearby bulbs whose name starts with prefix.
func Scan(ctx context.Context, adapter Adapter, prefix string, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, ScanFilter{NamePrefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// matchName reports whether an advertised name satisfies prefix.
func matchName(name, prefix string) bool {
	return prefix == "" || strings.HasPrefix(name, prefix)
}
