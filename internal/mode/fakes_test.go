package mode

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/trionesctl/internal/audio"
	"github.com/chaz8081/trionesctl/internal/ble"
	"github.com/chaz8081/trionesctl/internal/color"
	"github.com/chaz8081/trionesctl/internal/emotion"
	"github.com/chaz8081/trionesctl/internal/events"
	"github.com/chaz8081/trionesctl/internal/speech"
	"github.com/stretchr/testify/require"
)

// fakeChar records every write.
type fakeChar struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (c *fakeChar) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.writes = append(c.writes, bytes.Clone(data))
	return nil
}

func (c *fakeChar) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *fakeChar) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

type fakeConn struct {
	char *fakeChar

	mu     sync.Mutex
	onDrop func()
}

func (c *fakeConn) DiscoverCharacteristic(string, string) (ble.Characteristic, error) {
	return c.char, nil
}

func (c *fakeConn) Disconnect() error { return nil }

func (c *fakeConn) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.onDrop = cb
	c.mu.Unlock()
}

// drop simulates the bulb going away.
func (c *fakeConn) drop() {
	c.mu.Lock()
	cb := c.onDrop
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type fakeAdapter struct {
	conn *fakeConn

	mu         sync.Mutex
	connectErr error
}

func (a *fakeAdapter) failConnect(err error) {
	a.mu.Lock()
	a.connectErr = err
	a.mu.Unlock()
}

func (a *fakeAdapter) Enable() error { return nil }

func (a *fakeAdapter) Scan(context.Context, ble.ScanFilter) ([]ble.Device, error) {
	return []ble.Device{{Name: "Triones-A1B2", Address: "AA:BB:CC:DD:EE:FF"}}, nil
}

func (a *fakeAdapter) Connect(context.Context, string) (ble.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	return a.conn, nil
}

// fakeRecognizer hands the test its callback instead of listening.
type fakeRecognizer struct {
	mu       sync.Mutex
	starts   int
	active   bool
	handle   func(speech.Event)
	startErr error
}

func (r *fakeRecognizer) Start(_ context.Context, handle func(speech.Event)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	r.starts++
	r.active = true
	r.handle = handle
	return func() {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
	}, nil
}

func (r *fakeRecognizer) emit(ev speech.Event) {
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	h(ev)
}

func (r *fakeRecognizer) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

type fakeEmotion struct {
	mu       sync.Mutex
	active   bool
	handle   func(emotion.Detection)
	startErr error
}

func (p *fakeEmotion) Start(_ context.Context, _ emotion.Stream, handle func(emotion.Detection)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return nil, p.startErr
	}
	p.active = true
	p.handle = handle
	return func() {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
	}, nil
}

func (p *fakeEmotion) callback() func(emotion.Detection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

func (p *fakeEmotion) emit(l emotion.Label) {
	p.callback()(emotion.Detection{Label: l, Scores: emotion.Scores{l: 1}})
}

func (p *fakeEmotion) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

type fakeOverlay struct {
	mu      sync.Mutex
	draws   int
	clears  int
	showing bool
}

func (o *fakeOverlay) Draw(emotion.Detection) {
	o.mu.Lock()
	o.draws++
	o.showing = true
	o.mu.Unlock()
}

func (o *fakeOverlay) Clear() {
	o.mu.Lock()
	o.clears++
	o.showing = false
	o.mu.Unlock()
}

func (o *fakeOverlay) state() (draws, clears int, showing bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draws, o.clears, o.showing
}

type fakeLevels struct {
	mu       sync.Mutex
	active   bool
	stops    int
	handle   func(audio.Reading)
	startErr error
}

func (l *fakeLevels) Start(_ context.Context, handle func(audio.Reading)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return nil, l.startErr
	}
	l.active = true
	l.handle = handle
	return func() {
		l.mu.Lock()
		l.active = false
		l.stops++
		l.mu.Unlock()
	}, nil
}

func (l *fakeLevels) emit(r audio.Reading) {
	l.mu.Lock()
	h := l.handle
	l.mu.Unlock()
	h(r)
}

func (l *fakeLevels) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

type failingCamera struct{}

func (failingCamera) Open(context.Context) (emotion.Stream, error) {
	return nil, errors.New("camera permission denied")
}

// rig is a controller on a real session and channel over a fake adapter.
type rig struct {
	bus     *events.Bus
	char    *fakeChar
	conn    *fakeConn
	adapter *fakeAdapter
	session *ble.Session
	ctrl    *Controller

	speech  *fakeRecognizer
	camera  *emotion.StaticCamera
	emotion *fakeEmotion
	overlay *fakeOverlay
	sound   *fakeLevels

	mu      sync.Mutex
	notices []Notice
	modes   []ModeChange
}

func newRig(t *testing.T, connect bool, tweak ...func(*Options)) *rig {
	t.Helper()
	r := &rig{
		bus:     events.NewBus(),
		char:    &fakeChar{},
		speech:  &fakeRecognizer{},
		camera:  &emotion.StaticCamera{},
		emotion: &fakeEmotion{},
		overlay: &fakeOverlay{},
		sound:   &fakeLevels{},
	}
	r.conn = &fakeConn{char: r.char}
	r.adapter = &fakeAdapter{conn: r.conn}
	r.session = ble.NewSession(r.adapter, r.bus, ble.SessionOptions{
		Address: "AA:BB:CC:DD:EE:FF",
	})

	r.bus.Subscribe(func(e events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		switch e.Type {
		case events.Notice:
			var n Notice
			_ = e.Decode(&n)
			r.notices = append(r.notices, n)
		case events.ModeChanged:
			var m ModeChange
			_ = e.Decode(&m)
			r.modes = append(r.modes, m)
		}
	})

	opts := Options{
		RandomInterval: 5 * time.Millisecond,
		Sampler:        color.NewSampler(42),
		Colors:         color.Builtin(),
		Speech:         r.speech,
		Camera:         r.camera,
		Emotion:        r.emotion,
		Overlay:        r.overlay,
		Sound:          r.sound,
		Bus:            r.bus,
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	r.ctrl = New(r.session.Channel(), opts)
	t.Cleanup(r.ctrl.Close)

	if connect {
		require.NoError(t, r.session.Connect(context.Background()))
	}
	return r
}

func (r *rig) noticeMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Message)
	}
	return out
}

func (r *rig) modeChanges() []ModeChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ModeChange(nil), r.modes...)
}

// colorWrites filters the 7-byte color commands out of the write log.
func (r *rig) colorWrites() [][]byte {
	var out [][]byte
	for _, w := range r.char.written() {
		if len(w) == 7 {
			out = append(out, w)
		}
	}
	return out
}
