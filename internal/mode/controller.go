package mode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/trionesctl/internal/audio"
	"github.com/chaz8081/trionesctl/internal/ble"
	"github.com/chaz8081/trionesctl/internal/ble/protocol"
	"github.com/chaz8081/trionesctl/internal/color"
	"github.com/chaz8081/trionesctl/internal/emotion"
	"github.com/chaz8081/trionesctl/internal/events"
	"github.com/chaz8081/trionesctl/internal/speech"
)

// Commander accepts device commands. *ble.Channel satisfies it.
type Commander interface {
	Submit(data []byte) *ble.Pending
}

// Options wires the controller to its providers. Any provider may be nil;
// starting its mode then fails with ErrUnavailable.
type Options struct {
	RandomInterval time.Duration
	Sampler        *color.Sampler
	Colors         *color.Table

	Speech  speech.Recognizer
	Camera  emotion.Camera
	Emotion emotion.Provider
	Overlay emotion.Overlay
	Sound   audio.LevelSource

	Bus *events.Bus
}

// DefaultOptions returns options with the built-in color table, a
// time-seeded sampler and a 700ms random interval.
func DefaultOptions() Options {
	return Options{
		RandomInterval: 700 * time.Millisecond,
		Sampler:        color.NewTimeSampler(),
		Colors:         color.Builtin(),
	}
}

// activation holds what a running mode acquired on entry.
type activation struct {
	mode   Mode
	gen    uint64
	cancel context.CancelFunc
	stop   func()
	stream emotion.Stream
}

// Controller is the mode state machine. Transitions are serialised and
// every provider callback is checked against the generation of the mode
// that registered it, so a callback that lands after teardown is dropped.
//
// Events are published while the controller lock is held; bus subscribers
// must not call back into the controller synchronously.
type Controller struct {
	cmd  Commander
	opts Options
	bus  *events.Bus

	base   context.Context
	cancel context.CancelFunc
	unsub  func()

	mu      sync.Mutex
	mode    Mode
	gen     uint64
	active  *activation
	color   color.Color
	powerOn bool
	emotion emotion.Label
	// last color forwarded by emotion watching, for debouncing
	emotionColor    color.Color
	hasEmotionColor bool
}

// New creates an idle controller writing through cmd. If opts.Bus is set
// the controller forces Idle whenever the session reports Disconnected.
func New(cmd Commander, opts Options) *Controller {
	def := DefaultOptions()
	if opts.RandomInterval <= 0 {
		opts.RandomInterval = def.RandomInterval
	}
	if opts.Sampler == nil {
		opts.Sampler = def.Sampler
	}
	if opts.Colors == nil {
		opts.Colors = def.Colors
	}

	c := &Controller{
		cmd:     cmd,
		opts:    opts,
		bus:     opts.Bus,
		color:   color.Default,
		powerOn: true,
	}
	c.base, c.cancel = context.WithCancel(context.Background())
	if c.bus != nil {
		c.unsub = c.bus.Subscribe(c.onEvent)
	}
	return c
}

// Close stops the active mode and detaches from the bus.
func (c *Controller) Close() {
	c.ForceIdle("closed")
	if c.unsub != nil {
		c.unsub()
	}
	c.cancel()
}

func (c *Controller) onEvent(e events.Event) {
	if e.Type != events.SessionStateChanged {
		return
	}
	var sc ble.StateChange
	if err := e.Decode(&sc); err != nil {
		slog.Warn("[MODE] bad session event", "error", err)
		return
	}
	// A failed pairing leaves the active mode alone.
	if sc.Lost() {
		c.ForceIdle("device disconnected")
	}
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Snapshot returns the current mode, color, power and last emotion.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Mode:    c.mode,
		Color:   c.color,
		PowerOn: c.powerOn,
		Emotion: c.emotion,
	}
}

// StartRandom cycles random colors on a fixed interval.
func (c *Controller) StartRandom(ctx context.Context) error {
	return c.start(ctx, RandomColor)
}

// StartSpeech opens one recognition session. The mode returns to Idle on
// the session's first outcome.
func (c *Controller) StartSpeech(ctx context.Context) error {
	return c.start(ctx, SpeechListening)
}

// StartEmotion opens the camera and follows the detected expression.
func (c *Controller) StartEmotion(ctx context.Context) error {
	return c.start(ctx, EmotionWatching)
}

// StartSound follows the loudness of the level source.
func (c *Controller) StartSound(ctx context.Context) error {
	return c.start(ctx, SoundVisualizing)
}

// Start enters m from Idle. Starting the active mode again is a no-op;
// starting any other mode while one runs returns ErrModeActive.
func (c *Controller) Start(ctx context.Context, m Mode) error {
	return c.start(ctx, m)
}

func (c *Controller) start(ctx context.Context, m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == m {
		return nil
	}
	if c.mode != Idle {
		return fmt.Errorf("%w: %s", ErrModeActive, c.mode)
	}
	return c.enterLocked(ctx, m)
}

// Switch leaves the active mode and enters m in one step. The old mode is
// fully torn down before m is set up.
func (c *Controller) Switch(ctx context.Context, m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == m {
		return nil
	}
	c.teardownLocked("switch to " + m.String())
	if m == Idle {
		return nil
	}
	return c.enterLocked(ctx, m)
}

// Stop returns to Idle. Safe to call in any mode.
func (c *Controller) Stop() {
	c.ForceIdle("stopped")
}

// ForceIdle tears down the active mode, if any, recording reason.
func (c *Controller) ForceIdle(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked(reason)
}

// enterLocked acquires m's resources and makes it active. On failure
// nothing stays acquired and the controller remains Idle.
func (c *Controller) enterLocked(ctx context.Context, m Mode) error {
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(c.base)
	act := &activation{mode: m, gen: gen, cancel: cancel}

	var err error
	switch m {
	case RandomColor:
		go c.randomLoop(runCtx, gen)

	case SpeechListening:
		if c.opts.Speech == nil {
			err = &ProviderError{Provider: "speech", Err: ErrUnavailable}
			break
		}
		act.stop, err = c.opts.Speech.Start(runCtx, func(ev speech.Event) {
			c.onSpeech(gen, ev)
		})
		if err != nil {
			err = &ProviderError{Provider: "speech", Err: err}
		}

	case EmotionWatching:
		err = c.enterEmotionLocked(ctx, runCtx, act)

	case SoundVisualizing:
		if c.opts.Sound == nil {
			err = &ProviderError{Provider: "audio", Err: ErrUnavailable}
			break
		}
		act.stop, err = c.opts.Sound.Start(runCtx, func(r audio.Reading) {
			c.onLevel(gen, r)
		})
		if err != nil {
			err = &ProviderError{Provider: "audio", Err: err}
		}

	default:
		err = fmt.Errorf("mode: cannot start %s", m)
	}

	if err != nil {
		cancel()
		slog.Warn("[MODE] start failed", "mode", m, "error", err)
		return err
	}

	prev := c.mode
	c.active = act
	c.mode = m
	slog.Info("[MODE] entered", "mode", m)
	c.bus.Emit(events.ModeChanged, ModeChange{Mode: m, Previous: prev})
	return nil
}

func (c *Controller) enterEmotionLocked(ctx, runCtx context.Context, act *activation) error {
	if c.opts.Camera == nil || c.opts.Emotion == nil {
		return &ProviderError{Provider: "emotion", Err: ErrUnavailable}
	}
	stream, err := c.opts.Camera.Open(ctx)
	if err != nil {
		return &ProviderError{Provider: "camera", Err: err}
	}
	gen := act.gen
	stop, err := c.opts.Emotion.Start(runCtx, stream, func(d emotion.Detection) {
		c.onDetection(gen, d)
	})
	if err != nil {
		stopTracks(stream)
		return &ProviderError{Provider: "emotion", Err: err}
	}
	act.stream = stream
	act.stop = stop
	c.emotion = ""
	c.hasEmotionColor = false
	return nil
}

// teardownLocked releases everything the active mode acquired and moves
// to Idle. It reports whether there was anything to tear down.
func (c *Controller) teardownLocked(reason string) bool {
	act := c.active
	if act == nil {
		return false
	}
	c.active = nil
	// Invalidate callbacks registered by the mode being left.
	c.gen++

	if act.stop != nil {
		act.stop()
	}
	act.cancel()
	if act.stream != nil {
		stopTracks(act.stream)
	}
	if act.mode == EmotionWatching && c.opts.Overlay != nil {
		c.opts.Overlay.Clear()
	}

	prev := c.mode
	c.mode = Idle
	slog.Info("[MODE] left", "mode", prev, "reason", reason)
	c.bus.Emit(events.ModeChanged, ModeChange{Mode: Idle, Previous: prev, Reason: reason})
	return true
}

// failLocked handles a provider error during an active mode.
func (c *Controller) failLocked(err error) {
	slog.Warn("[MODE] provider failed", "mode", c.mode, "error", err)
	c.teardownLocked("provider error")
	c.noticeLocked("Mode stopped: provider failed", err)
}

func stopTracks(s emotion.Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// staleLocked reports whether gen no longer belongs to the active mode.
func (c *Controller) staleLocked(gen uint64) bool {
	return c.active == nil || c.active.gen != gen
}

func (c *Controller) randomLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.opts.RandomInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.suggest(gen, c.opts.Sampler.Sample(), "random")
	}
}

// suggest forwards a provider color if gen is still active.
func (c *Controller) suggest(gen uint64, col color.Color, source string) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return
	}
	p := c.applyLocked(col, source)
	c.mu.Unlock()
	c.await(p)
}

func (c *Controller) onSpeech(gen uint64, ev speech.Event) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return
	}

	var p *ble.Pending
	switch ev.Kind {
	case speech.Result:
		col, err := c.opts.Colors.Lookup(ev.Transcript)
		if err != nil {
			slog.Info("[MODE] unknown color", "transcript", ev.Transcript)
			c.noticeLocked("Incorrect color!", err)
			break
		}
		p = c.applyLocked(col, "speech")
	case speech.NoMatch:
		slog.Info("[MODE] speech not recognised")
	case speech.Error:
		c.noticeLocked("Speech recognition failed", &ProviderError{Provider: "speech", Err: ev.Err})
	case speech.SpeechEnd:
	}
	c.teardownLocked("speech " + ev.Kind.String())
	c.mu.Unlock()
	c.await(p)
}

func (c *Controller) onDetection(gen uint64, d emotion.Detection) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return
	}
	if d.Err != nil {
		c.failLocked(&ProviderError{Provider: "emotion", Err: d.Err})
		c.mu.Unlock()
		return
	}

	if c.opts.Overlay != nil {
		c.opts.Overlay.Draw(d)
	}
	c.emotion = d.Label
	c.bus.Emit(events.EmotionDetected, EmotionChange{Label: d.Label, Emoji: d.Label.Emoji()})

	col, ok := d.Label.Color()
	if !ok || (c.hasEmotionColor && col == c.emotionColor) {
		c.mu.Unlock()
		return
	}
	c.emotionColor, c.hasEmotionColor = col, true
	p := c.applyLocked(col, "emotion")
	c.mu.Unlock()
	c.await(p)
}

func (c *Controller) onLevel(gen uint64, r audio.Reading) {
	c.mu.Lock()
	if c.staleLocked(gen) {
		c.mu.Unlock()
		return
	}
	if r.Err != nil {
		c.failLocked(&ProviderError{Provider: "audio", Err: r.Err})
		c.mu.Unlock()
		return
	}
	p := c.applyLocked(color.ForLevel(r.Level), "sound")
	c.mu.Unlock()
	c.await(p)
}

// ChangeColor sets the bulb color from the user, in any mode. The color
// state is updated even when the write fails.
func (c *Controller) ChangeColor(ctx context.Context, col color.Color) error {
	c.mu.Lock()
	p := c.applyLocked(col, "user")
	c.mu.Unlock()
	return c.report(p.Wait(ctx))
}

// SetPower switches the bulb on or off.
func (c *Controller) SetPower(ctx context.Context, on bool) error {
	c.mu.Lock()
	p := c.powerLocked(on)
	c.mu.Unlock()
	return c.report(p.Wait(ctx))
}

// TogglePower flips the power state and returns the new one.
func (c *Controller) TogglePower(ctx context.Context) (bool, error) {
	c.mu.Lock()
	on := !c.powerOn
	p := c.powerLocked(on)
	c.mu.Unlock()
	return on, c.report(p.Wait(ctx))
}

func (c *Controller) powerLocked(on bool) *ble.Pending {
	c.powerOn = on
	c.bus.Emit(events.PowerChanged, PowerChange{On: on})
	return c.cmd.Submit(protocol.MarshalPower(on))
}

// applyLocked records col and enqueues its command. Enqueueing under the
// lock keeps a torn-down mode from reaching the channel.
func (c *Controller) applyLocked(col color.Color, source string) *ble.Pending {
	c.color = col
	c.bus.Emit(events.ColorChanged, ColorChange{Color: col, Display: col.String(), Source: source})
	return c.cmd.Submit(col.Command())
}

// await waits for a provider-driven write. Failures become notices; the
// mode keeps running.
func (c *Controller) await(p *ble.Pending) {
	if p == nil {
		return
	}
	_ = c.report(p.Wait(c.base))
}

// report turns write outcomes into notices. A superseded write is not a
// failure.
func (c *Controller) report(err error) error {
	switch {
	case err == nil, errors.Is(err, ble.ErrSuperseded):
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	msg := "Bulb did not accept the command"
	if errors.Is(err, ble.ErrNotConnected) {
		msg = "Bulb is not connected"
		slog.Debug("[MODE] write skipped, not connected")
	} else {
		slog.Warn("[MODE] write failed", "error", err)
	}
	c.bus.Emit(events.Notice, Notice{Message: msg, Error: err.Error()})
	return err
}

func (c *Controller) noticeLocked(msg string, err error) {
	n := Notice{Message: msg}
	if err != nil {
		n.Error = err.Error()
	}
	c.bus.Emit(events.Notice, n)
}
