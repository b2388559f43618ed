package commands

import (
	"fmt"
	"log/slog"

	"github.com/chaz8081/trionesctl/internal/audio"
	"github.com/chaz8081/trionesctl/internal/ble"
	"github.com/chaz8081/trionesctl/internal/color"
	"github.com/chaz8081/trionesctl/internal/config"
	"github.com/chaz8081/trionesctl/internal/emotion"
	"github.com/chaz8081/trionesctl/internal/events"
	"github.com/chaz8081/trionesctl/internal/mode"
	"github.com/chaz8081/trionesctl/internal/speech"
)

// deps are the hardware-facing pieces of the app. Nil fields are built
// from the config.
type deps struct {
	Adapter  ble.Adapter
	Selector ble.Selector
	Sound    audio.LevelSource
}

// app wires the session, controller and shell-driven providers together.
type app struct {
	cfg      *config.Config
	bus      *events.Bus
	session  *ble.Session
	ctrl     *mode.Controller
	colors   *color.Table
	speech   *speech.LineRecognizer
	detector *emotion.ManualDetector
	overlay  *termOverlay

	closers []func()
}

func newApp(cfg *config.Config, d deps) (*app, error) {
	colors := color.Builtin()
	if cfg.ColorsFile != "" {
		t, err := color.LoadTable(cfg.ColorsFile)
		if err != nil {
			return nil, fmt.Errorf("loading colors: %w", err)
		}
		colors = t
	}

	if d.Adapter == nil {
		d.Adapter = ble.NewTinygoAdapter()
	}

	a := &app{
		cfg:      cfg,
		bus:      events.NewBus(),
		colors:   colors,
		speech:   speech.NewLineRecognizer(),
		detector: &emotion.ManualDetector{},
		overlay:  &termOverlay{},
	}

	if d.Sound == nil {
		src, closeFn, err := soundSource(cfg.Audio)
		if err != nil {
			slog.Warn("Sound mode unavailable", "error", err)
		} else {
			d.Sound = src
			a.closers = append(a.closers, closeFn)
		}
	}

	a.session = ble.NewSession(d.Adapter, a.bus, ble.SessionOptions{
		Address:     cfg.Device.Address,
		NamePrefix:  cfg.Device.NamePrefix,
		ServiceUUID: cfg.Device.ServiceUUID,
		CharUUID:    cfg.Device.CharacteristicUUID,
		PairTimeout: cfg.Device.PairTimeout,
		ScanTimeout: cfg.Device.ScanTimeout,
		WriteRate:   cfg.Device.WriteRate,
		Selector:    d.Selector,
	})

	opts := mode.Options{
		RandomInterval: cfg.Modes.RandomInterval,
		Sampler:        color.NewTimeSampler(),
		Colors:         colors,
		Speech:         a.speech,
		Camera:         &emotion.StaticCamera{},
		Emotion:        emotion.NewPoller(a.detector, cfg.Modes.EmotionInterval),
		Overlay:        a.overlay,
		Sound:          d.Sound,
		Bus:            a.bus,
	}
	a.ctrl = mode.New(a.session.Channel(), opts)
	return a, nil
}

// soundSource picks the WAV replay when configured, else the microphone.
func soundSource(cfg config.AudioConfig) (audio.LevelSource, func(), error) {
	if cfg.WavFile != "" {
		src, err := audio.LoadWav(cfg.WavFile, audio.DefaultWindow, cfg.Gain)
		if err != nil {
			return nil, nil, err
		}
		src.Loop = true
		return src, func() {}, nil
	}
	m, err := audio.NewMeter(cfg.SampleRate, cfg.Channels, cfg.Gain)
	if err != nil {
		return nil, nil, err
	}
	return m, func() {
		if err := m.Close(); err != nil {
			slog.Warn("Closing audio", "error", err)
		}
	}, nil
}

// close stops the active mode, drops the connection and frees devices.
func (a *app) close() {
	a.ctrl.Close()
	if err := a.session.Disconnect(); err != nil {
		slog.Warn("Disconnect", "error", err)
	}
	for _, fn := range a.closers {
		fn()
	}
}
