package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// Meter measures the loudness of the default microphone.
type Meter struct {
	ctx        *malgo.AllocatedContext
	sampleRate uint32
	channels   uint32
	gain       float64

	mu      sync.Mutex
	device  *malgo.Device
	running bool
}

// NewMeter creates a microphone meter. Call Close() when done.
func NewMeter(sampleRate, channels uint32, gain float64) (*Meter, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	if gain <= 0 {
		gain = DefaultGain
	}
	return &Meter{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		gain:       gain,
	}, nil
}

// Start begins capturing and reports one reading per capture callback.
// Readings are handed to a dispatch goroutine so the audio thread never
// blocks; a reading is dropped if the previous one is still being handled.
func (m *Meter) Start(ctx context.Context, handle func(Reading)) (func(), error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, errors.New("already capturing")
	}
	m.running = true
	m.mu.Unlock()

	levels := make(chan float64, 1)
	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = m.channels
	deviceCfg.SampleRate = m.sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, frameCount uint32) {
			samples := bytesToFloat32(pSample, frameCount*m.channels)
			select {
			case levels <- level(RMS(samples), m.gain):
			default:
			}
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		m.setRunning(false)
		return nil, fmt.Errorf("initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		m.setRunning(false)
		return nil, fmt.Errorf("starting capture device: %w", err)
	}

	m.mu.Lock()
	m.device = device
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case l := <-levels:
				handle(Reading{Level: l})
			}
		}
	}()

	slog.Debug("[AUDIO] capture started", "sample_rate", m.sampleRate, "channels", m.channels)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			m.release()
			slog.Debug("[AUDIO] capture stopped")
		})
	}
	return stop, nil
}

func (m *Meter) setRunning(v bool) {
	m.mu.Lock()
	m.running = v
	m.mu.Unlock()
}

func (m *Meter) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	m.running = false
}

// Running reports whether the meter is capturing.
func (m *Meter) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Close releases all audio resources.
func (m *Meter) Close() error {
	m.release()
	if m.ctx != nil {
		if err := m.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninitializing audio context: %w", err)
		}
		m.ctx.Free()
	}
	return nil
}

var _ LevelSource = (*Meter)(nil)

// bytesToFloat32 converts raw bytes (little-endian float32) to a float32 slice.
func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}
