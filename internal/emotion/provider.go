package emotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Track is one media track of a camera stream.
type Track interface {
	Stop()
}

// Stream is an open camera stream.
type Stream interface {
	Tracks() []Track
}

// Camera acquires a video stream.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Detection is one detector result, or a failure when Err is set.
type Detection struct {
	Label  Label
	Scores Scores
	Err    error
}

// Overlay renders detections next to the video and can be wiped.
type Overlay interface {
	Draw(d Detection)
	Clear()
}

// Provider runs detection over a stream until stopped. Detections are
// delivered asynchronously; stop must not wait on a callback in progress.
type Provider interface {
	Start(ctx context.Context, stream Stream, handle func(Detection)) (stop func(), err error)
}

// Detector inspects the current frame of stream. found is false when no
// face is visible.
type Detector interface {
	Detect(ctx context.Context, stream Stream) (scores Scores, found bool, err error)
}

// DefaultInterval is how often Poller runs the detector.
const DefaultInterval = 500 * time.Millisecond

// Poller is a Provider that runs a Detector on a fixed cadence.
type Poller struct {
	detector Detector
	interval time.Duration
}

// NewPoller creates a Poller. interval <= 0 uses DefaultInterval.
func NewPoller(d Detector, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{detector: d, interval: interval}
}

// Start begins polling. A detector error is delivered once and ends polling.
func (p *Poller) Start(ctx context.Context, stream Stream, handle func(Detection)) (func(), error) {
	if stream == nil {
		return nil, errors.New("emotion: nil stream")
	}
	ctx, cancel := context.WithCancel(ctx)
	go p.loop(ctx, stream, handle)
	return cancel, nil
}

func (p *Poller) loop(ctx context.Context, stream Stream, handle func(Detection)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		scores, found, err := p.detector.Detect(ctx, stream)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			handle(Detection{Err: fmt.Errorf("emotion: detect: %w", err)})
			return
		}
		if !found {
			continue
		}
		label, ok := Dominant(scores)
		if !ok {
			continue
		}
		slog.Debug("[EMOTION] detected", "label", label)
		handle(Detection{Label: label, Scores: scores})
	}
}

var _ Provider = (*Poller)(nil)

// ManualDetector reports whatever label was last set. The shell uses it
// with "feel <label>" in place of a face model.
type ManualDetector struct {
	mu    sync.Mutex
	label Label
}

// Set makes l the detected expression. An empty label hides the face.
func (m *ManualDetector) Set(l Label) {
	m.mu.Lock()
	m.label = l
	m.mu.Unlock()
}

func (m *ManualDetector) Detect(_ context.Context, _ Stream) (Scores, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.label == "" {
		return nil, false, nil
	}
	return Scores{m.label: 1}, true, nil
}

// StaticCamera hands out streams with a single placeholder track. It
// records whether every track it handed out was stopped.
type StaticCamera struct {
	mu     sync.Mutex
	tracks []*staticTrack
}

type staticTrack struct {
	mu      sync.Mutex
	stopped bool
}

func (t *staticTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

type staticStream struct {
	track *staticTrack
}

func (s staticStream) Tracks() []Track { return []Track{s.track} }

func (c *StaticCamera) Open(context.Context) (Stream, error) {
	t := &staticTrack{}
	c.mu.Lock()
	c.tracks = append(c.tracks, t)
	c.mu.Unlock()
	return staticStream{track: t}, nil
}

// Live returns how many handed-out tracks are still running.
func (c *StaticCamera) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tracks {
		t.mu.Lock()
		if !t.stopped {
			n++
		}
		t.mu.Unlock()
	}
	return n
}
