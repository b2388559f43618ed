package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultWindow is the span of audio summarised by one WavSource reading.
const DefaultWindow = 50 * time.Millisecond

// WavSource replays a WAV file as loudness readings at real-time cadence.
type WavSource struct {
	samples    []float32
	sampleRate int
	window     time.Duration
	gain       float64

	// Loop restarts playback at the end of the file.
	Loop bool
}

// LoadWav decodes path into a WavSource.
func LoadWav(path string, window time.Duration, gain float64) (*WavSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("decode %s: not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return newWavSource(buf, int(dec.BitDepth), window, gain)
}

func newWavSource(buf *audio.IntBuffer, bitDepth int, window time.Duration, gain float64) (*WavSource, error) {
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, errors.New("wav: missing format")
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if gain <= 0 {
		gain = DefaultGain
	}

	// Fold channels into mono and normalise to [-1, 1].
	ch := buf.Format.NumChannels
	if ch < 1 {
		ch = 1
	}
	scale := float32(int64(1) << (bitDepth - 1))
	mono := make([]float32, 0, len(buf.Data)/ch)
	for i := 0; i+ch <= len(buf.Data); i += ch {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += float32(buf.Data[i+c]) / scale
		}
		mono = append(mono, sum/float32(ch))
	}

	return &WavSource{
		samples:    mono,
		sampleRate: buf.Format.SampleRate,
		window:     window,
		gain:       gain,
	}, nil
}

// Duration is the playback length of the file.
func (w *WavSource) Duration() time.Duration {
	return time.Duration(len(w.samples)) * time.Second / time.Duration(w.sampleRate)
}

// Start replays the file, one reading per window.
func (w *WavSource) Start(ctx context.Context, handle func(Reading)) (func(), error) {
	if len(w.samples) == 0 {
		return nil, errors.New("wav: no samples")
	}
	per := int(int64(w.sampleRate) * int64(w.window) / int64(time.Second))
	if per < 1 {
		per = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(w.window)
		defer ticker.Stop()
		pos := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if pos >= len(w.samples) {
				if !w.Loop {
					slog.Debug("[AUDIO] wav playback finished")
					return
				}
				pos = 0
			}
			end := min(pos+per, len(w.samples))
			l := level(RMS(w.samples[pos:end]), w.gain)
			pos = end
			handle(Reading{Level: l})
		}
	}()
	return cancel, nil
}

var _ LevelSource = (*WavSource)(nil)
