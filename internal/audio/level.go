// Package audio turns microphone input or recorded audio into loudness
// levels for the sound visualiser.
package audio

import (
	"context"
	"math"
)

// Reading is one loudness measurement in [0,1], or a failure when Err is set.
type Reading struct {
	Level float64
	Err   error
}

// LevelSource delivers readings until stopped. Readings arrive on a
// goroutine other than the caller of Start; stop does not wait for a
// callback in progress.
type LevelSource interface {
	Start(ctx context.Context, handle func(Reading)) (stop func(), err error)
}

// DefaultGain scales speech-level RMS into a usable [0,1] range.
const DefaultGain = 4.0

// RMS returns the root mean square of samples. Empty input is silent.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// level applies gain to an RMS value and clamps it to [0,1].
func level(rms, gain float64) float64 {
	v := rms * gain
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
