// Package mode runs the bulb's interaction modes: random color cycling,
// speech color selection, emotion watching and the sound visualiser.
// Exactly one mode is active at a time and leaving a mode always releases
// everything it acquired.
package mode

import (
	"errors"
	"fmt"

	"github.com/chaz8081/trionesctl/internal/color"
	"github.com/chaz8081/trionesctl/internal/emotion"
)

// Mode is the controller's active interaction.
type Mode int

const (
	Idle Mode = iota
	RandomColor
	SpeechListening
	EmotionWatching
	SoundVisualizing
)

var modeNames = map[Mode]string{
	Idle:             "idle",
	RandomColor:      "random_color",
	SpeechListening:  "speech_listening",
	EmotionWatching:  "emotion_watching",
	SoundVisualizing: "sound_visualizing",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	for k, v := range modeNames {
		if v == string(b) {
			*m = k
			return nil
		}
	}
	return fmt.Errorf("mode: unknown mode %q", b)
}

var (
	// ErrModeActive is returned when a mode is started while a different
	// one is running. Stop it first or use Switch.
	ErrModeActive = errors.New("mode: another mode is active")
	// ErrUnavailable means the mode's provider is not configured.
	ErrUnavailable = errors.New("mode: provider not available")
)

// ProviderError reports a capability provider that failed to start or
// failed while its mode was active.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("mode: %s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Status is a point-in-time view of the controller for rendering.
type Status struct {
	Mode    Mode          `json:"mode"`
	Color   color.Color   `json:"color"`
	PowerOn bool          `json:"power_on"`
	Emotion emotion.Label `json:"emotion,omitempty"`
}

// ModeChange is the payload of events.ModeChanged.
type ModeChange struct {
	Mode     Mode   `json:"mode"`
	Previous Mode   `json:"previous"`
	Reason   string `json:"reason,omitempty"`
}

// ColorChange is the payload of events.ColorChanged.
type ColorChange struct {
	Color   color.Color `json:"color"`
	Display string      `json:"display"`
	Source  string      `json:"source"`
}

// PowerChange is the payload of events.PowerChanged.
type PowerChange struct {
	On bool `json:"on"`
}

// EmotionChange is the payload of events.EmotionDetected.
type EmotionChange struct {
	Label emotion.Label `json:"label"`
	Emoji string        `json:"emoji"`
}

// Notice is the payload of events.Notice.
type Notice struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
