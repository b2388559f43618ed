// Package emotion maps detected facial expressions to bulb colors and
// defines the camera and detector contracts behind emotion watching.
package emotion

import (
	"fmt"

	"github.com/chaz8081/trionesctl/internal/color"
)

// Label is one of the closed set of expressions a detector reports.
type Label string

const (
	Angry     Label = "angry"
	Disgusted Label = "disgusted"
	Fearful   Label = "fearful"
	Happy     Label = "happy"
	Neutral   Label = "neutral"
	Sad       Label = "sad"
	Surprised Label = "surprised"
)

// Labels lists every label in canonical order. Dominant breaks ties in
// this order.
var Labels = []Label{Angry, Disgusted, Fearful, Happy, Neutral, Sad, Surprised}

var colors = map[Label]color.Color{
	Angry:     {R: 255, G: 0, B: 0},
	Disgusted: {R: 191, G: 255, B: 0},
	Fearful:   {R: 128, G: 128, B: 128},
	Happy:     {R: 255, G: 255, B: 0},
	Neutral:   {R: 64, G: 64, B: 64},
	Sad:       {R: 0, G: 0, B: 255},
	Surprised: {R: 255, G: 192, B: 203},
}

var emoji = map[Label]string{
	Angry:     "😠",
	Disgusted: "😖",
	Fearful:   "😨",
	Happy:     "😊",
	Neutral:   "😐",
	Sad:       "😥",
	Surprised: "😮",
}

// Parse validates s as a Label.
func Parse(s string) (Label, error) {
	l := Label(s)
	if _, ok := colors[l]; !ok {
		return "", fmt.Errorf("emotion: unknown label %q", s)
	}
	return l, nil
}

// Color returns the bulb color for l.
func (l Label) Color() (color.Color, bool) {
	c, ok := colors[l]
	return c, ok
}

// Emoji returns the face shown next to the bulb for l.
func (l Label) Emoji() string {
	return emoji[l]
}

// Scores holds per-label confidences from one detection.
type Scores map[Label]float64

// Dominant returns the highest scoring known label.
func Dominant(s Scores) (Label, bool) {
	var best Label
	bestScore := -1.0
	for _, l := range Labels {
		v, ok := s[l]
		if !ok {
			continue
		}
		if v > bestScore {
			best, bestScore = l, v
		}
	}
	return best, bestScore >= 0
}
