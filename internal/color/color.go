// Package color holds the RGB value type used everywhere in trionesctl and
// the conversions between it and what the bulb and the shell understand.
package color

import (
	"fmt"
	"math"

	"github.com/chaz8081/trionesctl/internal/ble/protocol"
)

// Color is an 8-bit-per-channel RGB triple.
type Color struct {
	R uint8 `yaml:"r" json:"r"`
	G uint8 `yaml:"g" json:"g"`
	B uint8 `yaml:"b" json:"b"`
}

// Default is the color shown before anything else has been chosen.
var Default = Color{R: 255, G: 0, B: 0}

// RGB is a shorthand constructor.
func RGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b}
}

// Command returns the Triones write for c.
func (c Color) Command() []byte {
	return protocol.MarshalColor(c.R, c.G, c.B)
}

// String renders c as "rgb(r,g,b)".
func (c Color) String() string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
}

// Hex renders c as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// FromHSV converts hue (degrees), saturation and value (0..1) to RGB.
// Out of range inputs are wrapped (hue) or clamped (s, v).
func FromHSV(h, s, v float64) Color {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	s = clamp01(s)
	v = clamp01(v)

	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return Color{R: to8(r + m), G: to8(g + m), B: to8(b + m)}
}

// ForLevel maps an audio level in [0,1] onto a blue (quiet) to red (loud)
// hue sweep. Levels outside the range are clamped.
func ForLevel(level float64) Color {
	if math.IsNaN(level) {
		level = 0
	}
	return FromHSV(240*(1-clamp01(level)), 1, 1)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func to8(f float64) uint8 {
	return uint8(math.Round(clamp01(f) * 255))
}
