// Package protocol implements the byte-level command format spoken by
// Triones-family BLE bulbs.
package protocol

// Frame markers for the Triones RGB command.
const (
	colorHeader  = 0x56
	colorTrailer = 0xaa
	// colorModeRGB selects the RGB channels (0xf0) rather than warm white (0x0f).
	colorModeRGB = 0xf0

	powerHeader  = 0xcc
	powerTrailer = 0x33
	powerOnCode  = 0x23
	powerOffCode = 0x24
)

// ColorCommandLen is the size of a color write.
const ColorCommandLen = 7

// PowerCommandLen is the size of a power write.
const PowerCommandLen = 3

// MarshalColor encodes an RGB color write.
//
//	[0x56, r, g, b, 0x00, 0xf0, 0xaa]
func MarshalColor(r, g, b uint8) []byte {
	return []byte{colorHeader, r, g, b, 0x00, colorModeRGB, colorTrailer}
}

// PowerOn returns the command that switches the bulb on.
func PowerOn() []byte {
	return []byte{powerHeader, powerOnCode, powerTrailer}
}

// PowerOff returns the command that switches the bulb off.
func PowerOff() []byte {
	return []byte{powerHeader, powerOffCode, powerTrailer}
}

// MarshalPower returns PowerOn or PowerOff.
func MarshalPower(on bool) []byte {
	if on {
		return PowerOn()
	}
	return PowerOff()
}
