package app

import (
	"image/color"
	"math"
	"slices"

	"github.com/roman-kulish/rocket-control/internal/flight"
)

var (
	altitudeColor  = color.RGBA{A: 0xff}
	apogeeColor    = color.RGBA{R: 0x1f, G: 0x5f, B: 0xd0, A: 0xff}
	targetColor    = color.RGBA{R: 0xd0, G: 0x20, B: 0x20, A: 0xff}
	unknownColor   = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
	frameColor     = color.Black
	eventLineColor = color.RGBA{R: 0x60, G: 0x60, B: 0x60, A: 0xff}
)

// HSV represents a color in HSV color space
type HSV struct {
	H float64 // Hue [0-360]
	S float64 // Saturation [0-1]
	V float64 // Value [0-1]
}

// RGB converts HSV color space to RGB
func (hsv HSV) RGB() color.RGBA {
	h, s, v := hsv.H, hsv.S, hsv.V

	if s <= 0.0 {
		rgb := uint8(v * 255)
		return color.RGBA{R: rgb, G: rgb, B: rgb, A: 0xff}
	}

	// Normalize hue to [0-6)
	h = math.Mod(h, 360) / 60
	i := math.Floor(h)
	f := h - i

	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	var r, g, b float64

	switch int(i) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}

	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 0xff}
}

// phaseColor returns the pale background of a phase. Hues are spread evenly
// over the phases in flight order.
func phaseColor(p flight.Phase) color.RGBA {
	phases := flight.Phases()
	i := slices.Index(phases, p)
	if i < 0 {
		return unknownColor
	}

	return HSV{
		H: 360 * float64(i) / float64(len(phases)),
		S: 0.25,
		V: 1.0,
	}.RGB()
}
