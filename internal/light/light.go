// Package light holds the value types shared by animations and transports:
// light positions and rendered frames.
package light

import (
	"encoding/json"
	"fmt"
)

// Point is the position of one physical light.
type Point struct {
	X float64
	Y float64
	Z float64
}

// MarshalJSON encodes the point as a three element array, the shape used on
// the plugin wire.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{p.X, p.Y, p.Z})
}

// UnmarshalJSON decodes a three element array.
func (p *Point) UnmarshalJSON(data []byte) error {
	var xyz []float64
	if err := json.Unmarshal(data, &xyz); err != nil {
		return err
	}
	if len(xyz) != 3 {
		return fmt.Errorf("point: expected 3 coordinates, got %d", len(xyz))
	}
	p.X, p.Y, p.Z = xyz[0], xyz[1], xyz[2]
	return nil
}

// Pixel is one RGB value.
type Pixel struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Scale multiplies every component by factor, truncating toward zero.
// Factors outside [0,1] are clamped.
func (p Pixel) Scale(factor float64) Pixel {
	if factor >= 1 {
		return p
	}
	if factor <= 0 {
		return Pixel{}
	}
	return Pixel{
		R: uint8(float64(p.R) * factor),
		G: uint8(float64(p.G) * factor),
		B: uint8(float64(p.B) * factor),
	}
}

// Frame is one rendered set of pixels, one per light, in light order.
type Frame []Pixel

// Blank returns an all-off frame for n lights.
func Blank(n int) Frame {
	return make(Frame, n)
}

// Clone returns an independent copy of the frame.
func (f Frame) Clone() Frame {
	if f == nil {
		return nil
	}
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// Scale returns a new frame with every pixel scaled by factor.
func (f Frame) Scale(factor float64) Frame {
	out := make(Frame, len(f))
	for i, p := range f {
		out[i] = p.Scale(factor)
	}
	return out
}
