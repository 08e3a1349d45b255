// Package pal decodes Ragnarok Online palette data: 256 colors of four
// bytes each, as found both in standalone .pal files and at the tail of
// indexed .spr files.
package pal

import (
	"github.com/pkg/errors"
)

// ErrFormat is the root cause of every malformed-palette error.
var ErrFormat = errors.New("malformed palette")

// Size is the encoded size of a palette: 256 colors * 4 bytes.
const Size = 1024

// Palette holds 256 RGBA entries. Index 0 is the transparency sentinel;
// its alpha is forced to zero at decode time. The stored fourth byte is
// a reserved byte, not alpha, so every other entry decodes opaque.
type Palette struct {
	Colors [256][4]uint8
}

// Decode parses a 1024-byte palette blob.
func Decode(data []byte) (*Palette, error) {
	if len(data) != Size {
		return nil, errors.Wrapf(ErrFormat, "bad palette size; got %d, want %d", len(data), Size)
	}

	p := &Palette{}
	for i := 0; i < 256; i++ {
		c := data[i*4 : i*4+4]
		a := uint8(255)
		if i == 0 {
			a = 0
		}
		p.Colors[i] = [4]uint8{c[0], c[1], c[2], a}
	}
	return p, nil
}

// Grayscale builds the fallback palette used when an indexed sprite
// carries no palette of its own and no override is given: a linear ramp
// with index 0 left transparent.
func Grayscale() *Palette {
	p := &Palette{}
	for i := 0; i < 256; i++ {
		v := uint8(i)
		a := uint8(255)
		if i == 0 {
			a = 0
		}
		p.Colors[i] = [4]uint8{v, v, v, a}
	}
	return p
}

// Transparent reports whether the color at index renders fully
// transparent: index 0, or the raw magenta key (255, 0, 255).
func (p *Palette) Transparent(index uint8) bool {
	if index == 0 {
		return true
	}
	c := p.Colors[index]
	return c[0] == 255 && c[1] == 0 && c[2] == 255
}
