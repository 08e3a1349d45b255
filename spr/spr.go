// Package spr decodes the Ragnarok Online .spr sprite container: a set
// of palette-indexed and/or direct-color frames, with the palette for
// the indexed frames stored at the tail of the file.
package spr

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/EndurnyrProject/lifthrasir/pal"
)

// ErrFormat is the root cause of every malformed-sprite error.
var ErrFormat = errors.New("malformed spr file")

// Version thresholds, in major*10+minor form. 2.1 and later store
// indexed frames with zero-run RLE; 1.1 and earlier have no
// direct-color frame section.
const (
	versionRGBASection = 11 // > this: RGBA frame count present
	versionRLE         = 21 // >= this: indexed frames are RLE packed
	versionPalette     = 10 // > this: palette trailer present
)

// Frame is one decoded frame. Pixels holds one byte per pixel for
// indexed frames, or four bytes per pixel (RGBA order) for direct-color
// frames.
type Frame struct {
	Width  int
	Height int
	Pixels []byte
	RGBA   bool
}

// Sprite is a fully decoded .spr file.
type Sprite struct {
	Major, Minor uint8
	Frames       []Frame

	// Palette is the trailing palette for indexed frames; nil for
	// version 1.0 files, which rely on an external palette.
	Palette *pal.Palette
}

// Version returns the container version in major*10+minor form, e.g. 21
// for a version 2.1 file.
func (s *Sprite) Version() int {
	return int(s.Major)*10 + int(s.Minor)
}

type header struct {
	Signature    [2]byte
	Minor, Major uint8
	IndexedCount uint16
}

// Decode parses a complete .spr blob.
func Decode(data []byte) (*Sprite, error) {
	r := bytes.NewReader(data)

	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, errors.Wrapf(ErrFormat, "reading spr header: %v", err)
	}
	if h.Signature != [2]byte{'S', 'P'} {
		return nil, errors.Wrapf(ErrFormat, "bad signature %q", h.Signature[:])
	}

	s := &Sprite{Major: h.Major, Minor: h.Minor}
	v := s.Version()

	var rgbaCount uint16
	if v > versionRGBASection {
		if err := binary.Read(r, binary.LittleEndian, &rgbaCount); err != nil {
			return nil, errors.Wrapf(ErrFormat, "reading rgba frame count: %v", err)
		}
	}

	s.Frames = make([]Frame, 0, int(h.IndexedCount)+int(rgbaCount))
	for i := 0; i < int(h.IndexedCount); i++ {
		var f Frame
		var err error
		if v < versionRLE {
			f, err = readIndexedFrame(r)
		} else {
			f, err = readIndexedFrameRLE(r)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "indexed frame %d", i)
		}
		s.Frames = append(s.Frames, f)
	}
	for i := 0; i < int(rgbaCount); i++ {
		f, err := readRGBAFrame(r)
		if err != nil {
			return nil, errors.Wrapf(err, "rgba frame %d", i)
		}
		s.Frames = append(s.Frames, f)
	}

	if h.IndexedCount > 0 && v > versionPalette {
		if len(data) < pal.Size {
			return nil, errors.Wrap(ErrFormat, "file too small for palette trailer")
		}
		p, err := pal.Decode(data[len(data)-pal.Size:])
		if err != nil {
			return nil, errors.Wrap(err, "palette trailer")
		}
		s.Palette = p
	}

	return s, nil
}

func readIndexedFrame(r *bytes.Reader) (Frame, error) {
	var dim struct{ Width, Height uint16 }
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return Frame{}, errors.Wrapf(ErrFormat, "reading frame size: %v", err)
	}

	px := make([]byte, int(dim.Width)*int(dim.Height))
	if _, err := io.ReadFull(r, px); err != nil {
		return Frame{}, errors.Wrapf(ErrFormat, "reading %dx%d frame pixels: %v", dim.Width, dim.Height, err)
	}
	return Frame{Width: int(dim.Width), Height: int(dim.Height), Pixels: px}, nil
}

// readIndexedFrameRLE reads a zero-run packed indexed frame. In the
// packed stream a zero byte is followed by its repeat count; a count of
// zero encodes a literal pair of zero bytes.
func readIndexedFrameRLE(r *bytes.Reader) (Frame, error) {
	var dim struct{ Width, Height, PackedSize uint16 }
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return Frame{}, errors.Wrapf(ErrFormat, "reading frame size: %v", err)
	}

	packed := make([]byte, dim.PackedSize)
	if _, err := io.ReadFull(r, packed); err != nil {
		return Frame{}, errors.Wrapf(ErrFormat, "reading packed frame pixels: %v", err)
	}

	want := int(dim.Width) * int(dim.Height)
	px := make([]byte, 0, want)
	for i := 0; i < len(packed); {
		c := packed[i]
		px = append(px, c)
		i++
		if c == 0 && i < len(packed) {
			count := int(packed[i])
			i++
			if count == 0 {
				px = append(px, 0)
			} else {
				for n := 1; n < count; n++ {
					px = append(px, 0)
				}
			}
		}
	}
	if len(px) != want {
		return Frame{}, errors.Wrapf(ErrFormat, "rle frame size mismatch; got %d pixels, want %d", len(px), want)
	}
	return Frame{Width: int(dim.Width), Height: int(dim.Height), Pixels: px}, nil
}

func readRGBAFrame(r *bytes.Reader) (Frame, error) {
	var dim struct{ Width, Height int16 }
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return Frame{}, errors.Wrapf(ErrFormat, "reading frame size: %v", err)
	}

	w, h := abs16(dim.Width), abs16(dim.Height)
	px := make([]byte, w*h*4)
	if _, err := io.ReadFull(r, px); err != nil {
		return Frame{}, errors.Wrapf(ErrFormat, "reading %dx%d rgba pixels: %v", w, h, err)
	}
	return Frame{Width: w, Height: h, Pixels: px, RGBA: true}, nil
}

func abs16(v int16) int {
	if v < 0 {
		return int(-v)
	}
	return int(v)
}
