// Package act decodes the Ragnarok Online .act animation metadata
// format: per-action frame sequences, each frame built from positioned
// sprite layers, plus per-action frame delays and sound names.
//
// The decoder exposes raw indices only. The client convention of
// encoding directional actions as base*8+direction is a caller concern.
package act

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// ErrFormat is the root cause of every malformed-act error.
var ErrFormat = errors.New("malformed act file")

// InvisibleSprite is the layer sprite index that marks a layer as not
// drawn at all.
const InvisibleSprite = -1

// defaultDelayMS applies to files older than 2.2, which carry no delay
// table.
const defaultDelayMS = 150

// Layer is one positioned sprite reference inside an animation frame.
type Layer struct {
	X, Y        int32   // offset from the frame anchor
	SpriteIndex int32   // index into the companion .spr; -1 is invisible
	Mirror      bool    // horizontal flip
	Color       [4]byte // RGBA multiplier
	ScaleX      float32
	ScaleY      float32
	Rotation    int32 // degrees
	SpriteType  int32 // 0 indexed, 1 direct-color
	Width       int32 // explicit draw size, 2.5 only
	Height      int32
}

// Visible reports whether the layer is drawn at all.
func (l *Layer) Visible() bool {
	return l.SpriteIndex != InvisibleSprite
}

// Anchor is an attachment point carried by 2.3+ frames, used by the
// client to pin accessory sprites.
type Anchor struct {
	X, Y int32
}

// Frame is one animation step: the layers drawn for it, an optional
// sound table index, and any anchors.
type Frame struct {
	Layers  []Layer
	SoundID int32 // index into Act.Sounds, -1 for none
	Anchors []Anchor
}

// Action is one animation sequence with its per-frame delay.
type Action struct {
	Frames  []Frame
	DelayMS float32 // delay between frames, milliseconds
}

// Act is a fully decoded .act file.
type Act struct {
	Major, Minor uint8
	Actions      []Action
	Sounds       []string
}

// Version returns the file version in major*10+minor form.
func (a *Act) Version() int {
	return int(a.Major)*10 + int(a.Minor)
}

// Decode parses a complete .act blob. Versions 2.0 through 2.5 are
// accepted.
func Decode(data []byte) (*Act, error) {
	r := bytes.NewReader(data)

	var h struct {
		Signature    [2]byte
		Minor, Major uint8
	}
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, errors.Wrapf(ErrFormat, "reading act header: %v", err)
	}
	if h.Signature != [2]byte{'A', 'C'} {
		return nil, errors.Wrapf(ErrFormat, "bad signature %q", h.Signature[:])
	}

	a := &Act{Major: h.Major, Minor: h.Minor}
	v := a.Version()
	if v < 20 || v > 25 {
		return nil, errors.Wrapf(ErrFormat, "unsupported version %d.%d", h.Major, h.Minor)
	}

	var actionCount uint16
	if err := binary.Read(r, binary.LittleEndian, &actionCount); err != nil {
		return nil, errors.Wrapf(ErrFormat, "reading action count: %v", err)
	}
	if err := skip(r, 10); err != nil {
		return nil, errors.Wrapf(ErrFormat, "skipping reserved header bytes: %v", err)
	}

	a.Actions = make([]Action, 0, actionCount)
	for i := 0; i < int(actionCount); i++ {
		act, err := readAction(r, v)
		if err != nil {
			return nil, errors.Wrapf(err, "action %d", i)
		}
		a.Actions = append(a.Actions, act)
	}

	if v >= 21 {
		sounds, err := readSounds(r)
		if err != nil {
			return nil, err
		}
		a.Sounds = sounds
	}

	if v >= 22 {
		readDelays(r, a.Actions)
	}

	return a, nil
}

func readAction(r *bytes.Reader, v int) (Action, error) {
	var frameCount uint32
	if err := binary.Read(r, binary.LittleEndian, &frameCount); err != nil {
		return Action{}, errors.Wrapf(ErrFormat, "reading frame count: %v", err)
	}

	act := Action{DelayMS: defaultDelayMS, Frames: make([]Frame, 0, frameCount)}
	for i := uint32(0); i < frameCount; i++ {
		f, err := readFrame(r, v)
		if err != nil {
			return Action{}, errors.Wrapf(err, "frame %d", i)
		}
		act.Frames = append(act.Frames, f)
	}
	return act, nil
}

func readFrame(r *bytes.Reader, v int) (Frame, error) {
	// Two unused bounding rectangles precede the layer list.
	if err := skip(r, 32); err != nil {
		return Frame{}, errors.Wrapf(ErrFormat, "skipping frame bounds: %v", err)
	}

	var layerCount uint32
	if err := binary.Read(r, binary.LittleEndian, &layerCount); err != nil {
		return Frame{}, errors.Wrapf(ErrFormat, "reading layer count: %v", err)
	}

	f := Frame{SoundID: -1, Layers: make([]Layer, 0, layerCount)}
	for i := uint32(0); i < layerCount; i++ {
		l, err := readLayer(r, v)
		if err != nil {
			return Frame{}, errors.Wrapf(err, "layer %d", i)
		}
		f.Layers = append(f.Layers, l)
	}

	if err := binary.Read(r, binary.LittleEndian, &f.SoundID); err != nil {
		return Frame{}, errors.Wrapf(ErrFormat, "reading sound id: %v", err)
	}

	if v >= 23 {
		var anchorCount uint32
		if err := binary.Read(r, binary.LittleEndian, &anchorCount); err != nil {
			return Frame{}, errors.Wrapf(ErrFormat, "reading anchor count: %v", err)
		}
		f.Anchors = make([]Anchor, 0, anchorCount)
		for i := uint32(0); i < anchorCount; i++ {
			var rec struct {
				Unknown1 uint32
				X, Y     int32
				Unknown2 uint32
			}
			if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
				return Frame{}, errors.Wrapf(ErrFormat, "reading anchor %d: %v", i, err)
			}
			f.Anchors = append(f.Anchors, Anchor{X: rec.X, Y: rec.Y})
		}
	}
	return f, nil
}

func readLayer(r *bytes.Reader, v int) (Layer, error) {
	var head struct {
		X, Y        int32
		SpriteIndex int32
		Mirror      int32
	}
	if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
		return Layer{}, errors.Wrapf(ErrFormat, "reading layer head: %v", err)
	}

	l := Layer{
		X:           head.X,
		Y:           head.Y,
		SpriteIndex: head.SpriteIndex,
		Mirror:      head.Mirror != 0,
		Color:       [4]byte{255, 255, 255, 255},
		ScaleX:      1,
		ScaleY:      1,
	}

	if err := binary.Read(r, binary.LittleEndian, &l.Color); err != nil {
		return Layer{}, errors.Wrapf(ErrFormat, "reading layer color: %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &l.ScaleX); err != nil {
		return Layer{}, errors.Wrapf(ErrFormat, "reading layer scale: %v", err)
	}
	l.ScaleY = l.ScaleX
	if v > 23 {
		if err := binary.Read(r, binary.LittleEndian, &l.ScaleY); err != nil {
			return Layer{}, errors.Wrapf(ErrFormat, "reading layer y scale: %v", err)
		}
	}

	var tail struct {
		Rotation   int32
		SpriteType int32
	}
	if err := binary.Read(r, binary.LittleEndian, &tail); err != nil {
		return Layer{}, errors.Wrapf(ErrFormat, "reading layer tail: %v", err)
	}
	l.Rotation = tail.Rotation
	l.SpriteType = tail.SpriteType

	if v >= 25 {
		var size struct{ Width, Height int32 }
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return Layer{}, errors.Wrapf(ErrFormat, "reading layer size: %v", err)
		}
		l.Width, l.Height = size.Width, size.Height
	}
	return l, nil
}

func readSounds(r *bytes.Reader) ([]string, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errors.Wrapf(ErrFormat, "reading sound count: %v", err)
	}

	sounds := make([]string, 0, count)
	name := make([]byte, 40)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, errors.Wrapf(ErrFormat, "reading sound name %d: %v", i, err)
		}
		sounds = append(sounds, trimNUL(name))
	}
	return sounds, nil
}

// readDelays reads the trailing per-action delay table. The stored
// values are in units of 25ms. An absent or short table leaves the
// default delay in place, matching the reference client.
func readDelays(r *bytes.Reader, actions []Action) {
	rest := make([]byte, r.Len())
	io.ReadFull(r, rest)

	for i := range actions {
		off := i * 4
		if off+4 > len(rest) {
			return
		}
		raw := math.Float32frombits(binary.LittleEndian.Uint32(rest[off:]))
		actions[i].DelayMS = raw * 25
	}
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func skip(r *bytes.Reader, n int) error {
	if r.Len() < n {
		return io.ErrUnexpectedEOF
	}
	_, err := r.Seek(int64(n), io.SeekCurrent)
	return err
}
