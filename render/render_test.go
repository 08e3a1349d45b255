package render

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"image/png"
	"math"
	"testing"
	"testing/fstest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EndurnyrProject/lifthrasir/assets"
)

// makePalette builds 1024 palette bytes with the given color overrides.
func makePalette(colors map[int][3]byte) []byte {
	p := make([]byte, 1024)
	for i, c := range colors {
		copy(p[i*4:i*4+3], c[:])
	}
	return p
}

func defaultTestPalette() []byte {
	return makePalette(map[int][3]byte{
		1: {255, 0, 0}, // red
		2: {0, 0, 255}, // blue
		3: {0, 255, 0}, // green
	})
}

// rleEncode packs pixels the way 2.1+ sprites store indexed frames:
// every zero becomes a zero byte plus a run count of one.
func rleEncode(px []byte) []byte {
	var out []byte
	for _, b := range px {
		if b == 0 {
			out = append(out, 0, 1)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// buildSpr assembles a version 2.1 sprite with the given same-sized
// indexed frames and a trailing palette.
func buildSpr(frames [][]byte, w, h int, palette []byte) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{'S', 'P', 1, 2})
	binary.Write(&buf, binary.LittleEndian, uint16(len(frames)))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	for _, px := range frames {
		packed := rleEncode(px)
		binary.Write(&buf, binary.LittleEndian, uint16(w))
		binary.Write(&buf, binary.LittleEndian, uint16(h))
		binary.Write(&buf, binary.LittleEndian, uint16(len(packed)))
		buf.Write(packed)
	}
	buf.Write(palette)
	return buf.Bytes()
}

// buildSprRGBA assembles a version 2.1 sprite holding one direct-color
// frame.
func buildSprRGBA(px []byte, w, h int) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{'S', 'P', 1, 2})
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, int16(w))
	binary.Write(&buf, binary.LittleEndian, int16(h))
	buf.Write(px)
	return buf.Bytes()
}

// buildSprV10 assembles a version 1.0 sprite: raw frames, no palette.
func buildSprV10(frames [][]byte, w, h int) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{'S', 'P', 0, 1})
	binary.Write(&buf, binary.LittleEndian, uint16(len(frames)))
	for _, px := range frames {
		binary.Write(&buf, binary.LittleEndian, uint16(w))
		binary.Write(&buf, binary.LittleEndian, uint16(h))
		buf.Write(px)
	}
	return buf.Bytes()
}

type actLayer struct {
	x, y, sprite int32
}

// buildAct assembles a version 2.0 act: one layer list per frame, one
// frame list per action.
func buildAct(actions [][][]actLayer) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{'A', 'C', 0, 2})
	binary.Write(&buf, binary.LittleEndian, uint16(len(actions)))
	buf.Write(make([]byte, 10))
	for _, frames := range actions {
		binary.Write(&buf, binary.LittleEndian, uint32(len(frames)))
		for _, layers := range frames {
			buf.Write(make([]byte, 32))
			binary.Write(&buf, binary.LittleEndian, uint32(len(layers)))
			for _, l := range layers {
				binary.Write(&buf, binary.LittleEndian, l.x)
				binary.Write(&buf, binary.LittleEndian, l.y)
				binary.Write(&buf, binary.LittleEndian, l.sprite)
				binary.Write(&buf, binary.LittleEndian, int32(0))
				buf.Write([]byte{255, 255, 255, 255})
				binary.Write(&buf, binary.LittleEndian, float32(1))
				binary.Write(&buf, binary.LittleEndian, int32(0))
				binary.Write(&buf, binary.LittleEndian, int32(0))
			}
			binary.Write(&buf, binary.LittleEndian, int32(-1))
		}
	}
	return buf.Bytes()
}

func newTestRenderer(t *testing.T, files map[string][]byte) *Renderer {
	t.Helper()
	fsys := fstest.MapFS{}
	for name, data := range files {
		fsys[name] = &fstest.MapFile{Data: data}
	}
	c := assets.NewComposite()
	c.Add(assets.NewFSSource("test", fsys, 0))
	return New(c)
}

func decodePNG(t *testing.T, data []byte) func(x, y int) color.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return func(x, y int) color.NRGBA {
		return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	}
}

func TestRenderBasic(t *testing.T) {
	rd := newTestRenderer(t, map[string][]byte{
		"data/sprite/poring.spr": buildSpr(
			[][]byte{{0, 1, 2, 1}}, 2, 2, defaultTestPalette()),
		"data/sprite/poring.act": buildAct([][][]actLayer{
			{{{x: -8, y: -16, sprite: 0}}},
		}),
	})

	res, err := rd.Render(&Request{SpritePath: "data/sprite/poring.spr"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Width)
	assert.Equal(t, 2, res.Height)
	assert.Equal(t, -8, res.OffsetX)
	assert.Equal(t, -16, res.OffsetY)

	at := decodePNG(t, res.PNG)
	assert.Equal(t, uint8(0), at(0, 0).A, "palette index 0 must be transparent")
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, at(1, 0))
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, at(0, 1))
}

func TestRenderFrameSelection(t *testing.T) {
	// Four frames filled with distinct palette indices; four animation
	// frames each drawing the matching sprite frame.
	frames := [][]byte{
		{1, 1, 1, 1}, {2, 2, 2, 2}, {3, 3, 3, 3}, {1, 2, 3, 1},
	}
	var animation [][]actLayer
	for i := range frames {
		animation = append(animation, []actLayer{{sprite: int32(i)}})
	}
	rd := newTestRenderer(t, map[string][]byte{
		"poring.spr": buildSpr(frames, 2, 2, defaultTestPalette()),
		"poring.act": buildAct([][][]actLayer{animation}),
	})

	res, err := rd.Render(&Request{SpritePath: "poring.spr", FrameIndex: 2})
	require.NoError(t, err)

	at := decodePNG(t, res.PNG)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, at(0, 0), "frame 2 is all green")
}

func TestRenderScale(t *testing.T) {
	rd := newTestRenderer(t, map[string][]byte{
		"poring.spr": buildSpr([][]byte{{1, 1, 1, 1}}, 2, 2, defaultTestPalette()),
		"poring.act": buildAct([][][]actLayer{{{{sprite: 0}}}}),
	})

	res, err := rd.Render(&Request{SpritePath: "poring.spr", Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Width)
	assert.Equal(t, 4, res.Height)

	at := decodePNG(t, res.PNG)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, at(3, 3))
}

func TestRenderInvalidScale(t *testing.T) {
	rd := newTestRenderer(t, map[string][]byte{
		"poring.spr": buildSpr([][]byte{{1, 1, 1, 1}}, 2, 2, defaultTestPalette()),
		"poring.act": buildAct([][][]actLayer{{{{sprite: 0}}}}),
	})

	for _, scale := range []float32{-1, MaxScale + 1, float32(math.NaN()), float32(math.Inf(1))} {
		_, err := rd.Render(&Request{SpritePath: "poring.spr", Scale: scale})
		assert.Equal(t, ErrInvalidScale, errors.Cause(err), "scale %v", scale)
	}
}

func TestRenderInvalidIndices(t *testing.T) {
	rd := newTestRenderer(t, map[string][]byte{
		"poring.spr": buildSpr([][]byte{{1, 1, 1, 1}}, 2, 2, defaultTestPalette()),
		"poring.act": buildAct([][][]actLayer{
			{{{sprite: 0}}},
			{{{sprite: 9}}},  // layer points past the sprite's frames
			{{{sprite: -2}}}, // negative but not the invisibility sentinel
		}),
	})

	for _, req := range []*Request{
		{SpritePath: "poring.spr", ActionIndex: 5},
		{SpritePath: "poring.spr", ActionIndex: -1},
		{SpritePath: "poring.spr", FrameIndex: 3},
		{SpritePath: "poring.spr", ActionIndex: 1},
		{SpritePath: "poring.spr", ActionIndex: 2},
	} {
		_, err := rd.Render(req)
		assert.Equal(t, ErrInvalidIndex, errors.Cause(err), "request %+v", req)
	}
}

func TestRenderNoVisibleLayers(t *testing.T) {
	rd := newTestRenderer(t, map[string][]byte{
		"poring.spr": buildSpr([][]byte{{1, 1, 1, 1}}, 2, 2, defaultTestPalette()),
		"poring.act": buildAct([][][]actLayer{
			{{{sprite: -1}, {sprite: -1}}},
		}),
	})

	_, err := rd.Render(&Request{SpritePath: "poring.spr"})
	assert.Equal(t, ErrNoLayers, errors.Cause(err))
}

func TestRenderSkipsInvisibleLayers(t *testing.T) {
	rd := newTestRenderer(t, map[string][]byte{
		"poring.spr": buildSpr([][]byte{{1, 1, 1, 1}, {2, 2, 2, 2}}, 2, 2, defaultTestPalette()),
		"poring.act": buildAct([][][]actLayer{
			{{{sprite: -1}, {x: 3, y: 4, sprite: 1}}},
		}),
	})

	res, err := rd.Render(&Request{SpritePath: "poring.spr"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.OffsetX)
	assert.Equal(t, 4, res.OffsetY)

	at := decodePNG(t, res.PNG)
	assert.Equal(t, color.NRGBA{B: 255, A: 255}, at(0, 0), "the first visible layer is blue")
}

func TestRenderPaletteOverride(t *testing.T) {
	override := makePalette(map[int][3]byte{1: {0, 255, 255}})
	rd := newTestRenderer(t, map[string][]byte{
		"poring.spr":  buildSpr([][]byte{{1, 1, 1, 1}}, 2, 2, defaultTestPalette()),
		"poring.act":  buildAct([][][]actLayer{{{{sprite: 0}}}}),
		"alt.pal":     override,
		"invalid.pal": {1, 2, 3},
	})

	res, err := rd.Render(&Request{SpritePath: "poring.spr", PalettePath: "alt.pal"})
	require.NoError(t, err)
	at := decodePNG(t, res.PNG)
	assert.Equal(t, color.NRGBA{G: 255, B: 255, A: 255}, at(0, 0))

	_, err = rd.Render(&Request{SpritePath: "poring.spr", PalettePath: "invalid.pal"})
	assert.Equal(t, ErrInvalidPalette, errors.Cause(err))

	_, err = rd.Render(&Request{SpritePath: "poring.spr", PalettePath: "missing.pal"})
	assert.Equal(t, ErrInvalidPalette, errors.Cause(err))
}

func TestRenderMagentaTransparency(t *testing.T) {
	px := []byte{
		255, 0, 255, 255, // exact magenta, must turn transparent
		254, 0, 255, 255, // close but not magenta, stays opaque
		0, 255, 0, 255,
		10, 10, 10, 128,
	}
	rd := newTestRenderer(t, map[string][]byte{
		"fx.spr": buildSprRGBA(px, 2, 2),
		"fx.act": buildAct([][][]actLayer{{{{sprite: 0}}}}),
	})

	res, err := rd.Render(&Request{SpritePath: "fx.spr"})
	require.NoError(t, err)

	at := decodePNG(t, res.PNG)
	assert.Equal(t, uint8(0), at(0, 0).A)
	assert.Equal(t, color.NRGBA{R: 254, B: 255, A: 255}, at(1, 0))
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, at(0, 1))
	assert.Equal(t, uint8(128), at(1, 1).A)
}

func TestRenderGrayscaleFallback(t *testing.T) {
	rd := newTestRenderer(t, map[string][]byte{
		"old.spr": buildSprV10([][]byte{{200, 200, 200, 200}}, 2, 2),
		"old.act": buildAct([][][]actLayer{{{{sprite: 0}}}}),
	})

	res, err := rd.Render(&Request{SpritePath: "old.spr"})
	require.NoError(t, err)

	at := decodePNG(t, res.PNG)
	assert.Equal(t, color.NRGBA{R: 200, G: 200, B: 200, A: 255}, at(0, 0))
}

func TestRenderIdleAnimationFrame(t *testing.T) {
	// Eight idle frames, each filled with its own index, and a 2.2 act
	// whose delay table declares 120ms per frame.
	var frames [][]byte
	var animation [][]actLayer
	for i := 0; i < 8; i++ {
		frames = append(frames, bytes.Repeat([]byte{byte(i + 1)}, 16))
		animation = append(animation, []actLayer{{x: -8, y: -12, sprite: int32(i)}})
	}
	palette := makePalette(map[int][3]byte{4: {255, 0, 0}})

	var a bytes.Buffer
	a.Write([]byte{'A', 'C', 2, 2}) // version 2.2
	binary.Write(&a, binary.LittleEndian, uint16(1))
	a.Write(make([]byte, 10))
	binary.Write(&a, binary.LittleEndian, uint32(len(animation)))
	for _, layers := range animation {
		a.Write(make([]byte, 32))
		binary.Write(&a, binary.LittleEndian, uint32(len(layers)))
		for _, l := range layers {
			binary.Write(&a, binary.LittleEndian, l.x)
			binary.Write(&a, binary.LittleEndian, l.y)
			binary.Write(&a, binary.LittleEndian, l.sprite)
			binary.Write(&a, binary.LittleEndian, int32(0))
			a.Write([]byte{255, 255, 255, 255})
			binary.Write(&a, binary.LittleEndian, float32(1))
			binary.Write(&a, binary.LittleEndian, int32(0))
			binary.Write(&a, binary.LittleEndian, int32(0))
		}
		binary.Write(&a, binary.LittleEndian, int32(-1))
	}
	binary.Write(&a, binary.LittleEndian, uint32(0))   // sounds
	binary.Write(&a, binary.LittleEndian, float32(4.8)) // 4.8*25 = 120ms

	rd := newTestRenderer(t, map[string][]byte{
		"data/sprite/npc/idle.spr": buildSpr(frames, 4, 4, palette),
		"data/sprite/npc/idle.act": a.Bytes(),
	})

	res, err := rd.Render(&Request{
		SpritePath: "data/sprite/npc/idle.spr",
		FrameIndex: 3,
		Scale:      2,
	})
	require.NoError(t, err)

	assert.Equal(t, 8, res.Width, "4px frame at scale 2")
	assert.Equal(t, 8, res.Height)
	assert.Equal(t, -8, res.OffsetX)
	assert.Equal(t, -12, res.OffsetY)

	at := decodePNG(t, res.PNG)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, at(0, 0), "4th frame is palette index 4, red")
}

func TestResolvedActPath(t *testing.T) {
	for _, tt := range []struct {
		req  Request
		want string
	}{
		{Request{SpritePath: "data/sprite/poring.spr"}, "data/sprite/poring.act"},
		{Request{SpritePath: "data/sprite/PORING.SPR"}, "data/sprite/PORING.act"},
		{Request{SpritePath: "a.spr", ActPath: "other.act"}, "other.act"},
	} {
		got, err := tt.req.ResolvedActPath()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := (&Request{SpritePath: "data/readme.txt"}).ResolvedActPath()
	assert.Equal(t, ErrMissingCompanion, errors.Cause(err))
}

func TestRenderMissingAsset(t *testing.T) {
	rd := newTestRenderer(t, map[string][]byte{})

	_, err := rd.Render(&Request{SpritePath: "nope.spr"})
	assert.Equal(t, assets.ErrNotFound, errors.Cause(err))
}
