// Package render composes sprite frames into PNG images. It pulls the
// .spr/.act/.pal inputs through an asset resolver, picks the requested
// action frame's first visible layer, applies transparency and optional
// scaling, and encodes the result.
package render

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"strings"

	"github.com/golang/glog"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/EndurnyrProject/lifthrasir/act"
	"github.com/EndurnyrProject/lifthrasir/assets"
	"github.com/EndurnyrProject/lifthrasir/pal"
	"github.com/EndurnyrProject/lifthrasir/spr"
)

// MaxScale bounds the scale factor a request may ask for.
const MaxScale = 16

var (
	// ErrNoLayers means the selected frame has no visible layer to draw.
	ErrNoLayers = errors.New("frame has no visible layers")

	// ErrInvalidIndex means the action or frame index is out of range
	// for the decoded act, or a layer points outside the sprite.
	ErrInvalidIndex = errors.New("action or frame index out of range")

	// ErrInvalidPalette means the palette override could not be decoded.
	ErrInvalidPalette = errors.New("invalid palette override")

	// ErrMissingCompanion means no act path was given and none could be
	// inferred from the sprite path.
	ErrMissingCompanion = errors.New("cannot infer act path from sprite path")

	// ErrImageCreation means the frame dimensions cannot back an image.
	ErrImageCreation = errors.New("cannot create image from frame")

	// ErrEncoding means PNG encoding failed.
	ErrEncoding = errors.New("png encoding failed")

	// ErrInvalidScale means the scale factor is out of range.
	ErrInvalidScale = errors.New("invalid scale factor")
)

// Request names one frame to render.
type Request struct {
	// SpritePath is the logical path of the .spr asset.
	SpritePath string

	// ActPath is the logical path of the .act asset. Empty means infer
	// it from SpritePath by swapping the extension.
	ActPath string

	// ActionIndex and FrameIndex select the frame within the act.
	ActionIndex int
	FrameIndex  int

	// PalettePath optionally overrides the sprite's embedded palette.
	PalettePath string

	// Scale multiplies the output dimensions. Zero means 1.
	Scale float32
}

// ResolvedActPath returns the act path to load, inferring it from the
// sprite path when the request leaves it empty.
func (r *Request) ResolvedActPath() (string, error) {
	if r.ActPath != "" {
		return r.ActPath, nil
	}
	s := r.SpritePath
	if strings.HasSuffix(strings.ToLower(s), ".spr") {
		return s[:len(s)-4] + ".act", nil
	}
	return "", errors.Wrapf(ErrMissingCompanion, "%q", r.SpritePath)
}

// scale returns the effective scale factor, validating the requested
// one.
func (r *Request) scale() (float32, error) {
	s := r.Scale
	if s == 0 {
		return 1, nil
	}
	if s < 0 || s > MaxScale || math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
		return 0, errors.Wrapf(ErrInvalidScale, "%v", s)
	}
	return s, nil
}

// Result is a rendered frame.
type Result struct {
	PNG    []byte
	Width  int
	Height int

	// OffsetX and OffsetY are the layer's placement offsets relative to
	// the frame anchor, before scaling.
	OffsetX int
	OffsetY int
}

// Renderer renders frames out of an asset resolver.
type Renderer struct {
	resolver *assets.Composite
}

// New creates a renderer over the resolver.
func New(resolver *assets.Composite) *Renderer {
	return &Renderer{resolver: resolver}
}

// Render produces the PNG for the request.
func (rd *Renderer) Render(req *Request) (*Result, error) {
	sprite, a, err := rd.loadPair(req)
	if err != nil {
		return nil, err
	}

	if req.ActionIndex < 0 || req.ActionIndex >= len(a.Actions) {
		return nil, errors.Wrapf(ErrInvalidIndex, "action %d of %d", req.ActionIndex, len(a.Actions))
	}
	action := &a.Actions[req.ActionIndex]
	if req.FrameIndex < 0 || req.FrameIndex >= len(action.Frames) {
		return nil, errors.Wrapf(ErrInvalidIndex, "frame %d of %d", req.FrameIndex, len(action.Frames))
	}
	frame := &action.Frames[req.FrameIndex]

	layer := firstVisible(frame)
	if layer == nil {
		return nil, errors.Wrapf(ErrNoLayers, "action %d frame %d", req.ActionIndex, req.FrameIndex)
	}
	if layer.SpriteIndex < 0 || int(layer.SpriteIndex) >= len(sprite.Frames) {
		return nil, errors.Wrapf(ErrInvalidIndex, "layer sprite %d of %d", layer.SpriteIndex, len(sprite.Frames))
	}

	palette, err := rd.pickPalette(req, sprite)
	if err != nil {
		return nil, err
	}

	img, err := frameImage(&sprite.Frames[layer.SpriteIndex], palette)
	if err != nil {
		return nil, err
	}

	scale, err := req.scale()
	if err != nil {
		return nil, err
	}
	if scale != 1 {
		w := uint(float32(img.Bounds().Dx()) * scale)
		h := uint(float32(img.Bounds().Dy()) * scale)
		if w == 0 || h == 0 {
			return nil, errors.Wrapf(ErrImageCreation, "scaled to %dx%d", w, h)
		}
		img = resize.Resize(w, h, img, resize.NearestNeighbor).(*image.NRGBA)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(ErrEncoding, err.Error())
	}

	glog.V(2).Infof("render: %s action=%d frame=%d -> %dx%d (%d bytes)",
		req.SpritePath, req.ActionIndex, req.FrameIndex,
		img.Bounds().Dx(), img.Bounds().Dy(), buf.Len())

	return &Result{
		PNG:     buf.Bytes(),
		Width:   img.Bounds().Dx(),
		Height:  img.Bounds().Dy(),
		OffsetX: int(layer.X),
		OffsetY: int(layer.Y),
	}, nil
}

// loadPair loads and decodes the sprite and its act.
func (rd *Renderer) loadPair(req *Request) (*spr.Sprite, *act.Act, error) {
	actPath, err := req.ResolvedActPath()
	if err != nil {
		return nil, nil, err
	}

	sprData, err := rd.resolver.Load(req.SpritePath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "loading sprite %q", req.SpritePath)
	}
	sprite, err := spr.Decode(sprData)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decoding sprite %q", req.SpritePath)
	}

	actData, err := rd.resolver.Load(actPath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "loading act %q", actPath)
	}
	a, err := act.Decode(actData)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decoding act %q", actPath)
	}
	return sprite, a, nil
}

// pickPalette decides which palette renders indexed frames: the
// request's override, then the sprite's own, then a grayscale ramp.
func (rd *Renderer) pickPalette(req *Request, sprite *spr.Sprite) (*pal.Palette, error) {
	if req.PalettePath != "" {
		data, err := rd.resolver.Load(req.PalettePath)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidPalette, "loading %q: %v", req.PalettePath, err)
		}
		p, err := pal.Decode(data)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidPalette, "decoding %q: %v", req.PalettePath, err)
		}
		return p, nil
	}
	if sprite.Palette != nil {
		return sprite.Palette, nil
	}
	return pal.Grayscale(), nil
}

// firstVisible returns the first layer whose sprite index is valid, or
// nil when the frame draws nothing.
func firstVisible(frame *act.Frame) *act.Layer {
	for i := range frame.Layers {
		if frame.Layers[i].Visible() {
			return &frame.Layers[i]
		}
	}
	return nil
}

// frameImage converts one sprite frame into an NRGBA image, applying
// the transparency rules: palette index 0 and pure magenta pixels are
// fully transparent.
func frameImage(frame *spr.Frame, palette *pal.Palette) (*image.NRGBA, error) {
	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 {
		return nil, errors.Wrapf(ErrImageCreation, "%dx%d frame", w, h)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))

	if frame.RGBA {
		if len(frame.Pixels) < w*h*4 {
			return nil, errors.Wrapf(ErrImageCreation, "short rgba data for %dx%d frame", w, h)
		}
		for i := 0; i < w*h; i++ {
			r := frame.Pixels[i*4]
			g := frame.Pixels[i*4+1]
			b := frame.Pixels[i*4+2]
			a := frame.Pixels[i*4+3]
			if r == 255 && g == 0 && b == 255 {
				a = 0
			}
			img.Pix[i*4] = r
			img.Pix[i*4+1] = g
			img.Pix[i*4+2] = b
			img.Pix[i*4+3] = a
		}
		return img, nil
	}

	if len(frame.Pixels) < w*h {
		return nil, errors.Wrapf(ErrImageCreation, "short pixel data for %dx%d frame", w, h)
	}
	for i := 0; i < w*h; i++ {
		idx := frame.Pixels[i]
		c := palette.Colors[idx]
		a := uint8(255)
		if palette.Transparent(idx) {
			a = 0
		}
		img.Pix[i*4] = c[0]
		img.Pix[i*4+1] = c[1]
		img.Pix[i*4+2] = c[2]
		img.Pix[i*4+3] = a
	}
	return img, nil
}
