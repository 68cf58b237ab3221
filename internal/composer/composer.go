package composer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"

	"packshot/internal/domain"
)

const (
	DefaultSize     = 1200
	ProductCoverage = 0.85
	ShadowOpacity   = 40
	ShadowBlur      = 15.0
	ShadowOffsetY   = 10
)

var (
	// ErrNoAlpha is returned for inputs that cannot separate subject from background.
	ErrNoAlpha = fmt.Errorf("%w: image has no alpha channel", domain.ErrInvalidInput)

	background = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

// Composer places a transparent cut-out on a square white canvas with a
// soft drop shadow.
type Composer struct {
	coverage      float64
	shadowOpacity uint8
	shadowBlur    float64
	shadowOffset  image.Point
}

// New returns a composer with the catalogue defaults.
func New() *Composer {
	return &Composer{
		coverage:      ProductCoverage,
		shadowOpacity: ShadowOpacity,
		shadowBlur:    ShadowBlur,
		shadowOffset:  image.Pt(0, ShadowOffsetY),
	}
}

// ComposeBytes decodes a cut-out, composes it and returns PNG bytes of an
// opaque size×size image.
func (c *Composer) ComposeBytes(data []byte, size int) ([]byte, error) {
	ok, err := encodedHasAlpha(data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoAlpha
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode cut-out: %v", domain.ErrInvalidInput, err)
	}
	out, err := c.Compose(img, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("composer: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// FlattenBytes fills the transparent areas of a cut-out with white and
// returns PNG bytes at the original dimensions.
func (c *Composer) FlattenBytes(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode cut-out: %v", domain.ErrInvalidInput, err)
	}
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), background)
	canvas = imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, fmt.Errorf("composer: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Compose returns an opaque size×size image. A fully transparent input
// yields a plain white canvas.
func (c *Composer) Compose(img image.Image, size int) (*image.NRGBA, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if !modelHasAlpha(img) {
		return nil, ErrNoAlpha
	}

	src := imaging.Clone(img)
	canvas := imaging.New(size, size, background)

	box, ok := alphaBBox(src)
	if !ok {
		return canvas, nil
	}
	product := imaging.Crop(src, box)

	pw, ph := product.Rect.Dx(), product.Rect.Dy()
	avail := float64(size) * c.coverage
	scale := min(avail/float64(pw), avail/float64(ph))
	nw := max(1, int(float64(pw)*scale))
	nh := max(1, int(float64(ph)*scale))
	resized := imaging.Resize(product, nw, nh, imaging.Lanczos)

	pos := image.Pt((size-nw)/2, (size-nh)/2)

	shadow, pad := c.shadow(resized)
	canvas = imaging.Overlay(canvas, shadow, pos.Add(c.shadowOffset).Sub(image.Pt(pad, pad)), 1.0)
	canvas = imaging.Overlay(canvas, resized, pos, 1.0)
	return canvas, nil
}

// shadow renders the subject's silhouette in translucent black on a padded
// layer so the blur is not clipped at the subject's edges.
func (c *Composer) shadow(subject *image.NRGBA) (*image.NRGBA, int) {
	pad := int(c.shadowBlur * 3)
	w, h := subject.Rect.Dx(), subject.Rect.Dy()
	layer := image.NewNRGBA(image.Rect(0, 0, w+2*pad, h+2*pad))
	for y := 0; y < h; y++ {
		srow := subject.Pix[y*subject.Stride:]
		drow := layer.Pix[(y+pad)*layer.Stride:]
		for x := 0; x < w; x++ {
			a := srow[x*4+3]
			if a == 0 {
				continue
			}
			drow[(x+pad)*4+3] = uint8(uint32(a) * uint32(c.shadowOpacity) / 255)
		}
	}
	return imaging.Blur(layer, c.shadowBlur), pad
}

// alphaBBox returns the tight bounds of pixels with non-zero alpha.
func alphaBBox(img *image.NRGBA) (image.Rectangle, bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	minX, minY := w, h
	maxX, maxY := -1, -1
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			if row[x*4+3] == 0 {
				continue
			}
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}
	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

func modelHasAlpha(img image.Image) bool {
	if p, ok := img.(*image.Paletted); ok {
		for _, c := range p.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	}
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.YCbCrModel, color.CMYKModel:
		return false
	}
	return true
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// PNG colour types from the IHDR chunk.
const (
	pngGray      = 0
	pngRGB       = 2
	pngPaletted  = 3
	pngGrayAlpha = 4
	pngRGBA      = 6
)

// encodedHasAlpha inspects the container before decoding, since the png
// package widens RGB images to RGBA and the alpha information is lost.
// Non-PNG inputs are judged by their decoded colour model.
func encodedHasAlpha(data []byte) (bool, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return false, fmt.Errorf("%w: decode cut-out: %v", domain.ErrInvalidInput, err)
		}
		switch cfg.ColorModel {
		case color.GrayModel, color.Gray16Model, color.YCbCrModel, color.CMYKModel:
			return false, nil
		}
		if pal, ok := cfg.ColorModel.(color.Palette); ok {
			return modelHasAlpha(&image.Paletted{Palette: pal}), nil
		}
		return true, nil
	}
	if len(data) < 33 {
		return false, fmt.Errorf("%w: truncated png header", domain.ErrInvalidInput)
	}
	switch data[25] {
	case pngGrayAlpha, pngRGBA:
		return true, nil
	case pngGray, pngRGB, pngPaletted:
		return hasChunk(data, "tRNS"), nil
	default:
		return false, errors.New("composer: unknown png colour type")
	}
}

// hasChunk walks the PNG chunk list up to IDAT looking for the named chunk.
func hasChunk(data []byte, name string) bool {
	off := len(pngSignature)
	for off+8 <= len(data) {
		n := int(uint32(data[off])<<24 | uint32(data[off+1])<<16 | uint32(data[off+2])<<8 | uint32(data[off+3]))
		typ := string(data[off+4 : off+8])
		if typ == name {
			return true
		}
		if typ == "IDAT" || typ == "IEND" || n < 0 {
			return false
		}
		off += 12 + n
	}
	return false
}
