package segmentation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	ProviderChromaKey = "chroma-key"

	defaultKeyTolerance = 40
	maxRemovedRatio     = 0.98
)

var (
	ErrNoBackground = errors.New("chroma-key: no uniform background found")
	ErrNoSubject    = errors.New("chroma-key: no subject left after keying")
)

// ChromaKey is a local last-resort provider for studio shots on a plain
// backdrop. It samples the border colour and flood-fills every connected
// pixel within tolerance of it to transparent.
type ChromaKey struct {
	tolerance int
}

func NewChromaKey(tolerance int) *ChromaKey {
	if tolerance <= 0 {
		tolerance = defaultKeyTolerance
	}
	return &ChromaKey{tolerance: tolerance}
}

func (k *ChromaKey) Name() string { return ProviderChromaKey }

func (k *ChromaKey) Segment(ctx context.Context, data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("chroma-key: decode: %w", err)
	}
	img := imaging.Clone(src)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w < 3 || h < 3 {
		return nil, fmt.Errorf("chroma-key: image too small (%dx%d)", w, h)
	}

	key := borderColor(img)
	visited := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	push := func(x, y int) {
		i := y*w + x
		if visited[i] || !k.matches(img, x, y, key) {
			return
		}
		visited[i] = true
		queue = append(queue, i)
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 1; y < h-1; y++ {
		push(0, y)
		push(w-1, y)
	}

	removed := 0
	for len(queue) > 0 {
		if removed%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		img.Pix[y*img.Stride+x*4+3] = 0
		removed++
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}

	if removed == 0 {
		return nil, ErrNoBackground
	}
	if float64(removed)/float64(w*h) > maxRemovedRatio {
		return nil, ErrNoSubject
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("chroma-key: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (k *ChromaKey) matches(img *image.NRGBA, x, y int, key color.NRGBA) bool {
	p := img.Pix[y*img.Stride+x*4:]
	return absDiff(p[0], key.R) <= k.tolerance &&
		absDiff(p[1], key.G) <= k.tolerance &&
		absDiff(p[2], key.B) <= k.tolerance
}

// borderColor averages the outermost ring of pixels.
func borderColor(img *image.NRGBA) color.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	var r, g, b, n int
	add := func(x, y int) {
		p := img.Pix[y*img.Stride+x*4:]
		r += int(p[0])
		g += int(p[1])
		b += int(p[2])
		n++
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		add(x, h-1)
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		add(w-1, y)
	}
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: 255}
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
