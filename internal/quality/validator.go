package quality

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

const (
	ResolutionPoints = 30
	CenteringPoints  = 40
	BackgroundPoints = 30

	MinResolution   = 1200
	PassThreshold   = 80
	DeltaTolerance  = 5
	CenterTolerance = 0.15
	CoverageMin     = 0.75
	CoverageMax     = 0.95

	// Any channel below this value counts as content.
	whiteThreshold = 250
	scanStep       = 2

	centerZeroAt    = 0.5
	coverageOverrun = 0.1
	deltaZeroAt     = 50.0
	impureDelta     = 20.0
)

// Validator scores composed product images. The zero value is not usable;
// construct with New.
type Validator struct {
	minResolution int
	passThreshold int
}

// New returns a validator with the standard rubric.
func New() *Validator {
	return &Validator{minResolution: MinResolution, passThreshold: PassThreshold}
}

// ScoreBytes decodes an encoded image (PNG, JPEG, ...) and scores it.
func (v *Validator) ScoreBytes(data []byte) (Report, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Report{}, fmt.Errorf("quality: decode image: %w", err)
	}
	return v.Score(img), nil
}

// Score runs the three checks. It never fails; an unusable image simply
// scores low. Alpha is ignored, only the colour channels are inspected.
func (v *Validator) Score(img image.Image) Report {
	px := imaging.Clone(img)

	res := v.checkResolution(px)
	cen := checkCentering(px)
	bg := checkBackground(px)

	total := res.Score + cen.Score + bg.Score
	return Report{
		Score:  total,
		Passed: total >= v.passThreshold,
		Details: Details{
			Resolution: res,
			Centering:  cen,
			Background: bg,
		},
	}
}

func (v *Validator) checkResolution(img *image.NRGBA) ResolutionCheck {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	m := min(w, h)
	out := ResolutionCheck{
		MaxScore:     ResolutionPoints,
		Width:        w,
		Height:       h,
		MinDimension: m,
		Required:     v.minResolution,
	}
	if m >= v.minResolution {
		out.Score = ResolutionPoints
		out.Status = StatusOK
		return out
	}
	out.Score = int(ResolutionPoints * float64(m) / float64(v.minResolution))
	out.Status = StatusLow
	return out
}

func checkCentering(img *image.NRGBA) CenteringCheck {
	out := CenteringCheck{MaxScore: CenteringPoints}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	box, ok := contentBBox(img)
	if !ok || w == 0 || h == 0 {
		out.Status = StatusNoContent
		return out
	}

	cw := float64(box[2] - box[0])
	ch := float64(box[3] - box[1])
	cx := float64(box[0]) + cw/2
	cy := float64(box[1]) + ch/2

	offX := math.Abs(cx-float64(w)/2) / float64(w)
	offY := math.Abs(cy-float64(h)/2) / float64(h)
	offset := math.Max(offX, offY)
	coverage := math.Max(cw/float64(w), ch/float64(h))

	if offset <= CenterTolerance {
		out.CenterScore = 20
		out.CenterStatus = StatusCentered
	} else {
		penalty := math.Min(1, offset/centerZeroAt)
		out.CenterScore = int(20 * (1 - penalty))
		out.CenterStatus = StatusOffCenter
	}

	switch {
	case coverage >= CoverageMin && coverage <= CoverageMax:
		out.CoverageScore = 20
		out.CoverageStatus = StatusOK
	case coverage < CoverageMin:
		out.CoverageScore = int(20 * coverage / CoverageMin)
		out.CoverageStatus = StatusTooSmall
	default:
		penalty := math.Min(1, (coverage-CoverageMax)/coverageOverrun)
		out.CoverageScore = int(20 * (1 - penalty))
		out.CoverageStatus = StatusTooLarge
	}

	out.Score = out.CenterScore + out.CoverageScore
	out.OffsetX = round(offX, 3)
	out.OffsetY = round(offY, 3)
	out.Coverage = round(coverage, 3)
	out.BBox = &box
	return out
}

// contentBBox scans every other pixel for non-white content and pads the
// result by the scan step, clamped to the image.
func contentBBox(img *image.NRGBA) (BBox, bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false
	for y := 0; y < h; y += scanStep {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x += scanStep {
			p := row[x*4 : x*4+3]
			if p[0] < whiteThreshold || p[1] < whiteThreshold || p[2] < whiteThreshold {
				found = true
				minX = min(minX, x)
				minY = min(minY, y)
				maxX = max(maxX, x)
				maxY = max(maxY, y)
			}
		}
	}
	if !found {
		return BBox{}, false
	}
	return BBox{
		max(0, minX-scanStep),
		max(0, minY-scanStep),
		min(w, maxX+scanStep),
		min(h, maxY+scanStep),
	}, true
}

func checkBackground(img *image.NRGBA) BackgroundCheck {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	side := max(10, min(w, h)/20)
	corners := []image.Rectangle{
		image.Rect(0, 0, side, side),
		image.Rect(w-side, 0, w, side),
		image.Rect(0, h-side, side, h),
		image.Rect(w-side, h-side, w, h),
	}

	out := BackgroundCheck{
		MaxScore:     BackgroundPoints,
		Tolerance:    DeltaTolerance,
		CornerDeltas: make([]float64, 0, len(corners)),
	}
	var total float64
	for _, c := range corners {
		d := regionDelta(img, c.Intersect(image.Rect(0, 0, w, h)))
		out.CornerDeltas = append(out.CornerDeltas, round(d, 2))
		total += d
	}
	avg := total / float64(len(corners))
	out.AvgDelta = round(avg, 2)

	if avg <= DeltaTolerance {
		out.Score = BackgroundPoints
		out.Status = StatusPureWhite
		return out
	}
	penalty := math.Min(1, avg/deltaZeroAt)
	out.Score = int(BackgroundPoints * (1 - penalty))
	if avg > impureDelta {
		out.Status = StatusImpure
	} else {
		out.Status = StatusSlightlyOff
	}
	return out
}

// regionDelta is the mean per-pixel distance from pure white over r.
func regionDelta(img *image.NRGBA, r image.Rectangle) float64 {
	if r.Empty() {
		return 0
	}
	var sum float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Pix[y*img.Stride:]
		for x := r.Min.X; x < r.Max.X; x++ {
			p := row[x*4 : x*4+3]
			sum += float64((255-int(p[0]))+(255-int(p[1]))+(255-int(p[2]))) / 3
		}
	}
	return sum / float64(r.Dx()*r.Dy())
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
