package quality

import "encoding/json"

// Report is the outcome of scoring one image. Details always carries the
// per-check breakdown so a failure can be explained without re-deriving it
// from Score.
type Report struct {
	Score   int     `json:"score"`
	Passed  bool    `json:"passed"`
	Details Details `json:"details"`
}

// DetailsJSON encodes the per-check breakdown for storage alongside a job.
func (r Report) DetailsJSON() (json.RawMessage, error) {
	return json.Marshal(r.Details)
}

// Details groups the three independent checks.
type Details struct {
	Resolution ResolutionCheck `json:"resolution"`
	Centering  CenteringCheck  `json:"centering"`
	Background BackgroundCheck `json:"background"`
}

type ResolutionCheck struct {
	Score        int    `json:"score"`
	MaxScore     int    `json:"max_score"`
	Status       string `json:"status"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	MinDimension int    `json:"min_dimension"`
	Required     int    `json:"required"`
}

// CenteringCheck combines centering and coverage. BBox is nil when no
// content was found, in which case Status is StatusNoContent.
type CenteringCheck struct {
	Score          int     `json:"score"`
	MaxScore       int     `json:"max_score"`
	Status         string  `json:"status,omitempty"`
	CenterScore    int     `json:"center_score"`
	CoverageScore  int     `json:"coverage_score"`
	CenterStatus   string  `json:"center_status,omitempty"`
	CoverageStatus string  `json:"coverage_status,omitempty"`
	OffsetX        float64 `json:"offset_x"`
	OffsetY        float64 `json:"offset_y"`
	Coverage       float64 `json:"coverage"`
	BBox           *BBox   `json:"bbox,omitempty"`
}

// BBox is a half-open pixel rectangle (left, top, right, bottom).
type BBox [4]int

type BackgroundCheck struct {
	Score        int       `json:"score"`
	MaxScore     int       `json:"max_score"`
	Status       string    `json:"status"`
	AvgDelta     float64   `json:"avg_delta"`
	CornerDeltas []float64 `json:"corner_deltas"`
	Tolerance    int       `json:"tolerance"`
}

// Status tags.
const (
	StatusOK          = "OK"
	StatusLow         = "LOW"
	StatusNoContent   = "NO_CONTENT"
	StatusCentered    = "CENTERED"
	StatusOffCenter   = "OFF_CENTER"
	StatusTooSmall    = "TOO_SMALL"
	StatusTooLarge    = "TOO_LARGE"
	StatusPureWhite   = "PURE_WHITE"
	StatusSlightlyOff = "SLIGHTLY_OFF"
	StatusImpure      = "IMPURE"
)
