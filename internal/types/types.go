package types

import "image"

// Sentinel labels returned instead of a real prediction.
const (
	LabelSmall   = "small"   // crop too small to judge
	LabelUnknown = "unknown" // no trained classifier available
)

// MinFaceSize is the smallest crop edge (in pixels) the recognizer will embed.
const MinFaceSize = 20

// Detection is one candidate face in one frame.
// Box.Min holds (startX, startY) and Box.Max holds (endX, endY) exactly as the detector
// produced them; the rectangle is never canonicalized, so it may be empty or inverted.
type Detection struct {
	Confidence float64
	Box        image.Rectangle
}

// NewDetection builds a Detection without reordering the corners.
func NewDetection(confidence float64, startX, startY, endX, endY int) Detection {
	return Detection{
		Confidence: confidence,
		Box: image.Rectangle{
			Min: image.Point{X: startX, Y: startY},
			Max: image.Point{X: endX, Y: endY},
		},
	}
}

// Contains reports whether (x, y) lies inside the box, inclusive on all four edges.
func (d Detection) Contains(x, y int) bool {
	return d.Box.Min.X <= x && x <= d.Box.Max.X && d.Box.Min.Y <= y && y <= d.Box.Max.Y
}

// Recognition is the classifier's verdict for one face crop.
type Recognition struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// IsSentinel reports whether r is a non-classification outcome.
func (r Recognition) IsSentinel() bool {
	return r.Label == LabelSmall || r.Label == LabelUnknown
}
