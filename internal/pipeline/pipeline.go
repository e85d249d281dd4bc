// Package pipeline runs one frame through detection and recognition and draws the overlay.
package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/lookout/internal/types"
	"gocv.io/x/gocv"
)

// Overlay style.
var boxColor = color.RGBA{R: 255, G: 0, B: 255, A: 0}

const (
	fontScale     = 0.65
	lineThickness = 1
	minTextY      = 15
)

// Detector finds candidate faces in a frame.
type Detector interface {
	Detect(img gocv.Mat, minConfidence float64) ([]types.Detection, error)
}

// Recognizer labels a single face crop.
type Recognizer interface {
	Recognize(crop gocv.Mat) (types.Recognition, error)
}

// Result is the outcome of one ProcessFrame call. Annotated belongs to the caller.
type Result struct {
	Detections   []types.Detection
	Recognitions []types.Recognition
	Annotated    gocv.Mat
}

// Pipeline keeps the raw copy and detections of the most recent frame so that clicks
// on the displayed image can be resolved against it.
type Pipeline struct {
	detector   Detector
	recognizer Recognizer
	confidence float64

	raw          gocv.Mat
	detections   []types.Detection
	recognitions []types.Recognition
}

// New builds a pipeline. confidence is the minimum detector score kept.
func New(d Detector, r Recognizer, confidence float64) *Pipeline {
	return &Pipeline{
		detector:   d,
		recognizer: r,
		confidence: confidence,
		raw:        gocv.NewMat(),
	}
}

// ProcessFrame detects and recognizes every face in frame and returns an annotated copy.
// frame itself is not modified. The previous frame's state is discarded first.
func (p *Pipeline) ProcessFrame(frame gocv.Mat) (Result, error) {
	if frame.Empty() {
		return Result{}, fmt.Errorf("cannot process an empty frame")
	}

	p.raw.Close()
	p.raw = frame.Clone()
	p.detections = nil
	p.recognitions = nil

	detections, err := p.detector.Detect(p.raw, p.confidence)
	if err != nil {
		return Result{}, fmt.Errorf("detection failed: %w", err)
	}

	annotated := p.raw.Clone()
	height := p.raw.Rows()
	recognitions := make([]types.Recognition, 0, len(detections))

	for _, d := range detections {
		gocv.Rectangle(&annotated, d.Box, boxColor, lineThickness)
		putText(&annotated, fmt.Sprintf("%.2f%%", d.Confidence*100), d.Box.Min.X, clampTextY(d.Box.Min.Y, height))

		crop := p.Crop(d)
		rec, err := p.recognizer.Recognize(crop)
		crop.Close()
		if err != nil {
			annotated.Close()
			return Result{}, fmt.Errorf("recognition failed: %w", err)
		}
		recognitions = append(recognitions, rec)

		putText(&annotated, fmt.Sprintf("%s: %.2f%%", rec.Label, rec.Probability*100), d.Box.Min.X, clampTextY(d.Box.Max.Y, height))
	}

	p.detections = detections
	p.recognitions = recognitions

	return Result{
		Detections:   detections,
		Recognitions: recognitions,
		Annotated:    annotated,
	}, nil
}

// HitTest returns the first detection of the last frame, in draw order, that contains (x, y).
func (p *Pipeline) HitTest(x, y int) (types.Detection, bool) {
	for _, d := range p.detections {
		if d.Contains(x, y) {
			return d, true
		}
	}
	return types.Detection{}, false
}

// Crop copies the part of the last raw frame covered by d, clipped to the frame.
// A box that falls outside the frame or is inverted gives an empty Mat.
func (p *Pipeline) Crop(d types.Detection) gocv.Mat {
	if p.raw.Empty() {
		return gocv.NewMat()
	}
	bounds := image.Rect(0, 0, p.raw.Cols(), p.raw.Rows())
	r := d.Box.Intersect(bounds)
	if r.Empty() {
		return gocv.NewMat()
	}
	region := p.raw.Region(r)
	defer region.Close()
	return region.Clone()
}

// Last returns what the most recent ProcessFrame found.
func (p *Pipeline) Last() ([]types.Detection, []types.Recognition) {
	return p.detections, p.recognitions
}

// Close releases the retained raw frame.
func (p *Pipeline) Close() error {
	return p.raw.Close()
}

func putText(img *gocv.Mat, text string, x, y int) {
	gocv.PutText(img, text, image.Pt(x, y), gocv.FontHersheySimplex, fontScale, boxColor, lineThickness)
}

// clampTextY keeps a text baseline inside the frame and below the top margin.
func clampTextY(y, height int) int {
	return min(height, max(minTextY, y))
}
