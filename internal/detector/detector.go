// Package detector finds faces with OpenCV's ResNet-10 SSD face model.
package detector

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/lookout/internal/types"
	"gocv.io/x/gocv"
)

// DefaultConfidence is the minimum score a detection needs to be reported.
const DefaultConfidence = 0.5

// The SSD was trained on 300x300 BGR input with this per-channel mean.
const inputSize = 300

var inputMean = gocv.NewScalar(104.0, 177.0, 123.0, 0)

// ErrMissingWeights is returned when a model file does not exist.
var ErrMissingWeights = errors.New("detector model file missing")

// SSD wraps the Caffe face detector network.
type SSD struct {
	net gocv.Net
}

// New loads the detector from its prototxt and caffemodel.
func New(prototxt, weights string) (*SSD, error) {
	for _, p := range []string{prototxt, weights} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingWeights, p)
		}
	}

	net := gocv.ReadNetFromCaffe(prototxt, weights)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detector network from %s", weights)
	}
	return &SSD{net: net}, nil
}

// Close releases the network.
func (d *SSD) Close() error {
	return d.net.Close()
}

// Detect returns every face scoring at least minConfidence, in model output order.
// Overlapping boxes for one face are not suppressed.
func (d *SSD) Detect(img gocv.Mat, minConfidence float64) ([]types.Detection, error) {
	if img.Empty() {
		return nil, errors.New("cannot detect on an empty frame")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(inputSize, inputSize), 0, 0, gocv.InterpolationLinear)

	blob := gocv.BlobFromImage(resized, 1.0, image.Pt(inputSize, inputSize), inputMean, false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	// Output is 1x1xNx7; channel (0, 0) is the Nx7 matrix of detections
	rows := gocv.GetBlobChannel(out, 0, 0)
	defer rows.Close()

	return scaleDetections(readRows(rows), img.Cols(), img.Rows(), minConfidence), nil
}

func readRows(m gocv.Mat) [][]float32 {
	out := make([][]float32, m.Rows())
	for r := range out {
		row := make([]float32, m.Cols())
		for c := range row {
			row[c] = m.GetFloatAt(r, c)
		}
		out[r] = row
	}
	return out
}

// scaleDetections turns raw [_, _, confidence, x1, y1, x2, y2] rows into pixel boxes.
// Coordinates are truncated, then clamped into [0, width) x [0, height).
func scaleDetections(rows [][]float32, width, height int, minConfidence float64) []types.Detection {
	var detections []types.Detection
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		confidence := float64(row[2])
		if confidence < minConfidence {
			continue
		}
		startX := clamp(int(row[3]*float32(width)), width)
		startY := clamp(int(row[4]*float32(height)), height)
		endX := clamp(int(row[5]*float32(width)), width)
		endY := clamp(int(row[6]*float32(height)), height)
		detections = append(detections, types.NewDetection(confidence, startX, startY, endX, endY))
	}
	return detections
}

func clamp(v, size int) int {
	if v < 0 {
		return 0
	}
	if v > size-1 {
		return size - 1
	}
	return v
}
