// Package embedder turns face crops into OpenFace embedding vectors.
package embedder

import (
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
)

// ErrMissingWeights is returned when the Torch model file does not exist.
var ErrMissingWeights = errors.New("embedder model file missing")

const inputSize = 96

// OpenFace wraps the nn4.small2 Torch network.
type OpenFace struct {
	net gocv.Net
}

// New loads the embedding network.
func New(weights string) (*OpenFace, error) {
	if _, err := os.Stat(weights); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingWeights, weights)
	}
	net := gocv.ReadNetFromTorch(weights)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load embedder network from %s", weights)
	}
	return &OpenFace{net: net}, nil
}

// Close releases the network.
func (e *OpenFace) Close() error {
	return e.net.Close()
}

// Embed returns the flattened embedding of crop.
// The crop is squashed to 96x96 whatever its aspect ratio.
func (e *OpenFace) Embed(crop gocv.Mat) ([]float32, error) {
	if crop.Empty() {
		return nil, errors.New("cannot embed an empty crop")
	}

	blob := gocv.BlobFromImage(crop, 1.0/255.0, image.Pt(inputSize, inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding: %w", err)
	}
	vec := make([]float32, len(data))
	copy(vec, data)
	return vec, nil
}
