// Package store persists the trained classifier and its label encoder.
package store

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/lookout/internal/classifier"
)

var (
	// ErrNotFound means no classifier has been persisted yet.
	ErrNotFound = errors.New("no persisted classifier")
	// ErrCorrupt means the two artifacts do not belong to the same training run.
	ErrCorrupt = errors.New("persisted classifier is inconsistent")
)

// Artifact names, shared by the file and Postgres backends.
const (
	ClassifierArtifact   = "recognizer"
	LabelEncoderArtifact = "labels"
)

// checkPair verifies that the model and encoder came from the same Train call.
func checkPair(m *classifier.Model, e *classifier.LabelEncoder) error {
	if m.Generation != e.Generation {
		return fmt.Errorf("%w: classifier generation %d, label encoder generation %d", ErrCorrupt, m.Generation, e.Generation)
	}
	if m.Classes != len(e.Classes) {
		return fmt.Errorf("%w: classifier has %d classes, label encoder has %d", ErrCorrupt, m.Classes, len(e.Classes))
	}
	if len(m.Weights) != m.Classes || len(m.Bias) != m.Classes {
		return fmt.Errorf("%w: weight shape does not match %d classes", ErrCorrupt, m.Classes)
	}
	for c, row := range m.Weights {
		if len(row) != m.Dim {
			return fmt.Errorf("%w: weight row %d has %d values, want %d", ErrCorrupt, c, len(row), m.Dim)
		}
	}
	return nil
}
