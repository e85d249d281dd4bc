package embedder

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestNewMissingWeights(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nn4.small2.v1.t7"))
	if !errors.Is(err, ErrMissingWeights) {
		t.Fatalf("New() error = %v, want ErrMissingWeights", err)
	}
}
