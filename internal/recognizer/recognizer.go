// Package recognizer labels face crops with a trained classifier and retrains it from the gallery.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/lookout/internal/classifier"
	"github.com/andresmejia3/lookout/internal/gallery"
	"github.com/andresmejia3/lookout/internal/store"
	"github.com/andresmejia3/lookout/internal/types"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Embedder produces an embedding vector for a face crop.
type Embedder interface {
	Embed(crop gocv.Mat) ([]float32, error)
}

// ModelStore persists the classifier between runs.
type ModelStore interface {
	Save(ctx context.Context, m *classifier.Model, e *classifier.LabelEncoder) error
	Load(ctx context.Context) (*classifier.Model, *classifier.LabelEncoder, error)
}

// Examples is the part of the gallery training reads from.
type Examples interface {
	Examples() ([]gallery.Example, error)
	Load(path string) (image.Image, error)
}

// TrainStats describes a finished training run.
type TrainStats struct {
	Examples int
	Skipped  int
	People   []string
}

// Recognizer owns the current classifier. All methods are safe to call from several
// goroutines; the embedder is never used concurrently.
type Recognizer struct {
	embedder Embedder
	store    ModelStore
	fit      classifier.FitOptions
	now      func() time.Time

	mu     sync.Mutex
	model  *classifier.Model
	labels *classifier.LabelEncoder
}

// New returns an untrained recognizer. Call Load to pick up a persisted classifier.
func New(e Embedder, s ModelStore) *Recognizer {
	return &Recognizer{
		embedder: e,
		store:    s,
		fit:      classifier.DefaultFitOptions(),
		now:      time.Now,
	}
}

// Load restores the persisted classifier. A missing one is not an error: the recognizer
// stays untrained and reports the "unknown" sentinel until Train is called.
func (r *Recognizer) Load(ctx context.Context) error {
	m, e, err := r.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("No recognizer database found. No face recognition will occur until faces are memorized and trained")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load classifier: %w", err)
	}

	r.mu.Lock()
	r.model, r.labels = m, e
	r.mu.Unlock()

	log.WithField("people", len(e.Classes)).Info("Loaded recognizer")
	return nil
}

// Trained reports whether a classifier is available.
func (r *Recognizer) Trained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model != nil && r.labels != nil
}

// People returns the names the current classifier knows.
func (r *Recognizer) People() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.labels == nil {
		return nil
	}
	return append([]string(nil), r.labels.Classes...)
}

// Recognize labels one face crop.
// Crops under MinFaceSize on either edge yield ("small", 1) and an untrained recognizer
// yields ("unknown", 1); neither touches the embedder.
func (r *Recognizer) Recognize(crop gocv.Mat) (types.Recognition, error) {
	if crop.Rows() < types.MinFaceSize || crop.Cols() < types.MinFaceSize {
		return types.Recognition{Label: types.LabelSmall, Probability: 1.0}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.model == nil || r.labels == nil {
		return types.Recognition{Label: types.LabelUnknown, Probability: 1.0}, nil
	}

	vec, err := r.embedder.Embed(crop)
	if err != nil {
		return types.Recognition{}, err
	}
	class, p, err := r.model.Predict(toFloat64(vec))
	if err != nil {
		return types.Recognition{}, err
	}
	name, err := r.labels.Name(class)
	if err != nil {
		return types.Recognition{}, err
	}
	return types.Recognition{Label: name, Probability: p}, nil
}

// Train rebuilds the classifier from every example in the gallery, persists it, and only
// then makes it current. On any error the previous classifier stays in place.
// progress, if non-nil, is called after each example.
func (r *Recognizer) Train(ctx context.Context, src Examples, progress func(done, total int)) (TrainStats, error) {
	examples, err := src.Examples()
	if err != nil {
		return TrainStats{}, fmt.Errorf("failed to enumerate gallery: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var stats TrainStats
	var names []string
	var samples [][]float64

	for i, ex := range examples {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		mat, err := decodeExample(src, ex)
		if err != nil {
			log.WithFields(log.Fields{"path": ex.Path, "error": err}).Warn("Skipping unreadable example")
			stats.Skipped++
		} else {
			vec, err := r.embedder.Embed(mat)
			mat.Close()
			if err != nil {
				return stats, fmt.Errorf("failed to embed %s: %w", ex.Path, err)
			}
			names = append(names, ex.Name)
			samples = append(samples, toFloat64(vec))
		}

		if progress != nil {
			progress(i+1, len(examples))
		}
	}

	if len(samples) == 0 {
		return stats, fmt.Errorf("%w: the gallery has no usable examples", classifier.ErrInvalidTrainingSet)
	}

	enc, labels := classifier.FitTransform(names)
	m, err := classifier.Fit(samples, labels, len(enc.Classes), r.fit)
	if err != nil {
		return stats, err
	}
	gen := r.now().UnixNano()
	m.Generation, enc.Generation = gen, gen

	if err := r.store.Save(ctx, m, enc); err != nil {
		return stats, fmt.Errorf("failed to persist classifier: %w", err)
	}
	r.model, r.labels = m, enc

	stats.Examples = len(samples)
	stats.People = append([]string(nil), enc.Classes...)
	log.WithFields(log.Fields{"examples": stats.Examples, "people": len(stats.People), "skipped": stats.Skipped}).Info("Training complete")
	return stats, nil
}

func decodeExample(src Examples, ex gallery.Example) (gocv.Mat, error) {
	img, err := src.Load(ex.Path)
	if err != nil {
		return gocv.Mat{}, err
	}
	return gocv.ImageToMatRGB(img)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
