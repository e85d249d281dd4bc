package cmd

import (
	"context"

	"github.com/andresmejia3/lookout/internal/config"
	"github.com/andresmejia3/lookout/internal/detector"
	"github.com/andresmejia3/lookout/internal/embedder"
	"github.com/andresmejia3/lookout/internal/gallery"
	"github.com/andresmejia3/lookout/internal/pipeline"
	"github.com/andresmejia3/lookout/internal/recognizer"
	"github.com/andresmejia3/lookout/internal/utils"
)

// engine is everything built once per process: networks, recognizer and gallery.
type engine struct {
	detector   *detector.SSD
	embedder   *embedder.OpenFace
	recognizer *recognizer.Recognizer
	gallery    *gallery.Gallery
}

// loadEngine loads both networks and the persisted classifier. Missing weights are fatal.
func loadEngine(ctx context.Context, c config.Config, models ModelStore) *engine {
	prototxt, weights := c.DetectorPaths()
	det, err := detector.New(prototxt, weights)
	if err != nil {
		utils.Die("Failed to load face detector", err, nil)
	}

	emb, err := embedder.New(c.EmbedderPath())
	if err != nil {
		det.Close()
		utils.Die("Failed to load face embedder", err, nil)
	}

	rec := recognizer.New(emb, models)
	if err := rec.Load(ctx); err != nil {
		det.Close()
		emb.Close()
		utils.Die("Failed to load the trained classifier", err, nil)
	}

	return &engine{
		detector:   det,
		embedder:   emb,
		recognizer: rec,
		gallery:    gallery.New(c.DatasetDir),
	}
}

func (e *engine) pipeline(c config.Config) *pipeline.Pipeline {
	return pipeline.New(e.detector, e.recognizer, c.Confidence)
}

// train retrains from the gallery and reports progress, if asked to.
func (e *engine) train(ctx context.Context, progress func(done, total int)) (recognizer.TrainStats, error) {
	return e.recognizer.Train(ctx, e.gallery, progress)
}

func (e *engine) Close() {
	e.detector.Close()
	e.embedder.Close()
}
