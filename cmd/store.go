package cmd

import (
	"context"

	"github.com/andresmejia3/lookout/internal/classifier"
	"github.com/andresmejia3/lookout/internal/config"
	"github.com/andresmejia3/lookout/internal/store"
	log "github.com/sirupsen/logrus"
)

// ModelStore is where the trained classifier lives between runs.
type ModelStore interface {
	Save(ctx context.Context, m *classifier.Model, e *classifier.LabelEncoder) error
	Load(ctx context.Context) (*classifier.Model, *classifier.LabelEncoder, error)
	Delete(ctx context.Context) error
	Close(ctx context.Context)
}

// fileModels adapts the file store, which holds no connection, to ModelStore.
type fileModels struct {
	*store.FileStore
}

func (fileModels) Close(context.Context) {}

// openModelStore picks PostgreSQL when a connection string is configured and the cache
// directory otherwise.
func openModelStore(ctx context.Context, c config.Config) (ModelStore, error) {
	if c.DatabaseURL != "" {
		log.Debug("Using PostgreSQL classifier store")
		pg, err := store.NewPostgres(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	log.WithField("dir", c.ClassifierDir()).Debug("Using file classifier store")
	return fileModels{store.NewFileStore(c.ClassifierDir())}, nil
}
