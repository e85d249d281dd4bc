package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/lookout/internal/classifier"
	"github.com/google/renameio/v2"
	log "github.com/sirupsen/logrus"
)

// currentFile names the generation that Load reads.
const currentFile = "current"

// FileStore keeps each trained pair in its own generation directory under Dir,
// with a pointer file naming the live one:
//
//	Dir/current            "42"
//	Dir/42/recognizer.json
//	Dir/42/labels.json
type FileStore struct {
	Dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) genDir(gen int64) string {
	return filepath.Join(s.Dir, strconv.FormatInt(gen, 10))
}

func (s *FileStore) path(gen int64, artifact string) string {
	return filepath.Join(s.genDir(gen), artifact+".json")
}

// Save writes both artifacts into a fresh generation directory, then switches the
// pointer with a single atomic rename. Until that rename, Load keeps returning the
// previous pair.
func (s *FileStore) Save(ctx context.Context, m *classifier.Model, e *classifier.LabelEncoder) error {
	if err := checkPair(m, e); err != nil {
		return err
	}
	dir := s.genDir(m.Generation)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create classifier directory: %w", err)
	}

	if err := writeJSON(s.path(m.Generation, LabelEncoderArtifact), e); err != nil {
		return err
	}
	if err := writeJSON(s.path(m.Generation, ClassifierArtifact), m); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pointer := []byte(strconv.FormatInt(m.Generation, 10) + "\n")
	if err := renameio.WriteFile(filepath.Join(s.Dir, currentFile), pointer, 0644); err != nil {
		return fmt.Errorf("failed to switch classifier generation: %w", err)
	}

	s.prune(m.Generation)
	return nil
}

// Load reads the pair the pointer names. It returns ErrNotFound when nothing was saved.
func (s *FileStore) Load(ctx context.Context) (*classifier.Model, *classifier.LabelEncoder, error) {
	gen, err := s.current()
	if err != nil {
		return nil, nil, err
	}

	var m classifier.Model
	if err := readJSON(s.path(gen, ClassifierArtifact), &m); err != nil {
		return nil, nil, err
	}
	var e classifier.LabelEncoder
	if err := readJSON(s.path(gen, LabelEncoderArtifact), &e); err != nil {
		return nil, nil, err
	}
	if err := checkPair(&m, &e); err != nil {
		return nil, nil, err
	}
	if m.Generation != gen {
		return nil, nil, fmt.Errorf("%w: directory %d holds generation %d", ErrCorrupt, gen, m.Generation)
	}
	return &m, &e, nil
}

// Delete removes the pointer and every generation directory. Missing files are not an error.
func (s *FileStore) Delete(ctx context.Context) error {
	if err := os.Remove(filepath.Join(s.Dir, currentFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	gens, err := s.generations()
	if err != nil {
		return err
	}
	for _, g := range gens {
		if err := os.RemoveAll(s.genDir(g)); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) current() (int64, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, currentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, s.Dir)
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad generation pointer %q", ErrCorrupt, data)
	}
	return gen, nil
}

func (s *FileStore) generations() ([]int64, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var gens []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if g, err := strconv.ParseInt(e.Name(), 10, 64); err == nil {
			gens = append(gens, g)
		}
	}
	return gens, nil
}

// prune removes generations other than keep. Leftovers only cost disk space.
func (s *FileStore) prune(keep int64) {
	gens, err := s.generations()
	if err != nil {
		log.WithError(err).Warn("Failed to list old classifier generations")
		return
	}
	for _, g := range gens {
		if g == keep {
			continue
		}
		if err := os.RemoveAll(s.genDir(g)); err != nil {
			log.WithError(err).WithField("generation", g).Warn("Failed to remove old classifier generation")
		}
	}
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s is missing", ErrCorrupt, path)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, filepath.Base(path), err)
	}
	return nil
}
