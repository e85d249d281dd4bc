// Package gallery stores labeled face crops on disk, one directory per person.
package gallery

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
)

// TimestampLayout names example files at second granularity.
const TimestampLayout = "20060102_150405"

// ErrInvalidName is returned for names that cannot be used as a directory.
var ErrInvalidName = errors.New("invalid person name")

// Example is one stored face crop.
type Example struct {
	Name string
	Path string
}

// Person summarizes one gallery directory.
type Person struct {
	Name     string
	Examples int
}

// Gallery is the dataset root: Root/<name>/<YYYYMMDD_HHMMSS>.png.
type Gallery struct {
	Root string
	Now  func() time.Time

	dirs      map[string]bool
	dirsMutex sync.Mutex
}

// New returns a gallery rooted at root. The root is created lazily on the first Append.
func New(root string) *Gallery {
	return &Gallery{
		Root: root,
		Now:  time.Now,
		dirs: make(map[string]bool, 10),
	}
}

// ValidateName checks that name is usable as a single directory component.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (g *Gallery) createDir(dir string) error {
	g.dirsMutex.Lock()
	defer g.dirsMutex.Unlock()

	if ok := g.dirs[dir]; ok {
		// Someone may have deleted it behind our back
		if _, err := os.Stat(dir); err == nil {
			return nil
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	g.dirs[dir] = true
	return nil
}

// ListNames returns the sorted person names. A missing root has no names.
func (g *Gallery) ListNames() ([]string, error) {
	entries, err := os.ReadDir(g.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Append stores img as a new example for name and returns the written path.
// Two appends for the same name within one second overwrite each other.
func (g *Gallery) Append(name string, img image.Image) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if img == nil || img.Bounds().Empty() {
		return "", fmt.Errorf("refusing to store an empty image for %q", name)
	}

	dir := filepath.Join(g.Root, name)
	if err := g.createDir(dir); err != nil {
		return "", fmt.Errorf("failed to create gallery directory: %w", err)
	}

	path := filepath.Join(dir, g.Now().Format(TimestampLayout)+".png")
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("failed to write example: %w", err)
	}

	log.WithFields(log.Fields{"name": name, "path": path}).Info("Remembered face")
	return path, nil
}

// Examples lists every stored file, ordered by name then path.
func (g *Gallery) Examples() ([]Example, error) {
	names, err := g.ListNames()
	if err != nil {
		return nil, err
	}

	var examples []Example
	for _, name := range names {
		entries, err := os.ReadDir(filepath.Join(g.Root, name))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			examples = append(examples, Example{Name: name, Path: filepath.Join(g.Root, name, e.Name())})
		}
	}
	return examples, nil
}

// Summary returns every person with the number of stored examples.
func (g *Gallery) Summary() ([]Person, error) {
	examples, err := g.Examples()
	if err != nil {
		return nil, err
	}
	names, err := g.ListNames()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(names))
	for _, e := range examples {
		counts[e.Name]++
	}
	people := make([]Person, 0, len(names))
	for _, n := range names {
		people = append(people, Person{Name: n, Examples: counts[n]})
	}
	return people, nil
}

// Load decodes a stored example, applying EXIF orientation if present.
func (g *Gallery) Load(path string) (image.Image, error) {
	return imaging.Open(path, imaging.AutoOrientation(true))
}

// Rename moves every example of oldName under newName. newName must not exist yet.
func (g *Gallery) Rename(oldName, newName string) error {
	if err := ValidateName(oldName); err != nil {
		return err
	}
	if err := ValidateName(newName); err != nil {
		return err
	}

	from := filepath.Join(g.Root, oldName)
	to := filepath.Join(g.Root, newName)
	if _, err := os.Stat(from); err != nil {
		return fmt.Errorf("person %q not found: %w", oldName, err)
	}
	if _, err := os.Stat(to); err == nil {
		return fmt.Errorf("person %q already exists", newName)
	}
	if err := os.Rename(from, to); err != nil {
		return err
	}

	g.dirsMutex.Lock()
	delete(g.dirs, from)
	g.dirsMutex.Unlock()
	return nil
}
