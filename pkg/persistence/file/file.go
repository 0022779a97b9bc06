// Package file provides a JSON-file persistence implementation for development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/coursepipe/pkg/persistence"
)

// store is shared by every repository of one Persistence. A single mutex
// serializes all reads and writes, which makes check-then-write sequences
// atomic within one process.
type store struct {
	root string
	mu   sync.Mutex
}

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	store *store

	runRepo      *RunRepository
	stepRepo     *StepExecutionRepository
	reviewRepo   *ReviewRepository
	sourceRepo   *SourceRepository
	artifactRepo *ArtifactRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	s := &store{root: strings.Replace(root, "file://", "", 1)}

	return &Persistence{
		store:        s,
		runRepo:      &RunRepository{store: s},
		stepRepo:     &StepExecutionRepository{store: s},
		reviewRepo:   &ReviewRepository{store: s},
		sourceRepo:   &SourceRepository{store: s},
		artifactRepo: &ArtifactRepository{store: s},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.store.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runRepo
}

func (fp *Persistence) StepExecutionRepository() persistence.StepExecutionRepository {
	return fp.stepRepo
}

func (fp *Persistence) ReviewRepository() persistence.ReviewRepository {
	return fp.reviewRepo
}

func (fp *Persistence) SourceRepository() persistence.SourceRepository {
	return fp.sourceRepo
}

func (fp *Persistence) ArtifactRepository() persistence.ArtifactRepository {
	return fp.artifactRepo
}

// validateID validates that an identifier is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("ID cannot be empty")
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("ID contains invalid characters")
	}

	return nil
}

func (s *store) path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

func writeJSON(path string, value any) error {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	// Write to a temporary file first so readers never observe a partial document.
	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

// readJSON decodes the file into value. It returns os.ErrNotExist (wrapped) for missing files.
func readJSON(path string, value any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from validated identifiers
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return nil
}

// readAll decodes every JSON document of a directory. A missing directory yields no documents.
func readAll[T any](dir string) ([]*T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	items := make([]*T, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		item := new(T)

		err := readJSON(filepath.Join(dir, entry.Name()), item)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	return items, nil
}
