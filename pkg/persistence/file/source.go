package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
)

// SourceRepository handles source file operations.
type SourceRepository struct {
	store *store
}

func (r *SourceRepository) sourcePath(id string) string {
	return r.store.path("sources", id+".json")
}

func (r *SourceRepository) load(id string) (*models.Source, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid source ID: %w", err)
	}

	var source models.Source

	err := readJSON(r.sourcePath(id), &source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("source %s: %w", id, persistence.ErrSourceNotFound)
		}

		return nil, err
	}

	return &source, nil
}

func (r *SourceRepository) GetSource(_ context.Context, id string) (*models.Source, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.load(id)
}

func (r *SourceRepository) SaveSource(_ context.Context, source *models.Source) error {
	if err := validateID(source.ID); err != nil {
		return fmt.Errorf("invalid source ID: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	source.UpdatedAt = time.Now().UTC()

	return writeJSON(r.sourcePath(source.ID), source)
}

func (r *SourceRepository) update(id string, fn func(*models.Source)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	source, err := r.load(id)
	if err != nil {
		return err
	}

	fn(source)
	source.UpdatedAt = time.Now().UTC()

	return writeJSON(r.sourcePath(id), source)
}

func (r *SourceRepository) SetLocked(_ context.Context, id string, locked bool) error {
	return r.update(id, func(source *models.Source) {
		source.Locked = locked
	})
}

func (r *SourceRepository) MarkCompleted(_ context.Context, id, artifactID string) error {
	return r.update(id, func(source *models.Source) {
		source.CompletedArtifactID = artifactID
	})
}
