package file

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
)

// ArtifactRepository handles course artifact file operations.
type ArtifactRepository struct {
	store *store
}

func (r *ArtifactRepository) SaveArtifact(_ context.Context, artifact *models.Artifact) error {
	if err := validateID(artifact.ID); err != nil {
		return fmt.Errorf("invalid artifact ID: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return writeJSON(r.store.path("artifacts", artifact.ID+".json"), artifact)
}

func (r *ArtifactRepository) GetArtifact(_ context.Context, id string) (*models.Artifact, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid artifact ID: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var artifact models.Artifact

	err := readJSON(r.store.path("artifacts", id+".json"), &artifact)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s: %w", id, persistence.ErrArtifactNotFound)
		}

		return nil, err
	}

	return &artifact, nil
}
