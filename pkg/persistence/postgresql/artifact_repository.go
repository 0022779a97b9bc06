package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
)

// ArtifactRepository stores assembled artifacts as a JSONB document.
type ArtifactRepository struct {
	db *sql.DB
}

// NewArtifactRepository creates a new artifact repository.
func NewArtifactRepository(db *sql.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

func (r *ArtifactRepository) SaveArtifact(ctx context.Context, artifact *models.Artifact) error {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", artifact.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, run_id, source_id, title, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, payload = EXCLUDED.payload
	`, artifact.ID, artifact.RunID, artifact.SourceID, artifact.Title, payload, artifact.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", artifact.ID, err)
	}

	return nil
}

func (r *ArtifactRepository) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	var payload []byte

	err := r.db.QueryRowContext(ctx, `SELECT payload FROM artifacts WHERE id = $1`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("artifact %s: %w", id, persistence.ErrArtifactNotFound)
		}

		return nil, fmt.Errorf("failed to get artifact %s: %w", id, err)
	}

	var artifact models.Artifact

	err = json.Unmarshal(payload, &artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact %s: %w", id, err)
	}

	return &artifact, nil
}
