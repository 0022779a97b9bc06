package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
)

// SourceRepository handles source database operations.
type SourceRepository struct {
	db *sql.DB
}

// NewSourceRepository creates a new source repository.
func NewSourceRepository(db *sql.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

func (r *SourceRepository) GetSource(ctx context.Context, id string) (*models.Source, error) {
	var (
		source      models.Source
		author      sql.NullString
		language    sql.NullString
		completedID sql.NullString
		metadata    []byte
	)

	err := r.db.QueryRowContext(ctx, `SELECT id, title, author, language, status, unit_count, locked,
		completed_artifact_id, metadata, updated_at FROM sources WHERE id = $1`, id).Scan(
		&source.ID, &source.Title, &author, &language, &source.Status, &source.UnitCount, &source.Locked,
		&completedID, &metadata, &source.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source %s: %w", id, persistence.ErrSourceNotFound)
		}

		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}

	source.Author = author.String
	source.Language = language.String
	source.CompletedArtifactID = completedID.String

	if len(metadata) > 0 {
		err = json.Unmarshal(metadata, &source.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of source %s: %w", id, err)
		}
	}

	return &source, nil
}

func (r *SourceRepository) SaveSource(ctx context.Context, source *models.Source) error {
	metadata, err := json.Marshal(source.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata of source %s: %w", source.ID, err)
	}

	source.UpdatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sources (id, title, author, language, status, unit_count, locked, completed_artifact_id, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			language = EXCLUDED.language,
			status = EXCLUDED.status,
			unit_count = EXCLUDED.unit_count,
			locked = EXCLUDED.locked,
			completed_artifact_id = EXCLUDED.completed_artifact_id,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, source.ID, source.Title, nullString(source.Author), nullString(source.Language), source.Status,
		source.UnitCount, source.Locked, nullString(source.CompletedArtifactID), metadata, source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save source %s: %w", source.ID, err)
	}

	return nil
}

func (r *SourceRepository) exec(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update source %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update source %s: %w", id, err)
	}

	if affected == 0 {
		return fmt.Errorf("source %s: %w", id, persistence.ErrSourceNotFound)
	}

	return nil
}

func (r *SourceRepository) SetLocked(ctx context.Context, id string, locked bool) error {
	return r.exec(ctx, id, `UPDATE sources SET locked = $2, updated_at = NOW() WHERE id = $1`, locked)
}

func (r *SourceRepository) MarkCompleted(ctx context.Context, id, artifactID string) error {
	return r.exec(ctx, id, `UPDATE sources SET completed_artifact_id = $2, updated_at = NOW() WHERE id = $1`, artifactID)
}
