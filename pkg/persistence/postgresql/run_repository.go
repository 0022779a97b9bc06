package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/persistence/sqlbase"
)

const runColumns = `id, source_id, status, current_stage, current_stage_ordinal, progress_percent,
	revision_count, episode_count, initiator, error_code, error_message, degraded_completion,
	degraded_reason, artifact_id, checkpoint, started_at, updated_at, completed_at, version`

// RunRepository handles pipeline run database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// CreateRun inserts a run. The partial unique index on source_id rejects a
// second non-terminal run for the same source.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.PipelineRun) error {
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}

	run.UpdatedAt = now
	run.Version = 1

	checkpoint, err := marshalCheckpoint(run.Checkpoint)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	query := `INSERT INTO pipeline_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.SourceID, run.Status, run.CurrentStage, run.CurrentStageOrdinal, run.ProgressPercent,
		run.RevisionCount, run.EpisodeCount, nullString(run.Initiator), nullString(run.ErrorCode),
		nullString(run.ErrorMessage), run.DegradedCompletion, nullString(run.DegradedReason),
		nullString(run.ArtifactID), checkpoint, run.StartedAt, run.UpdatedAt, run.CompletedAt, run.Version,
	)
	if err != nil {
		if sqlbase.IsUniqueViolation(err, activeRunConstraint) {
			return persistence.NewRunError("CreateRun", run.ID, persistence.ErrActiveRunExists)
		}

		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetRun", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetRun", id, err)
	}

	return run, nil
}

func (r *RunRepository) ActiveRunForSource(ctx context.Context, sourceID string) (*models.PipelineRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs
		WHERE source_id = $1 AND status NOT IN ('DEPLOYED', 'CANCELLED')`, sourceID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to query active run for source %s: %w", sourceID, err)
	}

	return run, nil
}

// UpdateRun writes every column except checkpoint, guarded by the version column.
func (r *RunRepository) UpdateRun(ctx context.Context, run *models.PipelineRun) error {
	now := time.Now().UTC()

	query := `
		UPDATE pipeline_runs SET
			status = $3, current_stage = $4, current_stage_ordinal = $5, progress_percent = $6,
			revision_count = $7, episode_count = $8, initiator = $9, error_code = $10,
			error_message = $11, degraded_completion = $12, degraded_reason = $13, artifact_id = $14,
			completed_at = $15, updated_at = $16, version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		run.ID, run.Version, run.Status, run.CurrentStage, run.CurrentStageOrdinal, run.ProgressPercent,
		run.RevisionCount, run.EpisodeCount, nullString(run.Initiator), nullString(run.ErrorCode),
		nullString(run.ErrorMessage), run.DegradedCompletion, nullString(run.DegradedReason),
		nullString(run.ArtifactID), run.CompletedAt, now,
	)
	if err != nil {
		return persistence.NewRunError("UpdateRun", run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("UpdateRun", run.ID, err)
	}

	if affected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pipeline_runs WHERE id = $1)`, run.ID).Scan(&exists)
		if err != nil {
			return persistence.NewRunError("UpdateRun", run.ID, err)
		}

		if !exists {
			return persistence.NewRunError("UpdateRun", run.ID, persistence.ErrRunNotFound)
		}

		return persistence.NewRunError("UpdateRun", run.ID, persistence.ErrVersionConflict)
	}

	run.Version++
	run.UpdatedAt = now

	return nil
}

// MutateCheckpoint reads the checkpoint with SELECT ... FOR UPDATE, applies fn and writes it back.
// It touches updated_at so the stuck sweeper sees fan-out progress. The run
// version is left untouched so checkpoint saves never conflict with status changes.
func (r *RunRepository) MutateCheckpoint(ctx context.Context, runID string, fn persistence.CheckpointMutator) (*models.Checkpoint, error) {
	var result *models.Checkpoint

	err := sqlbase.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var raw []byte

		err := tx.QueryRowContext(ctx, `SELECT checkpoint FROM pipeline_runs WHERE id = $1 FOR UPDATE`, runID).Scan(&raw)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return persistence.ErrRunNotFound
			}

			return err
		}

		current, err := unmarshalCheckpoint(raw)
		if err != nil {
			return err
		}

		result = fn(current)

		encoded, err := marshalCheckpoint(result)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE pipeline_runs SET checkpoint = $2, updated_at = $3 WHERE id = $1`,
			runID, encoded, time.Now().UTC())

		return err
	})
	if err != nil {
		return nil, persistence.NewRunError("MutateCheckpoint", runID, err)
	}

	return result, nil
}

func (r *RunRepository) ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.PipelineRun, error) {
	var (
		conditions []string
		args       []any
	)

	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}

	if filter.SourceID != "" {
		add("source_id = $%d", filter.SourceID)
	}

	if !filter.UpdatedBefore.IsZero() {
		add("updated_at < $%d", filter.UpdatedBefore)
	}

	if filter.Degraded != nil {
		add("degraded_completion = $%d", *filter.Degraded)
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY updated_at ASC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline runs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var runs []*models.PipelineRun

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pipeline runs: %w", err)
	}

	return runs, nil
}

func scanRun(row scanner) (*models.PipelineRun, error) {
	var (
		run            models.PipelineRun
		initiator      sql.NullString
		errorCode      sql.NullString
		errorMessage   sql.NullString
		degradedReason sql.NullString
		artifactID     sql.NullString
		checkpoint     []byte
		completedAt    sql.NullTime
	)

	err := row.Scan(
		&run.ID, &run.SourceID, &run.Status, &run.CurrentStage, &run.CurrentStageOrdinal, &run.ProgressPercent,
		&run.RevisionCount, &run.EpisodeCount, &initiator, &errorCode, &errorMessage, &run.DegradedCompletion,
		&degradedReason, &artifactID, &checkpoint, &run.StartedAt, &run.UpdatedAt, &completedAt, &run.Version,
	)
	if err != nil {
		return nil, err
	}

	run.Initiator = initiator.String
	run.ErrorCode = errorCode.String
	run.ErrorMessage = errorMessage.String
	run.DegradedReason = degradedReason.String
	run.ArtifactID = artifactID.String

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	run.Checkpoint, err = unmarshalCheckpoint(checkpoint)
	if err != nil {
		return nil, err
	}

	return &run, nil
}

func marshalCheckpoint(checkpoint *models.Checkpoint) ([]byte, error) {
	if checkpoint == nil {
		return nil, nil
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	return data, nil
}

func unmarshalCheckpoint(data []byte) (*models.Checkpoint, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var checkpoint models.Checkpoint

	err := json.Unmarshal(data, &checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	return &checkpoint, nil
}
