package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const stepColumns = `id, run_id, stage, stage_ordinal, scope_key, revision, status, retry_count, started_at,
	completed_at, duration_ms, error_code, error_message, input_snapshot, output_payload, summary,
	provider, input_tokens, output_tokens, latency_ms, created_at, updated_at, version`

// StepExecutionRepository handles step execution database operations.
type StepExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepExecutionRepository creates a new step execution repository.
func NewStepExecutionRepository(db *sql.DB, logger *slog.Logger) *StepExecutionRepository {
	return &StepExecutionRepository{db: db, logger: logger}
}

// FindOrCreate relies on the (run_id, stage, scope_key) unique key: the insert
// is skipped on conflict and the existing row is read back instead.
func (r *StepExecutionRepository) FindOrCreate(ctx context.Context, exec *models.StepExecution) (*models.StepExecution, bool, error) {
	id := exec.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO step_executions (id, run_id, stage, stage_ordinal, scope_key, revision, status,
			retry_count, input_snapshot, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, 1)
		ON CONFLICT (run_id, stage, scope_key) DO NOTHING
		RETURNING ` + stepColumns

	row := r.db.QueryRowContext(ctx, query,
		id, exec.RunID, exec.Stage, exec.StageOrdinal, exec.ScopeValue(), exec.Revision, exec.Status,
		exec.RetryCount, nullJSON(exec.InputSnapshot), now,
	)

	created, err := scanStepExecution(row)
	if err == nil {
		return created, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, persistence.NewStepExecutionError("FindOrCreate", exec.RunID, string(exec.Stage), exec.ScopeValue(), err)
	}

	existing, err := r.FindStepExecution(ctx, exec.RunID, exec.Stage, exec.ScopeKey)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (r *StepExecutionRepository) GetStepExecution(ctx context.Context, id string) (*models.StepExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM step_executions WHERE id = $1`, id)

	exec, err := scanStepExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("step execution %s: %w", id, persistence.ErrStepExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to get step execution %s: %w", id, err)
	}

	return exec, nil
}

func (r *StepExecutionRepository) FindStepExecution(ctx context.Context, runID string, stage models.Stage, scopeKey *int) (*models.StepExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM step_executions
		WHERE run_id = $1 AND stage = $2 AND scope_key = $3`, runID, stage, models.ScopeValue(scopeKey))

	exec, err := scanStepExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = persistence.ErrStepExecutionNotFound
		}

		return nil, persistence.NewStepExecutionError("FindStepExecution", runID, string(stage), models.ScopeValue(scopeKey), err)
	}

	return exec, nil
}

func (r *StepExecutionRepository) UpdateStepExecution(ctx context.Context, exec *models.StepExecution) error {
	now := time.Now().UTC()

	query := `
		UPDATE step_executions SET
			status = $3, retry_count = $4, started_at = $5, completed_at = $6, duration_ms = $7,
			error_code = $8, error_message = $9, input_snapshot = $10, output_payload = $11,
			summary = $12, provider = $13, input_tokens = $14, output_tokens = $15, latency_ms = $16,
			updated_at = $17, version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		exec.ID, exec.Version, exec.Status, exec.RetryCount, exec.StartedAt, exec.CompletedAt, exec.DurationMs,
		nullString(exec.ErrorCode), nullString(exec.ErrorMessage), nullJSON(exec.InputSnapshot),
		nullJSON(exec.OutputPayload), nullString(exec.Summary), nullString(exec.Provider),
		exec.InputTokens, exec.OutputTokens, exec.LatencyMs, now,
	)
	if err != nil {
		return persistence.NewStepExecutionError("UpdateStepExecution", exec.RunID, string(exec.Stage), exec.ScopeValue(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStepExecutionError("UpdateStepExecution", exec.RunID, string(exec.Stage), exec.ScopeValue(), err)
	}

	if affected == 0 {
		cause := persistence.ErrVersionConflict
		if _, getErr := r.GetStepExecution(ctx, exec.ID); errors.Is(getErr, persistence.ErrStepExecutionNotFound) {
			cause = persistence.ErrStepExecutionNotFound
		}

		return persistence.NewStepExecutionError("UpdateStepExecution", exec.RunID, string(exec.Stage), exec.ScopeValue(), cause)
	}

	exec.Version++
	exec.UpdatedAt = now

	return nil
}

func (r *StepExecutionRepository) ListByRun(ctx context.Context, runID string, statuses ...models.StepStatus) ([]*models.StepExecution, error) {
	query := `SELECT ` + stepColumns + ` FROM step_executions WHERE run_id = $1`
	args := []any{runID}

	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, status := range statuses {
			values = append(values, string(status))
		}

		query += ` AND status = ANY($2)`

		args = append(args, pq.Array(values))
	}

	query += ` ORDER BY stage_ordinal ASC, scope_key ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions of run %s: %w", runID, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var execs []*models.StepExecution

	for rows.Next() {
		exec, err := scanStepExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}

	return execs, nil
}

// CountByStatus is served by idx_step_executions_run_stage_status.
func (r *StepExecutionRepository) CountByStatus(ctx context.Context, runID string, stage models.Stage, status models.StepStatus) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM step_executions
		WHERE run_id = $1 AND stage = $2 AND status = $3`, runID, stage, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count step executions of run %s: %w", runID, err)
	}

	return count, nil
}

func (r *StepExecutionRepository) DeleteByRun(ctx context.Context, runID string) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM step_executions WHERE run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete step executions of run %s: %w", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete step executions of run %s: %w", runID, err)
	}

	return int(affected), nil
}

func scanStepExecution(row scanner) (*models.StepExecution, error) {
	var (
		exec          models.StepExecution
		scopeKey      int
		startedAt     sql.NullTime
		completedAt   sql.NullTime
		errorCode     sql.NullString
		errorMessage  sql.NullString
		inputSnapshot []byte
		output        []byte
		summary       sql.NullString
		provider      sql.NullString
	)

	err := row.Scan(
		&exec.ID, &exec.RunID, &exec.Stage, &exec.StageOrdinal, &scopeKey, &exec.Revision, &exec.Status,
		&exec.RetryCount, &startedAt, &completedAt, &exec.DurationMs, &errorCode, &errorMessage, &inputSnapshot, &output,
		&summary, &provider, &exec.InputTokens, &exec.OutputTokens, &exec.LatencyMs, &exec.CreatedAt,
		&exec.UpdatedAt, &exec.Version,
	)
	if err != nil {
		return nil, err
	}

	exec.ScopeKey = models.ScopeFromValue(scopeKey)
	exec.ErrorCode = errorCode.String
	exec.ErrorMessage = errorMessage.String
	exec.Summary = summary.String
	exec.Provider = provider.String

	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}

	if len(inputSnapshot) > 0 {
		exec.InputSnapshot = inputSnapshot
	}

	if len(output) > 0 {
		exec.OutputPayload = output
	}

	return &exec, nil
}

// nullJSON maps an empty payload to SQL NULL so JSONB columns never receive invalid input.
func nullJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}

	return data
}
