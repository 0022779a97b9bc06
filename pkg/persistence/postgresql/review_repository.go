package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/persistence/sqlbase"
	"github.com/google/uuid"
)

const reviewColumns = `id, run_id, stage, revision, review_type, decision, reviewer, reviewed_at, comment, selected_option_id`

// ReviewRepository handles human review database operations.
type ReviewRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewReviewRepository creates a new review repository.
func NewReviewRepository(db *sql.DB, logger *slog.Logger) *ReviewRepository {
	return &ReviewRepository{db: db, logger: logger}
}

func (r *ReviewRepository) CreateReview(ctx context.Context, review *models.HumanReviewRecord) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}

	var selected sql.NullString
	if review.SelectedOptionID != nil {
		selected = sql.NullString{String: *review.SelectedOptionID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO human_reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		review.ID, review.RunID, review.Stage, review.Revision, review.ReviewType, review.Decision,
		review.Reviewer, review.ReviewedAt, nullString(review.Comment), selected,
	)
	if err != nil {
		if sqlbase.IsUniqueViolation(err, "") {
			return persistence.NewRunError("CreateReview", review.RunID, persistence.ErrReviewAlreadyExists)
		}

		return persistence.NewRunError("CreateReview", review.RunID, err)
	}

	return nil
}

func (r *ReviewRepository) FindReview(ctx context.Context, runID string, stage models.Stage, revision int) (*models.HumanReviewRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM human_reviews
		WHERE run_id = $1 AND stage = $2 AND revision = $3`, runID, stage, revision)

	review, err := scanReview(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("FindReview", runID, persistence.ErrReviewNotFound)
		}

		return nil, persistence.NewRunError("FindReview", runID, err)
	}

	return review, nil
}

func (r *ReviewRepository) ListReviews(ctx context.Context, runID string) ([]*models.HumanReviewRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reviewColumns+` FROM human_reviews
		WHERE run_id = $1 ORDER BY reviewed_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews of run %s: %w", runID, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var reviews []*models.HumanReviewRecord

	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}

		reviews = append(reviews, review)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}

	return reviews, nil
}

func scanReview(row scanner) (*models.HumanReviewRecord, error) {
	var (
		review   models.HumanReviewRecord
		comment  sql.NullString
		selected sql.NullString
	)

	err := row.Scan(&review.ID, &review.RunID, &review.Stage, &review.Revision, &review.ReviewType,
		&review.Decision, &review.Reviewer, &review.ReviewedAt, &comment, &selected)
	if err != nil {
		return nil, err
	}

	review.Comment = comment.String
	if selected.Valid {
		review.SelectedOptionID = &selected.String
	}

	return &review, nil
}
