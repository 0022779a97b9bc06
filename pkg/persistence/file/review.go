package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/google/uuid"
)

// ReviewRepository stores human review records, one file per (run, stage, revision).
type ReviewRepository struct {
	store *store
}

func (r *ReviewRepository) reviewPath(runID string, stage models.Stage, revision int) string {
	return r.store.path("reviews", runID, fmt.Sprintf("%s-%d.json", stage, revision))
}

func (r *ReviewRepository) CreateReview(_ context.Context, review *models.HumanReviewRecord) error {
	if err := validateID(review.RunID); err != nil {
		return persistence.NewRunError("CreateReview", review.RunID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	path := r.reviewPath(review.RunID, review.Stage, review.Revision)
	if _, err := os.Stat(path); err == nil {
		return persistence.NewRunError("CreateReview", review.RunID, persistence.ErrReviewAlreadyExists)
	}

	if review.ID == "" {
		review.ID = uuid.NewString()
	}

	err := writeJSON(path, review)
	if err != nil {
		return persistence.NewRunError("CreateReview", review.RunID, err)
	}

	return nil
}

func (r *ReviewRepository) FindReview(_ context.Context, runID string, stage models.Stage, revision int) (*models.HumanReviewRecord, error) {
	if err := validateID(runID); err != nil {
		return nil, persistence.NewRunError("FindReview", runID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var review models.HumanReviewRecord

	err := readJSON(r.reviewPath(runID, stage, revision), &review)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewRunError("FindReview", runID, persistence.ErrReviewNotFound)
		}

		return nil, persistence.NewRunError("FindReview", runID, err)
	}

	return &review, nil
}

func (r *ReviewRepository) ListReviews(_ context.Context, runID string) ([]*models.HumanReviewRecord, error) {
	if err := validateID(runID); err != nil {
		return nil, persistence.NewRunError("ListReviews", runID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	reviews, err := readAll[models.HumanReviewRecord](r.store.path("reviews", runID))
	if err != nil {
		return nil, persistence.NewRunError("ListReviews", runID, err)
	}

	sort.Slice(reviews, func(i, j int) bool {
		return reviews[i].ReviewedAt.Before(reviews[j].ReviewedAt)
	})

	return reviews, nil
}
