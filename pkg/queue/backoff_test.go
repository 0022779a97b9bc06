package queue

import (
	"testing"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	backoff := DefaultBackoff()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 5 * time.Second},
		{attempt: 1, want: 5 * time.Second},
		{attempt: 2, want: 10 * time.Second},
		{attempt: 3, want: 20 * time.Second},
		{attempt: 6, want: 160 * time.Second},
		{attempt: 7, want: 5 * time.Minute},
		{attempt: 50, want: 5 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetry_IncrementsAttempt(t *testing.T) {
	job := models.Job{RunID: "run-1", Stage: models.StagePractice, ScopeKey: models.ScopeKey(2), Attempt: 1}

	next := retry(job)

	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, job.Key(), next.Key())
	assert.Equal(t, 1, job.Attempt)
}

func TestEncodeDecode(t *testing.T) {
	job := models.Job{RunID: "run-1", SourceID: "book-1", Stage: models.StageEpisodeDraft, StageOrdinal: 4, ScopeKey: models.ScopeKey(7), Attempt: 3}

	payload, err := encode(job)
	assert.NoError(t, err)

	decoded, err := decode(payload)
	assert.NoError(t, err)
	assert.Equal(t, job, decoded)

	_, err = decode([]byte("not json"))
	assert.Error(t, err)
}
