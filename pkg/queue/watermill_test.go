package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/coursepipe/pkg/channels/gochannel"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	mu   sync.Mutex
	jobs []models.Job
}

func (r *received) add(job models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs = append(r.jobs, job)
}

func (r *received) snapshot() []models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]models.Job(nil), r.jobs...)
}

func newTestQueue(t *testing.T, opts ...Option) *WatermillQueue {
	t.Helper()

	pub, sub, err := gochannel.CreatePersistentChannel(watermill.NewSlogLogger(slog.Default()))
	require.NoError(t, err)

	q := NewWatermillQueue(pub, sub, slog.Default(), opts...)
	t.Cleanup(func() { _ = q.Close() })

	return q
}

func TestWatermillQueue_DeliversBulkJobs(t *testing.T) {
	q := newTestQueue(t)
	run := &models.PipelineRun{ID: "run-1", SourceID: "book-1"}

	require.NoError(t, q.EnqueueBulk(t.Context(), []models.Job{
		models.NewJob(run, models.StagePractice, models.ScopeKey(1)),
		models.NewJob(run, models.StagePractice, models.ScopeKey(2)),
		models.NewJob(run, models.StagePractice, models.ScopeKey(3)),
	}))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	got := &received{}

	go func() {
		_ = q.Consume(ctx, func(_ context.Context, job models.Job) error {
			got.add(job)

			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(got.snapshot()) == 3 }, 5*time.Second, 10*time.Millisecond)

	jobs := got.snapshot()
	for i, job := range jobs {
		assert.Equal(t, models.StagePractice, job.Stage)
		assert.Equal(t, i+1, models.ScopeValue(job.ScopeKey))
		assert.Equal(t, 1, job.Attempt)
	}
}

func TestWatermillQueue_RedeliversFailedJobs(t *testing.T) {
	q := newTestQueue(t, WithBackoff(Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}))
	run := &models.PipelineRun{ID: "run-1", SourceID: "book-1"}

	require.NoError(t, q.Enqueue(t.Context(), models.NewJob(run, models.StageIdea, nil)))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	got := &received{}

	go func() {
		_ = q.Consume(ctx, func(_ context.Context, job models.Job) error {
			got.add(job)

			if job.Attempt < 3 {
				return errors.New("retry scheduled")
			}

			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(got.snapshot()) == 3 }, 5*time.Second, 10*time.Millisecond)

	jobs := got.snapshot()
	assert.Equal(t, []int{1, 2, 3}, []int{jobs[0].Attempt, jobs[1].Attempt, jobs[2].Attempt})

	// Handled successfully on the third attempt, nothing else arrives.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, got.snapshot(), 3)
}

func TestWatermillQueue_EmptyBulkIsNoop(t *testing.T) {
	q := newTestQueue(t)

	assert.NoError(t, q.EnqueueBulk(t.Context(), nil))
}
