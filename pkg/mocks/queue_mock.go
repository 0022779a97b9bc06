package mocks

import (
	"context"
	"sync"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of protocol.Queue interface.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, job models.Job) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockQueue) EnqueueBulk(ctx context.Context, jobs []models.Job) error {
	args := m.Called(ctx, jobs)

	return args.Error(0)
}

// FakeQueue records enqueued jobs in memory. Each Enqueue or EnqueueBulk call is one batch.
type FakeQueue struct {
	mu      sync.Mutex
	batches [][]models.Job
}

func (q *FakeQueue) Enqueue(_ context.Context, job models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.batches = append(q.batches, []models.Job{job})

	return nil
}

func (q *FakeQueue) EnqueueBulk(_ context.Context, jobs []models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.batches = append(q.batches, append([]models.Job(nil), jobs...))

	return nil
}

// Batches returns a copy of every recorded batch.
func (q *FakeQueue) Batches() [][]models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	batches := make([][]models.Job, len(q.batches))
	copy(batches, q.batches)

	return batches
}

// Jobs returns every recorded job, flattened.
func (q *FakeQueue) Jobs() []models.Job {
	var jobs []models.Job
	for _, batch := range q.Batches() {
		jobs = append(jobs, batch...)
	}

	return jobs
}

// JobsForStage returns the recorded jobs of one stage.
func (q *FakeQueue) JobsForStage(stage models.Stage) []models.Job {
	var jobs []models.Job

	for _, job := range q.Jobs() {
		if job.Stage == stage {
			jobs = append(jobs, job)
		}
	}

	return jobs
}

// BatchesForStage returns the batches whose jobs belong to the stage.
func (q *FakeQueue) BatchesForStage(stage models.Stage) [][]models.Job {
	var batches [][]models.Job

	for _, batch := range q.Batches() {
		if len(batch) > 0 && batch[0].Stage == stage {
			batches = append(batches, batch)
		}
	}

	return batches
}

// Reset drops every recorded batch.
func (q *FakeQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.batches = nil
}
