package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/dukex/coursepipe/pkg/executor"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, job models.Job) (*executor.Result, error) {
	args := m.Called(ctx, job)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*executor.Result), args.Error(1)
}

type mockCallbacks struct {
	mock.Mock
}

func (m *mockCallbacks) OnStageCompleted(ctx context.Context, runID string, stage models.Stage, scopeKey *int) error {
	return m.Called(ctx, runID, stage, scopeKey).Error(0)
}

func (m *mockCallbacks) OnStageFailed(ctx context.Context, runID string, stage models.Stage, scopeKey *int, code, message string) error {
	return m.Called(ctx, runID, stage, scopeKey, code, message).Error(0)
}

var job = models.Job{RunID: "run-1", SourceID: "book-1", Stage: models.StageEpisodeContent, ScopeKey: models.ScopeKey(2), Attempt: 1}

func newWorker(exec *mockExecutor, callbacks *mockCallbacks) *Worker {
	return New("worker-1", exec, callbacks, slog.Default())
}

func TestHandle_SuccessReportsCompletion(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, job).Return(&executor.Result{Success: true, StepExecutionID: "step-1"}, nil)

	callbacks := &mockCallbacks{}
	callbacks.On("OnStageCompleted", mock.Anything, "run-1", models.StageEpisodeContent, job.ScopeKey).Return(nil)

	assert.NoError(t, newWorker(exec, callbacks).Handle(t.Context(), job))
	callbacks.AssertExpectations(t)
}

func TestHandle_AlreadyCompletedReportsCompletionAgain(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, job).Return(&executor.Result{Success: true, AlreadyCompleted: true}, nil)

	callbacks := &mockCallbacks{}
	callbacks.On("OnStageCompleted", mock.Anything, "run-1", models.StageEpisodeContent, job.ScopeKey).Return(nil)

	assert.NoError(t, newWorker(exec, callbacks).Handle(t.Context(), job))
	callbacks.AssertNumberOfCalls(t, "OnStageCompleted", 1)
}

func TestHandle_RetryScheduledIsRedelivered(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, job).Return(
		&executor.Result{Failure: &executor.Failure{Code: "RATE_LIMITED", Retriable: true}},
		fmt.Errorf("%w: RATE_LIMITED", executor.ErrRetryScheduled),
	)

	callbacks := &mockCallbacks{}

	err := newWorker(exec, callbacks).Handle(t.Context(), job)
	assert.ErrorIs(t, err, executor.ErrRetryScheduled)
	callbacks.AssertNotCalled(t, "OnStageFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_ExhaustedFailsStage(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, job).Return(
		&executor.Result{StepExecutionID: "step-1", Failure: &executor.Failure{Code: "MISSING_PRIOR_OUTPUT", Message: "episode_draft 2 has no output"}},
		nil,
	)

	callbacks := &mockCallbacks{}
	callbacks.On("OnStageFailed", mock.Anything, "run-1", models.StageEpisodeContent, job.ScopeKey,
		"MISSING_PRIOR_OUTPUT", "episode_draft 2 has no output").Return(nil)

	assert.NoError(t, newWorker(exec, callbacks).Handle(t.Context(), job))
	callbacks.AssertExpectations(t)
}

func TestHandle_UnknownStageIsDropped(t *testing.T) {
	unknown := models.Job{RunID: "run-1", SourceID: "book-1", Stage: "mastering", Attempt: 1}

	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, unknown).Return(
		&executor.Result{Failure: &executor.Failure{Code: protocol.CodeUnknownStage, Message: `unknown stage "mastering"`}},
		nil,
	)

	callbacks := &mockCallbacks{}

	assert.NoError(t, newWorker(exec, callbacks).Handle(t.Context(), unknown))
	callbacks.AssertNotCalled(t, "OnStageFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_SkippedIsAcknowledged(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, job).Return(&executor.Result{Skipped: true}, nil)

	callbacks := &mockCallbacks{}

	assert.NoError(t, newWorker(exec, callbacks).Handle(t.Context(), job))
	callbacks.AssertNotCalled(t, "OnStageCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_CallbackErrorIsRedelivered(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, job).Return(&executor.Result{Success: true}, nil)

	callbacks := &mockCallbacks{}
	callbacks.On("OnStageCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("database unavailable"))

	assert.EqualError(t, newWorker(exec, callbacks).Handle(t.Context(), job), "database unavailable")
}

type stubConsumer struct {
	jobs []models.Job
	errs []error
}

func (c *stubConsumer) Consume(ctx context.Context, handler protocol.JobHandler) error {
	for _, job := range c.jobs {
		c.errs = append(c.errs, handler(ctx, job))
	}

	return nil
}

func (c *stubConsumer) Close() error { return nil }

func TestRun_HandlesConsumedJobs(t *testing.T) {
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return(&executor.Result{Skipped: true}, nil)

	consumer := &stubConsumer{jobs: []models.Job{job, job}}

	assert.NoError(t, newWorker(exec, &mockCallbacks{}).Run(t.Context(), consumer))
	assert.Equal(t, []error{nil, nil}, consumer.errs)
	exec.AssertNumberOfCalls(t, "Execute", 2)
}
