package ledger

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/coursepipe/pkg/events"
	"github.com/dukex/coursepipe/pkg/mocks"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func setupLedger(t *testing.T) (*Ledger, *mocks.RecordingNotifier, *clock) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	notifier := &mocks.RecordingNotifier{}
	c := &clock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}

	return New(store.StepExecutionRepository(), notifier, slog.Default(), WithClock(c.Now)), notifier, c
}

func episodeJob(n int) models.Job {
	return models.Job{
		RunID:        "run-1",
		SourceID:     "book-1",
		Stage:        models.StageEpisodeDraft,
		StageOrdinal: models.StageEpisodeDraft.Ordinal(),
		ScopeKey:     models.ScopeKey(n),
		Attempt:      1,
	}
}

func TestLedger_FindOrCreateIsIdempotent(t *testing.T) {
	l, notifier, _ := setupLedger(t)
	ctx := t.Context()

	first, err := l.FindOrCreate(ctx, episodeJob(2))
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusPending, first.Status)
	assert.Equal(t, 4, first.StageOrdinal)

	second, err := l.FindOrCreate(ctx, episodeJob(2))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := l.FindOrCreate(ctx, episodeJob(3))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	assert.Equal(t, 2, notifier.Count(events.StepCreatedEvent))
}

func TestLedger_SuccessLifecycle(t *testing.T) {
	l, notifier, c := setupLedger(t)
	ctx := t.Context()

	exec, err := l.FindOrCreate(ctx, episodeJob(1))
	require.NoError(t, err)

	require.NoError(t, l.Claim(ctx, exec))
	assert.Equal(t, models.StepStatusRunning, exec.Status)
	require.NotNil(t, exec.StartedAt)

	c.Advance(1500 * time.Millisecond)

	err = l.MarkSuccess(ctx, exec, json.RawMessage(`{"title":"Episode 1"}`), "Episode 1", models.ProviderMetadata{
		Provider:     "openai",
		InputTokens:  120,
		OutputTokens: 800,
		LatencyMs:    1400,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StepStatusSuccess, exec.Status)
	assert.Equal(t, int64(1500), exec.DurationMs)
	assert.Equal(t, "openai", exec.Provider)
	assert.Equal(t, 800, exec.OutputTokens)
	require.NotNil(t, exec.CompletedAt)

	assert.Equal(t, []events.EventType{
		events.StepCreatedEvent,
		events.StepStartedEvent,
		events.StepCompletedEvent,
	}, notifier.Types())

	assert.ErrorIs(t, l.Claim(ctx, exec), ErrTerminal)
	assert.ErrorIs(t, l.MarkFailed(ctx, exec, Failure{Code: "X"}, true), ErrTerminal)
}

func TestLedger_FailedExecutionIsRequeuedOnClaim(t *testing.T) {
	l, notifier, _ := setupLedger(t)
	ctx := t.Context()

	exec, err := l.FindOrCreate(ctx, episodeJob(1))
	require.NoError(t, err)
	require.NoError(t, l.Claim(ctx, exec))

	require.NoError(t, l.MarkFailed(ctx, exec, Failure{Code: "GATEWAY_TIMEOUT", Message: "timed out"}, true))
	assert.Equal(t, models.StepStatusFailed, exec.Status)
	assert.Equal(t, 1, exec.RetryCount)
	assert.Equal(t, "GATEWAY_TIMEOUT", exec.ErrorCode)

	again, err := l.FindOrCreate(ctx, episodeJob(1))
	require.NoError(t, err)
	assert.Equal(t, exec.ID, again.ID)

	require.NoError(t, l.Claim(ctx, again))
	assert.Equal(t, models.StepStatusRunning, again.Status)
	assert.Equal(t, 1, again.RetryCount)

	require.NoError(t, l.MarkFailed(ctx, again, Failure{Code: "GATEWAY_TIMEOUT"}, false))
	assert.Equal(t, models.StepStatusExhausted, again.Status)
	assert.Equal(t, 2, again.RetryCount)

	assert.Equal(t, 2, notifier.Count(events.StepFailedEvent))
	assert.Equal(t, 2, notifier.Count(events.StepStartedEvent))
}

func TestLedger_ClaimRunningExecution(t *testing.T) {
	l, _, c := setupLedger(t)
	ctx := t.Context()

	exec, err := l.FindOrCreate(ctx, episodeJob(1))
	require.NoError(t, err)
	require.NoError(t, l.Claim(ctx, exec))

	duplicate, err := l.FindOrCreate(ctx, episodeJob(1))
	require.NoError(t, err)
	assert.ErrorIs(t, l.Claim(ctx, duplicate), ErrAlreadyRunning)

	c.Advance(DefaultStaleAfter + time.Minute)

	stale, err := l.FindOrCreate(ctx, episodeJob(1))
	require.NoError(t, err)
	require.NoError(t, l.Claim(ctx, stale))

	// The original worker's copy is now outdated.
	err = l.MarkSuccess(ctx, exec, json.RawMessage(`{}`), "", models.ProviderMetadata{})
	assert.Error(t, err)
}

func TestLedger_ConcurrentClaimLoses(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := t.Context()

	exec, err := l.FindOrCreate(ctx, episodeJob(1))
	require.NoError(t, err)

	copyA := *exec
	copyB := *exec

	require.NoError(t, l.Claim(ctx, &copyA))
	assert.ErrorIs(t, l.Claim(ctx, &copyB), ErrClaimLost)
}

func TestLedger_InvalidTransitions(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := t.Context()

	exec, err := l.FindOrCreate(ctx, episodeJob(1))
	require.NoError(t, err)

	err = l.MarkSuccess(ctx, exec, nil, "", models.ProviderMetadata{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.ErrorIs(t, l.Requeue(ctx, exec), ErrInvalidTransition)
}
