package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/coursepipe/pkg/artifact"
	"github.com/dukex/coursepipe/pkg/checkpoint"
	"github.com/dukex/coursepipe/pkg/mocks"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/orchestrator"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/persistence/file"
	"github.com/dukex/coursepipe/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app          *fiber.App
	persistence  persistence.Persistence
	orchestrator *orchestrator.Orchestrator
	queue        *mocks.FakeQueue
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	require.NoError(t, p.SourceRepository().SaveSource(t.Context(), &models.Source{
		ID:        "book-1",
		Title:     "Meditations",
		Status:    models.SourceStatusReady,
		UnitCount: 3,
	}))

	queue := &mocks.FakeQueue{}
	orch := orchestrator.New(p, checkpoint.NewStore(p.RunRepository()), queue, &mocks.RecordingNotifier{},
		artifact.NewBuilder(p), slog.Default(), orchestrator.DefaultConfig())

	handlers := web.NewAPIHandlers(orch, validator.New(validator.WithRequiredStructEnabled()),
		map[string]web.HealthChecker{"persistence": p})

	app := fiber.New()
	web.RegisterRoutes(app, handlers)

	return &testEnv{app: app, persistence: p, orchestrator: orch, queue: queue}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewBuffer(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func (e *testEnv) startRun(t *testing.T) *models.PipelineRun {
	t.Helper()

	status, body := e.do(t, http.MethodPost, "/runs", web.StartRunRequest{SourceID: "book-1", Initiator: "ana"})
	require.Equal(t, http.StatusCreated, status, string(body))

	var run models.PipelineRun
	require.NoError(t, json.Unmarshal(body, &run))

	return &run
}

func problemType(t *testing.T, body []byte) string {
	t.Helper()

	var problem struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(body, &problem))

	return problem.Type
}

func TestAPIHandlers_StartRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "starts a run",
			requestBody:    web.StartRunRequest{SourceID: "book-1", Initiator: "ana"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "validation error",
			requestBody:    web.StartRunRequest{SourceID: "book-1"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "unknown source",
			requestBody:    web.StartRunRequest{SourceID: "book-9", Initiator: "ana"},
			expectedStatus: http.StatusNotFound,
			expectedType:   "source_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestApp(t)

			status, body := env.do(t, http.MethodPost, "/runs", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, problemType(t, body))
			}
		})
	}
}

func TestAPIHandlers_StartRunConflict(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.startRun(t)

	status, body := env.do(t, http.MethodPost, "/runs", web.StartRunRequest{SourceID: "book-1", Initiator: "ana"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", problemType(t, body))
}

func TestAPIHandlers_InvalidJSON(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")

	resp, err := env.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_GetRunAndSteps(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	run := env.startRun(t)

	status, body := env.do(t, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var fetched models.PipelineRun
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, models.RunStatusRunning, fetched.Status)
	assert.Equal(t, models.StageIdea, fetched.CurrentStage)

	status, body = env.do(t, http.MethodGet, "/runs/"+run.ID+"/steps", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"steps":[]}`, string(body))

	status, body = env.do(t, http.MethodGet, "/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "run_not_found", problemType(t, body))

	status, _ = env.do(t, http.MethodGet, "/runs/"+run.ID+"/steps?include_output=perhaps", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ListRuns(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.startRun(t)

	status, body := env.do(t, http.MethodGet, "/runs?status=RUNNING&source_id=book-1", nil)
	require.Equal(t, http.StatusOK, status)

	var result struct {
		Runs       []models.PipelineRun `json:"runs"`
		TotalCount int                  `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 1, result.TotalCount)

	status, _ = env.do(t, http.MethodGet, "/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_SubmitReview(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	run := env.startRun(t)

	review := web.SubmitReviewRequest{Stage: "idea", Decision: "approved", Reviewer: "ana"}

	status, body := env.do(t, http.MethodPost, "/runs/"+run.ID+"/reviews", review)
	assert.Equal(t, http.StatusConflict, status, "run is not waiting for a review yet")
	assert.Equal(t, "conflict", problemType(t, body))

	require.NoError(t, env.orchestrator.OnStageCompleted(t.Context(), run.ID, models.StageIdea, nil))

	status, body = env.do(t, http.MethodPost, "/runs/"+run.ID+"/reviews", review)
	require.Equal(t, http.StatusOK, status, string(body))

	var outcome orchestrator.ReviewOutcome
	require.NoError(t, json.Unmarshal(body, &outcome))
	assert.Equal(t, orchestrator.NextActionEnqueued, outcome.NextAction)
	assert.Equal(t, models.StageOutline, outcome.NextStage)
	assert.Len(t, env.queue.JobsForStage(models.StageOutline), 1)

	status, _ = env.do(t, http.MethodPost, "/runs/"+run.ID+"/reviews", web.SubmitReviewRequest{Stage: "idea"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_Lifecycle(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	run := env.startRun(t)
	base := "/runs/" + run.ID

	status, body := env.do(t, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, _ = env.do(t, http.MethodPost, base+"/pause", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = env.do(t, http.MethodPost, base+"/restart", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var restarted models.PipelineRun
	require.NoError(t, json.Unmarshal(body, &restarted))
	assert.Equal(t, 1, restarted.RevisionCount)

	status, _ = env.do(t, http.MethodPost, base+"/resume", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = env.do(t, http.MethodPost, base+"/recover", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = env.do(t, http.MethodPost, base+"/deploy", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = env.do(t, http.MethodPost, base+"/enrichment", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = env.do(t, http.MethodPost, base+"/cancel", web.CancelRunRequest{Reason: "wrong edition"})
	require.Equal(t, http.StatusOK, status, string(body))

	var cancelled models.PipelineRun
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, models.RunStatusCancelled, cancelled.Status)
	assert.Equal(t, "wrong edition", cancelled.ErrorMessage)
}

func TestAPIHandlers_RecoverStuckRun(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	run := env.startRun(t)

	_, err := env.orchestrator.MarkStuck(t.Context(), run.ID, "no progress")
	require.NoError(t, err)

	status, body := env.do(t, http.MethodPost, "/runs/"+run.ID+"/recover", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var recovered models.PipelineRun
	require.NoError(t, json.Unmarshal(body, &recovered))
	assert.Equal(t, models.RunStatusRunning, recovered.Status)
	assert.Equal(t, 0, recovered.RevisionCount)
	assert.Empty(t, recovered.ErrorCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	status, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"persistence":"ok"`)
}
