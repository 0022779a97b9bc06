package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/coursepipe/pkg/handlers"
	"github.com/dukex/coursepipe/pkg/mocks"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var request protocol.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, models.StageOutline, request.Stage)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":       `{"ok":true}`,
			"provider":      "anthropic",
			"input_tokens":  10,
			"output_tokens": 20,
			"latency_ms":    250,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", slog.Default())

	completion, err := client.Complete(t.Context(), &protocol.Request{Stage: models.StageOutline, Prompt: "outline"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, completion.Content)
	assert.Equal(t, "anthropic", completion.Provider)
	assert.Equal(t, 20, completion.OutputTokens)
	assert.Equal(t, 250*time.Millisecond, completion.Latency)
}

func TestClient_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{status: http.StatusTooManyRequests, code: protocol.CodeRateLimited},
		{status: http.StatusGatewayTimeout, code: protocol.CodeGatewayTimeout},
		{status: http.StatusBadGateway, code: protocol.CodeGatewayUnavailable},
		{status: http.StatusBadRequest, code: protocol.CodeGatewayRejected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, slog.Default()).Complete(t.Context(), &protocol.Request{Stage: models.StageIdea})
			require.Error(t, err)
			assert.Equal(t, tt.code, protocol.ErrorCode(err))

			var gwErr *Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.status, gwErr.StatusCode)
			assert.Equal(t, "nope", gwErr.Message)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, slog.Default()).Complete(t.Context(), &protocol.Request{Stage: models.StageIdea})
	assert.Equal(t, protocol.CodeGatewayUnavailable, protocol.ErrorCode(err))
}

func TestTimeoutGateway(t *testing.T) {
	next := &mocks.MockGateway{}
	next.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	gw := WithTimeouts(next, map[models.Stage]time.Duration{models.StageIdea: 10 * time.Millisecond}, 0)
	assert.Equal(t, DefaultTimeout, gw.Timeout(models.StageOutline))
	assert.Equal(t, 10*time.Millisecond, gw.Timeout(models.StageIdea))

	_, err := gw.Complete(t.Context(), &protocol.Request{Stage: models.StageIdea})
	assert.Equal(t, protocol.CodeGatewayTimeout, protocol.ErrorCode(err))
	next.AssertExpectations(t)
}

func TestDefaultStageTimeouts(t *testing.T) {
	gw := WithTimeouts(&mocks.MockGateway{}, DefaultStageTimeouts(), DefaultTimeout)

	assert.Equal(t, 6*time.Minute, gw.Timeout(models.StageEpisodeContent))
	assert.Equal(t, 5*time.Minute, gw.Timeout(models.StageFinalEvaluation))
	assert.Equal(t, 4*time.Minute, gw.Timeout(models.StagePractice))
	assert.Equal(t, 3*time.Minute, gw.Timeout(models.StageIdea))
}

func TestCanned_ProducesValidOutputForEveryStage(t *testing.T) {
	defaults, err := handlers.Defaults()
	require.NoError(t, err)

	dummy := NewDummy(Canned(3))

	for _, handler := range defaults {
		request := &protocol.Request{Stage: handler.Stage(), Metadata: map[string]string{"scope_key": "2"}}

		completion, err := dummy.Complete(t.Context(), request)
		require.NoError(t, err)
		assert.Equal(t, "dummy", completion.Provider)

		result := handler.Validate(completion.Content)
		assert.True(t, result.Valid, "%s: %v", handler.Stage(), result.Errors)
	}
}
