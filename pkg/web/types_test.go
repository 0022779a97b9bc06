package web_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitReviewRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())
	empty := ""

	tests := []struct {
		name      string
		request   web.SubmitReviewRequest
		wantErr   bool
		errFields []string
	}{
		{
			name:    "valid approval",
			request: web.SubmitReviewRequest{Stage: "idea", Decision: "approved", Reviewer: "ana"},
		},
		{
			name:      "gate stage only",
			request:   web.SubmitReviewRequest{Stage: "outline", Decision: "approved", Reviewer: "ana"},
			wantErr:   true,
			errFields: []string{"Stage"},
		},
		{
			name:      "unknown decision",
			request:   web.SubmitReviewRequest{Stage: "idea", Decision: "maybe", Reviewer: "ana"},
			wantErr:   true,
			errFields: []string{"Decision"},
		},
		{
			name:      "empty selection",
			request:   web.SubmitReviewRequest{Stage: "idea", Decision: "approved", Reviewer: "ana", SelectedOptionID: &empty},
			wantErr:   true,
			errFields: []string{"SelectedOptionID"},
		},
		{
			name:      "multiple validation errors",
			request:   web.SubmitReviewRequest{},
			wantErr:   true,
			errFields: []string{"Stage", "Decision", "Reviewer"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.Struct(tt.request)
			if !tt.wantErr {
				assert.NoError(t, err)

				return
			}

			var validationErrors validator.ValidationErrors
			require.True(t, errors.As(err, &validationErrors), "expected validator.ValidationErrors, got %T", err)

			errorFields := make(map[string]bool)
			for _, fieldErr := range validationErrors {
				errorFields[fieldErr.Field()] = true
			}

			for _, expectedField := range tt.errFields {
				assert.True(t, errorFields[expectedField], "Expected validation error for field %s", expectedField)
			}
		})
	}
}

func TestStartRunRequest_Validation(t *testing.T) {
	t.Parallel()

	v := validator.New(validator.WithRequiredStructEnabled())

	assert.NoError(t, v.Struct(web.StartRunRequest{SourceID: "book-1", Initiator: "ana"}))
	assert.Error(t, v.Struct(web.StartRunRequest{SourceID: "book-1"}))
	assert.Error(t, v.Struct(web.StartRunRequest{Initiator: "ana"}))
}

func TestTransformStepResponse(t *testing.T) {
	t.Parallel()

	exec := &models.StepExecution{
		ID:            "step-1",
		Stage:         models.StagePractice,
		ScopeKey:      models.ScopeKey(2),
		Status:        models.StepStatusSuccess,
		Summary:       "Level 2: 5 exercises",
		InputSnapshot: json.RawMessage(`{"prompt":"long prompt"}`),
		OutputPayload: json.RawMessage(`{"level":2}`),
	}

	response := web.TransformStepResponse(exec, false)
	assert.Equal(t, "step-1", response.ID)
	assert.Equal(t, 2, *response.ScopeKey)
	assert.Nil(t, response.Output)

	body, err := json.Marshal(response)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "long prompt")

	withOutput := web.TransformStepResponse(exec, true)
	assert.JSONEq(t, `{"level":2}`, string(withOutput.Output))
}
