package mocks

import (
	"context"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockGateway is a mock implementation of protocol.LLMGateway interface.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Complete(ctx context.Context, request *protocol.Request) (*protocol.Completion, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.Completion), args.Error(1)
}

// MockStepHandler is a mock implementation of protocol.StepHandler interface.
type MockStepHandler struct {
	mock.Mock

	StageID models.Stage
}

func (m *MockStepHandler) Stage() models.Stage {
	return m.StageID
}

func (m *MockStepHandler) BuildRequest(ctx context.Context, stepCtx *protocol.StepContext) (*protocol.Request, error) {
	args := m.Called(ctx, stepCtx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.Request), args.Error(1)
}

func (m *MockStepHandler) Validate(raw string) protocol.ValidationResult {
	args := m.Called(raw)

	return args.Get(0).(protocol.ValidationResult)
}

func (m *MockStepHandler) Parse(raw string) (*protocol.ParsedOutput, error) {
	args := m.Called(raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.ParsedOutput), args.Error(1)
}
