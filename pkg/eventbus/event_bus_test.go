package eventbus_test

import (
	"context"
	"testing"

	"github.com/dukex/coursepipe/pkg/eventbus"
	"github.com/dukex/coursepipe/pkg/events"
	"github.com/dukex/coursepipe/pkg/mocks"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOnRunEvents_RegistersEveryRunEvent(t *testing.T) {
	bus := &mocks.MockEventBus{}
	handlers := map[events.EventType]eventbus.EventHandler{}

	bus.On("Handle", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		eventType, _ := args.Get(0).(events.EventType)
		handler, _ := args.Get(1).(eventbus.EventHandler)
		handlers[eventType] = handler
	})

	var seen []*events.RunEvent

	err := eventbus.OnRunEvents(bus, func(_ context.Context, event *events.RunEvent) error {
		seen = append(seen, event)

		return nil
	})
	require.NoError(t, err)
	assert.Len(t, handlers, len(events.RunEventTypes()))

	run := &models.PipelineRun{ID: "run-1", Status: models.RunStatusRunning}
	event := events.NewRunEvent(events.RunStartedEvent, run)

	require.NoError(t, handlers[events.RunStartedEvent](t.Context(), &event))
	require.Len(t, seen, 1)
	assert.Equal(t, "run-1", seen[0].RunID)

	require.Error(t, handlers[events.RunStartedEvent](t.Context(), "not an event"))
	bus.AssertNumberOfCalls(t, "Handle", len(events.RunEventTypes()))
}

func TestOnRunEvents_RejectsStepEventTypes(t *testing.T) {
	err := eventbus.OnRunEvents(&mocks.MockEventBus{}, func(context.Context, *events.RunEvent) error { return nil },
		events.StepCompletedEvent)
	require.Error(t, err)
}

func TestOnStepEvents_SelectedTypes(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Handle", events.StepFailedEvent, mock.Anything).Return(nil)

	err := eventbus.OnStepEvents(bus, func(context.Context, *events.StepEvent) error { return nil },
		events.StepFailedEvent)
	require.NoError(t, err)
	bus.AssertExpectations(t)
}
