// Package eventbus publishes pipeline lifecycle events and lets observers subscribe to them.
package eventbus

import (
	"context"
	"fmt"

	"github.com/dukex/coursepipe/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a decoded *events.RunEvent or *events.StepEvent.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}

type RunEventHandler func(ctx context.Context, event *events.RunEvent) error

type StepEventHandler func(ctx context.Context, event *events.StepEvent) error

// OnRunEvents registers handler for the given run event types, or for all of them when none are given.
func OnRunEvents(bus EventSubscriber, handler RunEventHandler, types ...events.EventType) error {
	if len(types) == 0 {
		types = events.RunEventTypes()
	}

	for _, eventType := range types {
		if !eventType.IsRunEvent() {
			return fmt.Errorf("%s is not a run event", eventType)
		}

		err := bus.Handle(eventType, func(ctx context.Context, event any) error {
			run, ok := event.(*events.RunEvent)
			if !ok {
				return fmt.Errorf("unexpected payload %T for %s", event, eventType)
			}

			return handler(ctx, run)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// OnStepEvents registers handler for the given step event types, or for all of them when none are given.
func OnStepEvents(bus EventSubscriber, handler StepEventHandler, types ...events.EventType) error {
	if len(types) == 0 {
		types = events.StepEventTypes()
	}

	for _, eventType := range types {
		if !eventType.IsStepEvent() {
			return fmt.Errorf("%s is not a step event", eventType)
		}

		err := bus.Handle(eventType, func(ctx context.Context, event any) error {
			step, ok := event.(*events.StepEvent)
			if !ok {
				return fmt.Errorf("unexpected payload %T for %s", event, eventType)
			}

			return handler(ctx, step)
		})
		if err != nil {
			return err
		}
	}

	return nil
}
