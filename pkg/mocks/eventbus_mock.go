package mocks

import (
	"context"
	"sync"

	"github.com/dukex/coursepipe/pkg/eventbus"
	"github.com/dukex/coursepipe/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

// RecordingNotifier is a synchronous protocol.Notifier that keeps every event.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (n *RecordingNotifier) Notify(_ context.Context, _ string, event eventbus.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, event)
}

// Types returns the recorded event types in emission order.
func (n *RecordingNotifier) Types() []events.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()

	types := make([]events.EventType, 0, len(n.events))
	for _, event := range n.events {
		types = append(types, event.GetType())
	}

	return types
}

// Count returns how many events of the given type were recorded.
func (n *RecordingNotifier) Count(eventType events.EventType) int {
	count := 0

	for _, recorded := range n.Types() {
		if recorded == eventType {
			count++
		}
	}

	return count
}
