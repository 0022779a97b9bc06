package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/coursepipe/pkg/channels/gochannel"
	"github.com/dukex/coursepipe/pkg/channels/kafka"
	"github.com/dukex/coursepipe/pkg/eventbus"
)

// NewEventBus creates the lifecycle event bus for the provider.
// nolint:ireturn
func NewEventBus(provider string, kafkaBrokers string, logger *slog.Logger) (eventbus.EventBus, error) {
	switch provider {
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), kafka.ParseBrokers(kafkaBrokers), "coursepipe-events")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}

// NewNotifier publishes lifecycle events off the calling goroutine.
func NewNotifier(bus eventbus.EventPublisher, logger *slog.Logger) *eventbus.AsyncNotifier {
	return eventbus.NewAsyncNotifier(bus, logger, 0)
}
