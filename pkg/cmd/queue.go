package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/coursepipe/pkg/channels/gochannel"
	"github.com/dukex/coursepipe/pkg/channels/kafka"
	"github.com/dukex/coursepipe/pkg/protocol"
	"github.com/dukex/coursepipe/pkg/queue"
)

// JobQueue is a queue the same process can both enqueue to and consume from.
type JobQueue interface {
	protocol.Queue
	protocol.Consumer
}

type QueueConfig struct {
	// Type is one of gochannel, kafka or redis.
	Type         string
	KafkaBrokers string
	RedisURL     string
	WorkerID     string
	Backoff      queue.Backoff
}

// NewQueue builds the job queue. gochannel only delivers within one process.
// nolint:ireturn
func NewQueue(ctx context.Context, logger *slog.Logger, config QueueConfig) (JobQueue, error) {
	switch config.Type {
	case "gochannel":
		pub, sub, err := gochannel.CreatePersistentChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory queue: %w", err)
		}

		return queue.NewWatermillQueue(pub, sub, logger, queue.WithBackoff(config.backoff())), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), kafka.ParseBrokers(config.KafkaBrokers), "coursepipe-workers")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka queue: %w", err)
		}

		return queue.NewWatermillQueue(pub, sub, logger, queue.WithBackoff(config.backoff())), nil
	case "redis":
		client, err := queue.NewRedisClient(ctx, config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		return queue.NewRedisQueue(client, config.WorkerID, logger, queue.WithRedisBackoff(config.backoff())), nil
	default:
		return nil, fmt.Errorf("unsupported queue type %q", config.Type)
	}
}

func (c QueueConfig) backoff() queue.Backoff {
	if c.Backoff.Base <= 0 {
		return queue.DefaultBackoff()
	}

	return c.Backoff
}
