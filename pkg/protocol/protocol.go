// Package protocol defines the contracts between the orchestration engine and its collaborators:
// step handlers, the LLM gateway, the job queue and lifecycle notification sinks.
package protocol

import (
	"context"

	"github.com/dukex/coursepipe/pkg/eventbus"
	"github.com/dukex/coursepipe/pkg/models"
)

// Queue accepts job descriptors for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, job models.Job) error
	EnqueueBulk(ctx context.Context, jobs []models.Job) error
}

// JobHandler processes one delivered job. A non-nil error asks the queue to
// redeliver the job after its backoff delay.
type JobHandler func(ctx context.Context, job models.Job) error

// Consumer delivers queued jobs to a handler with at-least-once semantics.
type Consumer interface {
	// Consume blocks until ctx is cancelled.
	Consume(ctx context.Context, handler JobHandler) error
	Close() error
}

// Notifier forwards lifecycle events to observability collaborators. Notify
// must never block the caller nor report delivery failures.
type Notifier interface {
	Notify(ctx context.Context, key string, event eventbus.Event)
}
