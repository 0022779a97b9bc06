package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
)

const (
	jobKeyMetadata     = "job_key"
	jobAttemptMetadata = "job_attempt"
)

// WatermillQueue publishes jobs on a watermill publisher and consumes them
// from a subscriber. With the Kafka channel, workers sharing a consumer group
// split the jobs between them.
type WatermillQueue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
	backoff    Backoff
	topic      string

	pending sync.WaitGroup
	stop    chan struct{}
	once    sync.Once
}

type Option func(*WatermillQueue)

func WithBackoff(backoff Backoff) Option {
	return func(q *WatermillQueue) {
		q.backoff = backoff
	}
}

func WithTopic(topic string) Option {
	return func(q *WatermillQueue) {
		q.topic = topic
	}
}

func NewWatermillQueue(publisher message.Publisher, subscriber message.Subscriber, logger *slog.Logger, opts ...Option) *WatermillQueue {
	q := &WatermillQueue{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger.With("module", "queue", "queue_type", "watermill"),
		backoff:    DefaultBackoff(),
		topic:      Topic,
		stop:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

func (q *WatermillQueue) message(job models.Job) (*message.Message, error) {
	payload, err := encode(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", job.Key(), err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(jobKeyMetadata, job.Key())
	msg.Metadata.Set(jobAttemptMetadata, fmt.Sprint(job.Attempt))

	return msg, nil
}

func (q *WatermillQueue) Enqueue(ctx context.Context, job models.Job) error {
	return q.EnqueueBulk(ctx, []models.Job{job})
}

// EnqueueBulk publishes every job in a single Publish call.
func (q *WatermillQueue) EnqueueBulk(ctx context.Context, jobs []models.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	messages := make([]*message.Message, 0, len(jobs))

	for _, job := range jobs {
		msg, err := q.message(job)
		if err != nil {
			return err
		}

		msg.SetContext(ctx)
		messages = append(messages, msg)
	}

	return q.publisher.Publish(q.topic, messages...)
}

// Consume handles jobs until ctx is cancelled. Jobs are handled one at a
// time and acknowledged once handled; a failed job is acknowledged too and
// published again with the next attempt number after its backoff delay.
func (q *WatermillQueue) Consume(ctx context.Context, handler protocol.JobHandler) error {
	messages, err := q.subscriber.Subscribe(ctx, q.topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", q.topic, err)
	}

	q.logger.InfoContext(ctx, "Consuming jobs", "topic", q.topic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			q.handle(ctx, msg, handler)
		}
	}
}

func (q *WatermillQueue) handle(ctx context.Context, msg *message.Message, handler protocol.JobHandler) {
	defer msg.Ack()

	job, err := decode(msg.Payload)
	if err != nil {
		q.logger.ErrorContext(ctx, "Dropping undecodable job", "message_id", msg.UUID, "error", err)

		return
	}

	err = handler(ctx, job)
	if err == nil {
		return
	}

	delay := q.backoff.Delay(job.Attempt)
	q.logger.WarnContext(ctx, "Job failed, scheduling redelivery",
		"job_key", job.Key(), "attempt", job.Attempt, "delay", delay, "error", err)

	q.redeliver(retry(job), delay)
}

func (q *WatermillQueue) redeliver(job models.Job, delay time.Duration) {
	q.pending.Add(1)

	go func() {
		defer q.pending.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-q.stop:
		case <-timer.C:
		}

		// Delayed jobs are published even on shutdown so they are not lost.
		err := q.Enqueue(context.Background(), job)
		if err != nil {
			q.logger.Error("Failed to redeliver job", "job_key", job.Key(), "attempt", job.Attempt, "error", err)
		}
	}()
}

// Close publishes pending redeliveries and closes the publisher and subscriber.
func (q *WatermillQueue) Close() error {
	q.once.Do(func() {
		close(q.stop)
	})

	q.pending.Wait()

	subErr := q.subscriber.Close()

	pubErr := q.publisher.Close()
	if subErr != nil {
		return subErr
	}

	return pubErr
}
