package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

const defaultNotifierBuffer = 256

type notification struct {
	key   string
	event Event
}

// AsyncNotifier publishes events from a background goroutine. Notify never
// blocks: when the buffer is full the event is dropped and counted.
type AsyncNotifier struct {
	publisher EventPublisher
	logger    *slog.Logger
	queue     chan notification

	mu      sync.Mutex
	dropped int
	closed  bool
	done    chan struct{}
}

// NewAsyncNotifier starts the publishing goroutine. A buffer <= 0 uses the default size.
func NewAsyncNotifier(publisher EventPublisher, logger *slog.Logger, buffer int) *AsyncNotifier {
	if buffer <= 0 {
		buffer = defaultNotifierBuffer
	}

	n := &AsyncNotifier{
		publisher: publisher,
		logger:    logger,
		queue:     make(chan notification, buffer),
		done:      make(chan struct{}),
	}

	go n.run()

	return n
}

func (n *AsyncNotifier) run() {
	defer close(n.done)

	for item := range n.queue {
		// Publishing outlives the request that produced the event.
		err := n.publisher.Publish(context.Background(), item.key, item.event)
		if err != nil {
			n.logger.Error("failed to publish event", "event_type", item.event.GetType(), "key", item.key, "error", err)
		}
	}
}

// Notify enqueues the event for publishing.
func (n *AsyncNotifier) Notify(ctx context.Context, key string, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	select {
	case n.queue <- notification{key: key, event: event}:
	default:
		n.dropped++
		n.logger.WarnContext(ctx, "event buffer full, dropping event", "event_type", event.GetType(), "key", key)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (n *AsyncNotifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.dropped
}

// Close stops accepting events and waits for buffered ones to be published.
func (n *AsyncNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()

		return
	}

	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	<-n.done
}
