package main

import (
	"context"
	"log/slog"

	"github.com/dukex/coursepipe/pkg/eventbus"
	"github.com/dukex/coursepipe/pkg/events"
)

// logEvents writes every run lifecycle event to the log until ctx is cancelled.
func logEvents(ctx context.Context, bus eventbus.EventSubscriber, logger *slog.Logger) error {
	logger = logger.With("module", "events")

	err := eventbus.OnRunEvents(bus, func(ctx context.Context, run *events.RunEvent) error {
		logger.InfoContext(ctx, "Run event",
			"event_type", run.Type,
			"run_id", run.RunID,
			"status", run.Status,
			"stage", run.Stage,
			"progress", run.ProgressPercent,
		)

		return nil
	})
	if err != nil {
		return err
	}

	if err := bus.Subscribe(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	return nil
}
