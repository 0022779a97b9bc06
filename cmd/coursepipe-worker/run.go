package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/coursepipe/pkg/cmd"
	"github.com/dukex/coursepipe/pkg/config"
	"github.com/dukex/coursepipe/pkg/log"
	"github.com/dukex/coursepipe/pkg/worker"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func run(ctx context.Context, command *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("coursepipe-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing coursepipe worker")

	pipelineConfig, err := config.Load(command.String("config"))
	if err != nil {
		return err
	}

	registry, err := cmd.NewRegistry(logger, command.String("plugins-path"))
	if err != nil {
		return err
	}

	gateway, err := cmd.NewGateway(command.String("gateway-url"), logger)
	if err != nil {
		return err
	}

	tracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "coursepipe-worker")
	if err != nil {
		return err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	notifier := cmd.NewNotifier(eventBus, logger)
	defer notifier.Close()

	queue, err := cmd.NewQueue(ctx, logger, cmd.QueueConfig{
		Type:         command.String("queue"),
		KafkaBrokers: command.String("kafka-brokers"),
		RedisURL:     command.String("redis-url"),
		WorkerID:     workerID,
		Backoff:      pipelineConfig.Backoff(),
	})
	if err != nil {
		return err
	}

	defer func() {
		err := queue.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	orch := cmd.NewOrchestrator(persistence, queue, notifier, logger, pipelineConfig.OrchestratorConfig())
	executor := cmd.NewExecutor(persistence, registry, gateway, notifier, tracer, logger, pipelineConfig.ExecutorConfig())

	err = worker.New(workerID, executor, orch, logger).Run(ctx, queue)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "Worker stopped with error", "error", err)

		return err
	}

	return nil
}
