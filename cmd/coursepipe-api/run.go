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
	"github.com/dukex/coursepipe/pkg/sweeper"
	"github.com/dukex/coursepipe/pkg/web"
	"github.com/dukex/coursepipe/pkg/worker"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, command *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.WithModule("coursepipe-api")

	logger.InfoContext(ctx, "Initializing coursepipe API")

	pipelineConfig, err := config.Load(command.String("config"))
	if err != nil {
		return err
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := store.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	notifier := cmd.NewNotifier(eventBus, logger)
	defer notifier.Close()

	workerID := "api-" + uuid.New().String()[:8]

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
		if err := queue.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close queue", "error", err)
		}
	}()

	orch := cmd.NewOrchestrator(store, queue, notifier, logger, pipelineConfig.OrchestratorConfig())

	g, ctx := errgroup.WithContext(ctx)

	if sweep := sweeperConfig(command, pipelineConfig); sweep.Schedule != "" {
		sw := sweeper.New(orch, logger, sweep)
		if err := sw.Start(ctx); err != nil {
			return err
		}

		defer sw.Stop()
	}

	checkers := map[string]web.HealthChecker{"persistence": store}

	if command.Bool("embedded-worker") {
		registry, err := cmd.NewRegistry(logger, command.String("plugins-path"))
		if err != nil {
			return err
		}

		gateway, err := cmd.NewGateway(command.String("gateway-url"), logger)
		if err != nil {
			return err
		}

		tracer, err := cmd.NewTracer(ctx, false, "coursepipe-api")
		if err != nil {
			return err
		}

		checkers["registry"] = registry

		executor := cmd.NewExecutor(store, registry, gateway, notifier, tracer, logger, pipelineConfig.ExecutorConfig())
		w := worker.New(workerID, executor, orch, logger)

		g.Go(func() error {
			return w.Run(ctx, queue)
		})
	}

	if command.String("event-bus") == "gochannel" {
		g.Go(func() error {
			return logEvents(ctx, eventBus, logger)
		})
	}

	api := NewAPI(logger, orch, checkers)

	g.Go(func() error {
		return api.Start(ctx, command.Int("port"))
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "API stopped with error", "error", err)

		return err
	}

	return nil
}
