package cmd

import (
	"log/slog"

	"github.com/dukex/coursepipe/pkg/artifact"
	"github.com/dukex/coursepipe/pkg/checkpoint"
	"github.com/dukex/coursepipe/pkg/executor"
	"github.com/dukex/coursepipe/pkg/ledger"
	"github.com/dukex/coursepipe/pkg/orchestrator"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/protocol"
	"github.com/dukex/coursepipe/pkg/registry"
	"go.opentelemetry.io/otel/trace"
)

// NewOrchestrator wires the orchestrator over the store, the job queue and the notifier.
func NewOrchestrator(
	p persistence.Persistence,
	queue protocol.Queue,
	notifier protocol.Notifier,
	logger *slog.Logger,
	config orchestrator.Config,
) *orchestrator.Orchestrator {
	return orchestrator.New(
		p,
		checkpoint.NewStore(p.RunRepository()),
		queue,
		notifier,
		artifact.NewBuilder(p),
		logger.With("module", "orchestrator"),
		config,
	)
}

// NewExecutor wires the step executor used by workers.
func NewExecutor(
	p persistence.Persistence,
	handlers *registry.Registry,
	gw protocol.LLMGateway,
	notifier protocol.Notifier,
	tracer trace.Tracer,
	logger *slog.Logger,
	config executor.Config,
) *executor.Executor {
	return executor.New(
		p,
		ledger.New(p.StepExecutionRepository(), notifier, logger.With("module", "ledger")),
		checkpoint.NewStore(p.RunRepository()),
		handlers,
		gw,
		tracer,
		logger.With("module", "executor"),
		config,
	)
}
