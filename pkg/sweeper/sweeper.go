// Package sweeper periodically flags RUNNING runs that stopped making progress as STUCK.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/orchestrator"
	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Schedule is a cron expression or descriptor such as "@every 5m".
	Schedule string
	// StuckAfter is how long a RUNNING run may go without an update or a checkpoint save.
	StuckAfter  time.Duration
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		Schedule:    "@every 5m",
		StuckAfter:  2 * time.Hour,
		Concurrency: 4,
	}
}

type Runs interface {
	ListRuns(ctx context.Context, filter persistence.RunFilter) ([]*models.PipelineRun, error)
	MarkStuck(ctx context.Context, runID, reason string) (*models.PipelineRun, error)
}

type Sweeper struct {
	runs   Runs
	logger *slog.Logger
	config Config
	cron   *cron.Cron
	now    func() time.Time
}

func New(runs Runs, logger *slog.Logger, config Config) *Sweeper {
	defaults := DefaultConfig()

	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}

	if config.StuckAfter <= 0 {
		config.StuckAfter = defaults.StuckAfter
	}

	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}

	return &Sweeper{
		runs:   runs,
		logger: logger.With("module", "sweeper"),
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sweep marks every RUNNING run with neither an update nor a checkpoint save
// within StuckAfter as STUCK and returns how many were marked. Runs that moved
// on meanwhile are skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.StuckAfter)

	runs, err := s.runs.ListRuns(ctx, persistence.RunFilter{
		Status:        models.RunStatusRunning,
		UpdatedBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list stale runs: %w", err)
	}

	var marked atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, run := range runs {
		lastProgress := lastProgressAt(run)
		if lastProgress.After(cutoff) {
			continue
		}

		g.Go(func() error {
			reason := fmt.Sprintf("no progress at stage %s since %s", run.CurrentStage, lastProgress.Format(time.RFC3339))

			_, err := s.runs.MarkStuck(gctx, run.ID, reason)
			if err != nil {
				if orchestrator.IsConflict(err) {
					return nil
				}

				return fmt.Errorf("failed to mark run %s stuck: %w", run.ID, err)
			}

			marked.Add(1)

			return nil
		})
	}

	err = g.Wait()

	return int(marked.Load()), err
}

// lastProgressAt is the later of the run's last update and its last checkpoint save.
func lastProgressAt(run *models.PipelineRun) time.Time {
	if run.Checkpoint != nil && run.Checkpoint.SavedAt.After(run.UpdatedAt) {
		return run.Checkpoint.SavedAt
	}

	return run.UpdatedAt
}

// Start runs Sweep on the configured schedule until Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		marked, err := s.Sweep(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}

		if marked > 0 {
			s.logger.WarnContext(ctx, "Marked runs stuck", "count", marked)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.Schedule, err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Sweeper started", "schedule", s.config.Schedule, "stuck_after", s.config.StuckAfter)

	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
}
