// Package postgresql provides the PostgreSQL persistence implementation for pipeline runs.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/coursepipe/pkg/persistence"
	"github.com/dukex/coursepipe/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	runRepo      *RunRepository
	stepRepo     *StepExecutionRepository
	reviewRepo   *ReviewRepository
	sourceRepo   *SourceRepository
	artifactRepo *ArtifactRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and applies pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		runRepo:      NewRunRepository(database, logger),
		stepRepo:     NewStepExecutionRepository(database, logger),
		reviewRepo:   NewReviewRepository(database, logger),
		sourceRepo:   NewSourceRepository(database),
		artifactRepo: NewArtifactRepository(database),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) StepExecutionRepository() persistence.StepExecutionRepository {
	return p.stepRepo
}

func (p *Persistence) ReviewRepository() persistence.ReviewRepository {
	return p.reviewRepo
}

func (p *Persistence) SourceRepository() persistence.SourceRepository {
	return p.sourceRepo
}

func (p *Persistence) ArtifactRepository() persistence.ArtifactRepository {
	return p.artifactRepo
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
