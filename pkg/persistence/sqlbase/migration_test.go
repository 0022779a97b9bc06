package sqlbase

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMigrationManager_VersionsAreOrdered(t *testing.T) {
	manager := NewMigrationManager(slog.Default(), nil, map[int]string{
		3: "SELECT 3",
		1: "SELECT 1",
		2: "SELECT 2",
	})

	assert.Equal(t, []int{1, 2, 3}, manager.versions())
	assert.Equal(t, 3, manager.LatestVersion())
}

func TestMigrationManager_NoMigrations(t *testing.T) {
	manager := NewMigrationManager(slog.Default(), nil, nil)

	assert.Empty(t, manager.versions())
	assert.Equal(t, 0, manager.LatestVersion())
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "idx_pipeline_runs_active_source"})

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "idx_pipeline_runs_active_source"))
	assert.False(t, IsUniqueViolation(err, "other"))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
}
