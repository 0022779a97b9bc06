package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "coursepipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, config.OrchestratorConfig().DefaultEpisodeCount)
	assert.Equal(t, 3, config.ExecutorConfig().MaxAttempts)
	assert.Equal(t, "@every 5m", config.SweeperConfig().Schedule)
	assert.Equal(t, 5*time.Second, config.Backoff().Base)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  default_episode_count: 6
executor:
  max_attempts: 5
  stage_timeouts:
    episode_content: 7m
queue:
  base_delay: 2s
  max_delay: 1m
sweeper:
  stuck_after: 30m
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, config.OrchestratorConfig().DefaultEpisodeCount)
	assert.Equal(t, 3, config.OrchestratorConfig().MaxUpdateRetries)

	exec := config.ExecutorConfig()
	assert.Equal(t, 5, exec.MaxAttempts)
	assert.Equal(t, 7*time.Minute, exec.StageTimeouts[models.StageEpisodeContent])
	assert.Equal(t, 4*time.Minute, exec.StageTimeouts[models.StagePractice])

	assert.Equal(t, 2*time.Second, config.Backoff().Delay(1))
	assert.Equal(t, 30*time.Minute, config.SweeperConfig().StuckAfter)
	assert.Equal(t, "@every 5m", config.SweeperConfig().Schedule)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown stage", content: "executor:\n  stage_timeouts:\n    publish: 1m\n"},
		{name: "zero attempts", content: "executor:\n  max_attempts: 0\n"},
		{name: "inverted delays", content: "queue:\n  base_delay: 1m\n  max_delay: 1s\n"},
		{name: "no episodes", content: "orchestrator:\n  default_episode_count: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "executor: [\n"))
	require.Error(t, err)
}
