// Package config loads optional pipeline tuning from a YAML file. Every field
// is optional and falls back to the component defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/coursepipe/pkg/executor"
	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/orchestrator"
	"github.com/dukex/coursepipe/pkg/queue"
	"github.com/dukex/coursepipe/pkg/sweeper"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid pipeline config")

// Config represents the structure of the pipeline config file.
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Queue        QueueConfig        `yaml:"queue"`
	Sweeper      SweeperConfig      `yaml:"sweeper"`
}

type OrchestratorConfig struct {
	DefaultEpisodeCount int `yaml:"default_episode_count"`
	MaxUpdateRetries    int `yaml:"max_update_retries"`
}

type ExecutorConfig struct {
	MaxAttempts    int                      `yaml:"max_attempts"`
	DefaultTimeout time.Duration            `yaml:"default_timeout"`
	StageTimeouts  map[string]time.Duration `yaml:"stage_timeouts"`
}

type QueueConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

type SweeperConfig struct {
	Schedule    string        `yaml:"schedule"`
	StuckAfter  time.Duration `yaml:"stuck_after"`
	Concurrency int           `yaml:"concurrency"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	orch := orchestrator.DefaultConfig()
	exec := executor.DefaultConfig()
	backoff := queue.DefaultBackoff()
	sweep := sweeper.DefaultConfig()

	timeouts := make(map[string]time.Duration, len(exec.StageTimeouts))
	for stage, timeout := range exec.StageTimeouts {
		timeouts[string(stage)] = timeout
	}

	return &Config{
		Orchestrator: OrchestratorConfig{
			DefaultEpisodeCount: orch.DefaultEpisodeCount,
			MaxUpdateRetries:    orch.MaxUpdateRetries,
		},
		Executor: ExecutorConfig{
			MaxAttempts:    exec.MaxAttempts,
			DefaultTimeout: exec.DefaultTimeout,
			StageTimeouts:  timeouts,
		},
		Queue: QueueConfig{
			BaseDelay: backoff.Base,
			MaxDelay:  backoff.Max,
		},
		Sweeper: SweeperConfig{
			Schedule:    sweep.Schedule,
			StuckAfter:  sweep.StuckAfter,
			Concurrency: sweep.Concurrency,
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	var problems []error

	for stage, timeout := range c.Executor.StageTimeouts {
		if _, err := models.ParseStage(stage); err != nil {
			problems = append(problems, fmt.Errorf("stage_timeouts: %w", err))
		}

		if timeout <= 0 {
			problems = append(problems, fmt.Errorf("stage_timeouts: %s must be positive", stage))
		}
	}

	if c.Orchestrator.DefaultEpisodeCount < 1 {
		problems = append(problems, errors.New("default_episode_count must be at least 1"))
	}

	if c.Executor.MaxAttempts < 1 {
		problems = append(problems, errors.New("max_attempts must be at least 1"))
	}

	if c.Queue.BaseDelay <= 0 || c.Queue.MaxDelay < c.Queue.BaseDelay {
		problems = append(problems, errors.New("queue delays must be positive with max_delay >= base_delay"))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}

	return nil
}

func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		DefaultEpisodeCount: c.Orchestrator.DefaultEpisodeCount,
		MaxUpdateRetries:    c.Orchestrator.MaxUpdateRetries,
	}
}

func (c *Config) ExecutorConfig() executor.Config {
	timeouts := make(map[models.Stage]time.Duration, len(c.Executor.StageTimeouts))
	for stage, timeout := range c.Executor.StageTimeouts {
		timeouts[models.Stage(stage)] = timeout
	}

	return executor.Config{
		MaxAttempts:    c.Executor.MaxAttempts,
		DefaultTimeout: c.Executor.DefaultTimeout,
		StageTimeouts:  timeouts,
	}
}

func (c *Config) Backoff() queue.Backoff {
	return queue.Backoff{Base: c.Queue.BaseDelay, Max: c.Queue.MaxDelay}
}

func (c *Config) SweeperConfig() sweeper.Config {
	return sweeper.Config{
		Schedule:    c.Sweeper.Schedule,
		StuckAfter:  c.Sweeper.StuckAfter,
		Concurrency: c.Sweeper.Concurrency,
	}
}
