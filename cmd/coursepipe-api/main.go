package main

import (
	"context"
	"os"

	"github.com/dukex/coursepipe/pkg/config"
	"github.com/dukex/coursepipe/pkg/log"
	"github.com/dukex/coursepipe/pkg/sweeper"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "coursepipe-api",
		Usage:                 "Start, review and control course pipeline runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Job queue type (gochannel, kafka, redis)",
				Value:   "redis",
				Sources: cli.EnvVars("QUEUE_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL used by the redis job queue",
				Value:   "redis://localhost:6379/0",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML file tuning attempts, timeouts, backoff and the sweeper",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron schedule of the stuck run sweeper, empty to disable",
				Value:   sweeper.DefaultConfig().Schedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "stuck-after",
				Usage:   "How long a running run may go without progress before it is marked stuck",
				Value:   sweeper.DefaultConfig().StuckAfter,
				Sources: cli.EnvVars("STUCK_AFTER"),
			},
			&cli.BoolFlag{
				Name:    "embedded-worker",
				Usage:   "Run a worker inside the API process (required with the gochannel queue)",
				Sources: cli.EnvVars("EMBEDDED_WORKER"),
			},
			&cli.StringFlag{
				Name:    "gateway-url",
				Usage:   "LLM gateway used by the embedded worker",
				Value:   "dummy://",
				Sources: cli.EnvVars("GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing stage handler plugins",
				Value:   "./plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return run(ctx, command)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

// sweeperConfig applies the sweep flags over the config file when they are set.
func sweeperConfig(command *cli.Command, pipelineConfig *config.Config) sweeper.Config {
	sweep := pipelineConfig.SweeperConfig()

	if command.IsSet("sweep-schedule") {
		sweep.Schedule = command.String("sweep-schedule")
	}

	if command.IsSet("stuck-after") {
		sweep.StuckAfter = command.Duration("stuck-after")
	}

	return sweep
}
