package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
	"github.com/veloflow/veloflow/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "veloflow-gateway",
		EnableShellCompletion: true,
		Usage:                 "Serve the workflow management API and trigger intake endpoints",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   8080,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.IntFlag{
				Name:    "condition-cache-size",
				Usage:   "Bounded size of the condition evaluation cache",
				Value:   1024,
				Sources: cli.EnvVars("CONDITION_CACHE_SIZE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("veloflow-gateway")

			api, err := NewAPI(command, logger)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to initialize gateway", "error", err)

				return err
			}

			return api.Start(ctx, int(command.Int("port")))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
