package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/marketloop/funneld/pkg/cmd"
	"github.com/marketloop/funneld/pkg/config"
	"github.com/marketloop/funneld/pkg/log"
	"github.com/marketloop/funneld/pkg/persistence"
	"github.com/marketloop/funneld/pkg/services"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9080

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "funneld-api",
		Usage:                 "Serve the funnel admin API and external task gateway",
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
				Name:     "contacts-url",
				Usage:    "Base URL of the contact store API",
				Required: true,
				Sources:  cli.EnvVars("CONTACTS_URL"),
			},
			&cli.StringFlag{
				Name:    "contacts-api-key",
				Usage:   "API key for the contact store",
				Sources: cli.EnvVars("CONTACTS_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "seed-dir",
				Usage:   "Directory of YAML funnel definitions to load at startup",
				Sources: cli.EnvVars("SEED_DIR"),
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

			logger.InfoContext(ctx, "Initializing funneld API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "funneld-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			if seedDir := command.String("seed-dir"); seedDir != "" {
				err = seedFunnels(ctx, logger, store, seedDir)
				if err != nil {
					return err
				}
			}

			contacts := services.NewContactClient(command.String("contacts-url"), command.String("contacts-api-key"), logger)

			api := NewAPI(logger, store, contacts, eventBus)

			return api.Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

// seedFunnels loads funnel definitions from dir and saves the ones whose
// slug is not already present. Seeding is idempotent across restarts.
func seedFunnels(ctx context.Context, logger *slog.Logger, store persistence.Persistence, dir string) error {
	funnels, err := config.LoadFunnelDir(dir)
	if err != nil {
		return err
	}

	for _, funnel := range funnels {
		_, err := store.FunnelBySlug(ctx, funnel.Slug)
		if err == nil {
			continue
		}

		if !persistence.IsFunnelNotFound(err) {
			return err
		}

		err = store.SaveFunnel(ctx, funnel)
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Seeded funnel definition", "funnel_id", funnel.ID, "slug", funnel.Slug)
	}

	return nil
}
