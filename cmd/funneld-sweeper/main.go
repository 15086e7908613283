// Package main provides the funneld sweeper: the periodic worker that
// advances suspended enrollments whose wake time has passed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/marketloop/funneld/pkg/actions"
	"github.com/marketloop/funneld/pkg/cmd"
	"github.com/marketloop/funneld/pkg/engine"
	"github.com/marketloop/funneld/pkg/log"
	"github.com/marketloop/funneld/pkg/scheduler"
	"github.com/marketloop/funneld/pkg/services"
	"github.com/marketloop/funneld/pkg/webhook"
	redis "github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "funneld-sweeper",
		Usage:                 "Start the enrollment sweep worker",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Name:    "redis-url",
				Usage:   "Redis URL for cross-process sweep locks (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Sweep cadence as a cron expression",
				Value:   scheduler.DefaultSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "sweeper-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("sweeper").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing funneld sweeper")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "funneld-sweeper", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			contacts := services.NewContactClient(command.String("contacts-url"), command.String("contacts-api-key"), logger)
			webhooks := webhook.NewClient(logger)
			executor := actions.NewExecutor(contacts, contacts, webhooks, logger)
			funnelEngine := engine.New(store, executor, contacts, logger, engine.WithEventBus(eventBus))

			opts := []scheduler.SweeperOption{
				scheduler.WithSchedule(command.String("schedule")),
			}

			if redisURL := command.String("redis-url"); redisURL != "" {
				redisOpts, err := redis.ParseURL(redisURL)
				if err != nil {
					return err
				}

				client := redis.NewClient(redisOpts)
				defer client.Close()

				opts = append(opts, scheduler.WithLocker(scheduler.NewRedisLocker(client, workerID)))
			}

			sweeper := scheduler.NewSweeper(store, funnelEngine, logger, opts...)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return sweeper.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
