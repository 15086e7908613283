// Package main provides the funneld API server: the external task gateway
// and the funnel admin API.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/marketloop/funneld/pkg/actions"
	"github.com/marketloop/funneld/pkg/engine"
	"github.com/marketloop/funneld/pkg/eventbus"
	"github.com/marketloop/funneld/pkg/persistence"
	"github.com/marketloop/funneld/pkg/protocol"
	"github.com/marketloop/funneld/pkg/web"
	"github.com/marketloop/funneld/pkg/webhook"
)

type contactServices interface {
	protocol.SubscriberService
	protocol.TagService
	protocol.MessageService
}

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	contacts    contactServices
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	contacts contactServices,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: store,
		contacts:    contacts,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	webhooks := webhook.NewClient(a.logger)
	executor := actions.NewExecutor(a.contacts, a.contacts, webhooks, a.logger)
	funnelEngine := engine.New(a.persistence, executor, a.contacts, a.logger, engine.WithEventBus(a.eventBus))

	handlers := web.NewAPIHandlers(a.persistence, funnelEngine, a.contacts, a.eventBus, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("funneld API")
	})

	task := app.Group("/funnel/task")
	task.Post("/complete", handlers.CompleteTask)
	task.Get("/status", handlers.TaskStatus)

	funnels := app.Group("/funnels")
	funnels.Post("/", handlers.CreateFunnel)
	funnels.Get("/", handlers.GetFunnels)
	funnels.Get("/:id", handlers.GetFunnel)
	funnels.Post("/:id/activate", handlers.ActivateFunnel)
	funnels.Post("/:id/pause", handlers.PauseFunnel)
	funnels.Post("/:id/enroll", handlers.EnrollSubscriber)
	funnels.Get("/:id/conversions", handlers.GetConversions)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
