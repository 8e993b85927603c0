package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/rentflow/pkg/services"
	"github.com/dukex/rentflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger     *slog.Logger
	workflows  *services.Workflow
	runner     web.Runner
	executions web.ExecutionReader
	events     web.EventPublisher
	validate   *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	workflows *services.Workflow,
	runner web.Runner,
	executions web.ExecutionReader,
	events web.EventPublisher,
) *API {
	return &API{
		logger:     logger,
		workflows:  workflows,
		runner:     runner,
		executions: executions,
		events:     events,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.workflows, a.runner, a.executions, a.events, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Rentflow API")
	})

	handlers.Register(app)

	return app
}

// Start serves the API until the listener fails or listenConfig's graceful context is done.
func (a *API) Start(port int, listenConfig fiber.ListenConfig) error {
	a.logger.Info("Starting Rentflow API", "port", port)

	return a.App().Listen(":"+strconv.Itoa(port), listenConfig)
}
