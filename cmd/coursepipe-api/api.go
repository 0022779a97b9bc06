// Package main provides the coursepipe HTTP API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/coursepipe/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	pipeline web.Pipeline
	checkers map[string]web.HealthChecker
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	pipeline web.Pipeline,
	checkers map[string]web.HealthChecker,
) *API {
	return &API{
		logger:   logger,
		pipeline: pipeline,
		checkers: checkers,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.pipeline, a.validate, a.checkers)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("coursepipe API")
	})

	web.RegisterRoutes(app, handlers)

	return app
}

// Start serves until ctx is cancelled, then shuts the server down.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	errs := make(chan error, 1)

	go func() {
		errs <- app.Listen(":" + strconv.Itoa(port))
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		a.logger.InfoContext(ctx, "Shutting down API")

		return app.ShutdownWithContext(context.WithoutCancel(ctx))
	}
}
