// Package main provides the Dunning API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dukex/dunning/pkg/cmd"
	"github.com/dukex/dunning/pkg/web"
)

type API struct {
	logger         *slog.Logger
	engine         *cmd.Engine
	dispatcher     web.Dispatcher
	dispatchSecret string
	validate       *validator.Validate
}

func NewAPI(log *slog.Logger, engine *cmd.Engine, dispatcher web.Dispatcher, dispatchSecret string) *API {
	return &API{
		logger:         log,
		engine:         engine,
		dispatcher:     dispatcher,
		dispatchSecret: dispatchSecret,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.engine.Interpreter,
		a.dispatcher,
		a.engine.Store,
		a.engine.Runs,
		a.engine.Store,
		a.validate,
		a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Dunning API")
	})

	handlers.Register(app, a.dispatchSecret)

	return app
}

func (a *API) Start(port int) error {
	a.logger.Info("Starting API server", "port", port)

	return a.App().Listen(":" + strconv.Itoa(port))
}
