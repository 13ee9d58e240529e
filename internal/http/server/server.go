package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"resume-renderer/internal/config"
	"resume-renderer/internal/http/handlers"
	"resume-renderer/internal/http/middleware"
	"resume-renderer/internal/infra/chrome"
	"resume-renderer/internal/infra/stats"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Config   config.Config
	Renderer handlers.Renderer
	Session  *chrome.Session
	Stats    *stats.Recorder
	Tokens   middleware.TokenStore
	// Storage backs the rate limiters. Nil selects NewLimiterStorage.
	Storage fiber.Storage
}

// New creates and configures the Fiber app.
func New(d Deps) (*fiber.App, error) {
	if d.Renderer == nil {
		return nil, errors.New("server: renderer is required")
	}

	app := fiber.New(fiber.Config{
		Prefork:               d.Config.Server.Prefork,
		BodyLimit:             d.Config.Server.BodyLimitBytes,
		DisableStartupMessage: true,
		ErrorHandler:          handlers.ErrorHandler,
	})

	storage := d.Storage
	if storage == nil {
		storage = middleware.NewLimiterStorage(d.Config)
	}
	middleware.Register(app, d.Config, d.Tokens, storage)

	var session handlers.SessionStats
	if d.Session != nil {
		session = d.Session
	}
	svc, err := handlers.NewPDFService(d.Config, d.Renderer, session, d.Stats)
	if err != nil {
		return nil, err
	}

	api := app.Group("/api")
	api.Post("/pdf/generate-puppeteer", svc.HandleGenerate)
	api.Get("/pdf/browser/stats", svc.HandleBrowserStats)
	api.Get("/monitor", monitor.New())

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app, nil
}
