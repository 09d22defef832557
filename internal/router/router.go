package router

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/handlers"
	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/middleware"
	"github.com/soltixdb/morgoth/internal/utils"
)

// Setup configures all routes and middlewares. metricsHandler serves
// Prometheus metrics on /metrics when not nil.
func Setup(app *fiber.App, logger *logging.Logger, h *handlers.Handler, auth config.AuthConfig, metricsHandler http.Handler) {
	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID",
	}))
	app.Use(logging.FiberMiddleware(logger, logging.DefaultMiddlewareConfig()))

	// Unauthenticated probes
	app.Get("/health", h.Health)
	if metricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metricsHandler))
	}

	authMiddleware := middleware.APIKeyAuth(logger, auth.APIKeys, auth.Enabled)

	v1 := app.Group("/v1", authMiddleware)

	// Tracked metrics
	v1.Get("/metrics", h.ListMetrics)
	v1.Post("/metrics", h.TrackMetric)
	v1.Delete("/metrics/:metric", h.UntrackMetric)
	v1.Post("/metrics/:metric/evaluate", h.Evaluate)

	// Verdicts
	v1.Get("/verdicts", h.ListVerdicts)
	v1.Get("/verdicts/:metric", h.GetVerdict)

	admin := app.Group("/admin", authMiddleware)
	admin.Get("/scheduler", h.SchedulerStats)

	// 404 handler
	app.Use(h.NotFound)
}

// New creates a new Fiber app with configuration
func New(logger *logging.Logger, deps handlers.Deps, cfg config.Config, metricsHandler http.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Morgoth Detector",
		DisableStartupMessage: true,
		ReadTimeout:           utils.DefaultRequestTimeout,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	Setup(app, logger, handlers.New(logger, deps), cfg.Auth, metricsHandler)

	return app
}
