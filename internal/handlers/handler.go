package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/soltixdb/morgoth/internal/analytics/anomaly"
	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/models"
	"github.com/soltixdb/morgoth/internal/scheduler"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// MetricTracker changes and lists the tracked metric set
type MetricTracker interface {
	Track(ctx context.Context, metric string) error
	Untrack(ctx context.Context, metric string) error
	List() []string
}

// VerdictReader serves the latest live window per metric
type VerdictReader interface {
	Get(metric string) (*anomaly.Window, bool)
	List() []*anomaly.Window
}

// StatsProvider reports scheduler counters
type StatsProvider interface {
	Stats() scheduler.Stats
}

// Deps are the collaborators behind the admin API. Any of them may be nil;
// the matching routes then answer 503.
type Deps struct {
	Metrics   MetricTracker
	Verdicts  VerdictReader
	Detector  anomaly.Detector
	Scheduler StatsProvider
	Duration  time.Duration // default live window length for on-demand evaluation
}

// Handler contains all HTTP handlers
type Handler struct {
	logger *logging.Logger
	deps   Deps
	now    func() time.Time
}

// New creates a new handler instance
func New(logger *logging.Logger, deps Deps) *Handler {
	if logger == nil {
		logger = logging.Global()
	}
	if deps.Duration <= 0 {
		deps.Duration = 15 * time.Minute
	}
	return &Handler{
		logger: logger,
		deps:   deps,
		now:    time.Now,
	}
}

// fail writes an ErrorResponse with status
func fail(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: message,
			Path:    c.Path(),
		},
	})
}

func unavailable(c *fiber.Ctx, what string) error {
	return fail(c, fiber.StatusServiceUnavailable, "UNAVAILABLE", what+" is not configured")
}
