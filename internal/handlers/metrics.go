package handlers

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/soltixdb/morgoth/internal/metric"
	"github.com/soltixdb/morgoth/internal/models"
)

// metricParam returns the decoded :metric route parameter
func metricParam(c *fiber.Ctx) string {
	raw := c.Params("metric")
	if m, err := url.PathUnescape(raw); err == nil {
		return m
	}
	return raw
}

// ListMetrics returns the tracked metrics
func (h *Handler) ListMetrics(c *fiber.Ctx) error {
	if h.deps.Metrics == nil {
		return unavailable(c, "metric tracking")
	}
	metrics := h.deps.Metrics.List()
	if metrics == nil {
		metrics = []string{}
	}
	return c.JSON(models.MetricListResponse{Metrics: metrics, Count: len(metrics)})
}

// TrackMetric starts tracking the metric in the request body
func (h *Handler) TrackMetric(c *fiber.Ctx) error {
	if h.deps.Metrics == nil {
		return unavailable(c, "metric tracking")
	}

	var req models.MetricRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}
	if err := req.Validate(); err != nil {
		return fail(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}

	if err := h.deps.Metrics.Track(c.UserContext(), req.Metric); err != nil {
		h.logger.WithContext(c.UserContext()).Error("Failed to track metric", "metric", req.Metric, "error", err)
		return fail(c, fiber.StatusInternalServerError, "TRACK_FAILED", err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(models.MetricResponse{Metric: req.Metric, Tracked: true})
}

// UntrackMetric stops tracking :metric
func (h *Handler) UntrackMetric(c *fiber.Ctx) error {
	if h.deps.Metrics == nil {
		return unavailable(c, "metric tracking")
	}

	name := metricParam(c)
	if err := h.deps.Metrics.Untrack(c.UserContext(), name); err != nil {
		if errors.Is(err, metric.ErrNotTracked) {
			return fail(c, fiber.StatusNotFound, "NOT_TRACKED", err.Error())
		}
		h.logger.WithContext(c.UserContext()).Error("Failed to untrack metric", "metric", name, "error", err)
		return fail(c, fiber.StatusInternalServerError, "UNTRACK_FAILED", err.Error())
	}

	return c.JSON(models.MetricResponse{Metric: name, Tracked: false})
}
