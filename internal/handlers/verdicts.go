package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/soltixdb/morgoth/internal/analytics/anomaly"
	"github.com/soltixdb/morgoth/internal/models"
	"github.com/soltixdb/morgoth/internal/utils"
)

// ListVerdicts returns the latest live window of every metric. With
// ?anomalous=true only anomalous windows are listed.
func (h *Handler) ListVerdicts(c *fiber.Ctx) error {
	if h.deps.Verdicts == nil {
		return unavailable(c, "verdict store")
	}

	onlyAnomalous := c.QueryBool("anomalous", false)
	all := h.deps.Verdicts.List()

	resp := models.VerdictListResponse{Verdicts: make([]*anomaly.Window, 0, len(all))}
	for _, w := range all {
		if w.Anomalous() {
			resp.Anomalous++
		} else if onlyAnomalous {
			continue
		}
		resp.Verdicts = append(resp.Verdicts, w)
	}
	resp.Count = len(resp.Verdicts)
	return c.JSON(resp)
}

// GetVerdict returns the latest live window of :metric
func (h *Handler) GetVerdict(c *fiber.Ctx) error {
	if h.deps.Verdicts == nil {
		return unavailable(c, "verdict store")
	}

	name := metricParam(c)
	w, ok := h.deps.Verdicts.Get(name)
	if !ok {
		return fail(c, fiber.StatusNotFound, "NO_VERDICT", "No verdict for metric "+name)
	}
	return c.JSON(w)
}

// Evaluate runs the detector for :metric synchronously over ?start=&end=,
// defaulting to the window that just closed
func (h *Handler) Evaluate(c *fiber.Ctx) error {
	if h.deps.Detector == nil {
		return unavailable(c, "detector")
	}

	var req models.EvaluateRequest
	if err := c.QueryParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
	start, end, err := req.Range(h.now(), h.deps.Duration)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "INVALID_RANGE", err.Error())
	}

	name := metricParam(c)
	ctx, cancel := context.WithTimeout(c.UserContext(), utils.EvaluateTimeout)
	defer cancel()

	resp := models.EvaluateResponse{Metric: name}
	if tracer, ok := h.deps.Detector.(anomaly.Tracer); ok {
		resp.Windows, err = tracer.EvaluateAll(ctx, name, start, end)
		if err == nil && len(resp.Windows) > 0 {
			resp.Live = resp.Windows[len(resp.Windows)-1]
		}
	} else {
		resp.Live, err = h.deps.Detector.Evaluate(ctx, name, start, end)
	}
	if err != nil {
		h.logger.WithContext(c.UserContext()).Error("On-demand evaluation failed", "metric", name, "start", start, "end", end, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(c, fiber.StatusGatewayTimeout, "EVALUATION_TIMEOUT", err.Error())
		}
		return fail(c, fiber.StatusInternalServerError, "EVALUATION_FAILED", err.Error())
	}

	return c.JSON(resp)
}

// SchedulerStats returns the scheduler counters
func (h *Handler) SchedulerStats(c *fiber.Ctx) error {
	if h.deps.Scheduler == nil {
		return unavailable(c, "scheduler")
	}
	return c.JSON(h.deps.Scheduler.Stats())
}
