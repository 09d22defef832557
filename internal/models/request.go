package models

import (
	"fmt"
	"strings"
	"time"
)

// MetricRequest starts tracking a metric
type MetricRequest struct {
	Metric string `json:"metric"`
}

// Validate trims and checks the metric name
func (r *MetricRequest) Validate() error {
	r.Metric = strings.TrimSpace(r.Metric)
	if r.Metric == "" {
		return fmt.Errorf("metric is required")
	}
	if strings.ContainsAny(r.Metric, "/\x00") {
		return fmt.Errorf("metric must not contain '/'")
	}
	return nil
}

// EvaluateRequest is the query of an on-demand evaluation; both bounds are
// optional RFC3339 timestamps
type EvaluateRequest struct {
	Start string `query:"start"`
	End   string `query:"end"`
}

// Range resolves the live window. A missing end is now; a missing start is
// end minus duration.
func (r EvaluateRequest) Range(now time.Time, duration time.Duration) (time.Time, time.Time, error) {
	end := now
	if r.End != "" {
		t, err := time.Parse(time.RFC3339, r.End)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
		}
		end = t
	}

	start := end.Add(-duration)
	if r.Start != "" {
		t, err := time.Parse(time.RFC3339, r.Start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
		}
		start = t
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end time must be after start time")
	}
	return start, end, nil
}
