package models

import (
	"github.com/soltixdb/morgoth/internal/analytics/anomaly"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Detector  string `json:"detector,omitempty"`
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an error
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// MetricListResponse lists the tracked metrics
type MetricListResponse struct {
	Metrics []string `json:"metrics"`
	Count   int      `json:"count"`
}

// MetricResponse acknowledges a tracking change
type MetricResponse struct {
	Metric  string `json:"metric"`
	Tracked bool   `json:"tracked"`
}

// VerdictListResponse lists the latest live window of every metric
type VerdictListResponse struct {
	Verdicts  []*anomaly.Window `json:"verdicts"`
	Count     int               `json:"count"`
	Anomalous int               `json:"anomalous"`
}

// EvaluateResponse is the result of an on-demand evaluation. Windows holds
// the training windows followed by the live window when the detector
// exposes them.
type EvaluateResponse struct {
	Metric  string            `json:"metric"`
	Live    *anomaly.Window   `json:"live"`
	Windows []*anomaly.Window `json:"windows,omitempty"`
}
