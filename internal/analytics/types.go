// Package analytics provides the common types shared by the anomaly detectors:
// time-series points, time ranges, training window specs and the sample reader
// contract the detectors pull data through.
package analytics

import (
	"context"
	"fmt"
	"time"
)

// TimeSeriesPoint represents a single time-series data point with time and value.
type TimeSeriesPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// TimeSeriesData represents a collection of time-series data points
type TimeSeriesData []TimeSeriesPoint

// Len returns the number of data points
func (ts TimeSeriesData) Len() int {
	return len(ts)
}

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeRange builds a range and checks End > Start.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	r := TimeRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return TimeRange{}, err
	}
	return r, nil
}

// Validate checks the End > Start invariant
func (r TimeRange) Validate() error {
	if !r.End.After(r.Start) {
		return fmt.Errorf("invalid time range: end %s must be after start %s",
			r.End.Format(time.RFC3339Nano), r.Start.Format(time.RFC3339Nano))
	}
	return nil
}

// Duration returns End - Start
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains reports whether t falls inside [Start, End)
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// WindowSpec describes a training window relative to the live window start:
// [liveStart - Offset, liveStart - Offset + Duration).
type WindowSpec struct {
	Offset   time.Duration `json:"offset"`
	Duration time.Duration `json:"duration"`
}

// Validate checks the window has a positive duration
func (s WindowSpec) Validate() error {
	if s.Duration <= 0 {
		return fmt.Errorf("window duration must be positive, got %s", s.Duration)
	}
	return nil
}

// RangeFrom resolves the training range for a live window starting at liveStart
func (s WindowSpec) RangeFrom(liveStart time.Time) TimeRange {
	start := liveStart.Add(-s.Offset)
	return TimeRange{Start: start, End: start.Add(s.Duration)}
}

// SampleReader fetches the raw samples of a metric in [start, end).
// Implementations return an empty slice, not an error, when no data exists
// in range; errors are reserved for unreachable or broken storage.
type SampleReader interface {
	GetSamples(ctx context.Context, metric string, start, end time.Time) ([]float64, error)
}

// SampleReaderFunc adapts a function to SampleReader
type SampleReaderFunc func(ctx context.Context, metric string, start, end time.Time) ([]float64, error)

// GetSamples calls f
func (f SampleReaderFunc) GetSamples(ctx context.Context, metric string, start, end time.Time) ([]float64, error) {
	return f(ctx, metric, start, end)
}
