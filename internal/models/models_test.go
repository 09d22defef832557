package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricRequest_Validate(t *testing.T) {
	r := MetricRequest{Metric: "  cpu.user "}
	require.NoError(t, r.Validate())
	assert.Equal(t, "cpu.user", r.Metric)

	assert.Error(t, (&MetricRequest{Metric: " "}).Validate())
	assert.Error(t, (&MetricRequest{Metric: "a/b"}).Validate())
}

func TestEvaluateRequest_Range(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		req       EvaluateRequest
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{"defaults", EvaluateRequest{}, now.Add(-15 * time.Minute), now, false},
		{"end only", EvaluateRequest{End: "2026-03-01T11:00:00Z"}, now.Add(-75 * time.Minute), now.Add(-time.Hour), false},
		{"both", EvaluateRequest{Start: "2026-03-01T10:00:00Z", End: "2026-03-01T10:30:00Z"}, now.Add(-2 * time.Hour), now.Add(-90 * time.Minute), false},
		{"reversed", EvaluateRequest{Start: "2026-03-01T11:00:00Z", End: "2026-03-01T10:00:00Z"}, time.Time{}, time.Time{}, true},
		{"bad start", EvaluateRequest{Start: "yesterday"}, time.Time{}, time.Time{}, true},
		{"bad end", EvaluateRequest{End: "1700000000"}, time.Time{}, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := tt.req.Range(now, 15*time.Minute)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(start), "start %s", start)
			assert.True(t, tt.wantEnd.Equal(end), "end %s", end)
		})
	}
}
