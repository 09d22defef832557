package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testStart = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	testEnd   = testStart.Add(15 * time.Minute)
)

func staticReader(values []float64, err error) analytics.SampleReader {
	return analytics.SampleReaderFunc(func(ctx context.Context, metric string, start, end time.Time) ([]float64, error) {
		return values, err
	})
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		p    float64
		want float64
	}{
		{"empty", nil, 50, 0},
		{"single", []float64{7}, 90, 7},
		{"median odd", []float64{1, 2, 3, 4, 5}, 50, 3},
		{"median even", []float64{1, 2, 3, 4}, 50, 2.5},
		{"min", []float64{1, 2, 3, 4}, 0, 1},
		{"max", []float64{1, 2, 3, 4}, 100, 4},
		{"p90 interpolated", []float64{10, 20, 30, 40, 50}, 90, 46},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.data, tt.p), 1e-9)
		})
	}
}

func TestThresholdDetector_Verdicts(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		threshold  float64
		percentile float64
		want       Verdict
	}{
		{"median above", []float64{5, 1, 9, 7, 8}, 6, 50, VerdictAnomalous},
		{"median below", []float64{5, 1, 9, 2, 3}, 6, 50, VerdictNormal},
		{"equal is not above", []float64{6, 6, 6}, 6, 50, VerdictNormal},
		{"p90 above", []float64{1, 1, 1, 1, 100}, 50, 90, VerdictAnomalous},
		{"empty unclassified", nil, 0, 50, VerdictUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewThresholdDetector(staticReader(tt.values, nil), tt.threshold, tt.percentile, logging.NewNop())
			w, err := d.Evaluate(context.Background(), "cpu", testStart, testEnd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.Verdict)
			assert.Equal(t, len(tt.values), w.SampleCount)
			assert.Equal(t, "cpu", w.Metric)
			assert.False(t, w.Training)
			assert.NotEmpty(t, w.ID)
		})
	}
}

func TestThresholdDetector_DoesNotReorderReaderSlice(t *testing.T) {
	values := []float64{3, 1, 2}
	d := NewThresholdDetector(staticReader(values, nil), 0, 50, logging.NewNop())
	_, err := d.Evaluate(context.Background(), "cpu", testStart, testEnd)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestThresholdDetector_ReaderError(t *testing.T) {
	readErr := errors.New("storage down")
	d := NewThresholdDetector(staticReader(nil, readErr), 0, 50, logging.NewNop())
	_, err := d.Evaluate(context.Background(), "cpu", testStart, testEnd)
	require.Error(t, err)
	assert.ErrorIs(t, err, readErr)
}

func TestThresholdDetector_InvalidRange(t *testing.T) {
	d := NewThresholdDetector(staticReader(nil, nil), 0, 50, logging.NewNop())
	_, err := d.Evaluate(context.Background(), "cpu", testEnd, testStart)
	assert.Error(t, err)
}

func TestNew_Registry(t *testing.T) {
	cfg := config.DefaultConfig().Detector
	cfg.Kind = KindThreshold
	cfg.Threshold = 10

	d, err := New(cfg, Deps{Reader: staticReader(nil, nil), Logger: logging.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, KindThreshold, d.Name())
	assert.Contains(t, Kinds(), KindThreshold)

	cfg.Kind = "holt-winters"
	_, err = New(cfg, Deps{Reader: staticReader(nil, nil)})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(cfg, Deps{})
	assert.Error(t, err)
}

func TestWindow_Helpers(t *testing.T) {
	var nilWindow *Window
	assert.False(t, nilWindow.Anomalous())
	assert.False(t, nilWindow.Classified())

	w := &Window{Verdict: VerdictUnclassified}
	assert.False(t, w.Classified())
	w.Verdict = VerdictAnomalous
	assert.True(t, w.Anomalous())
	assert.True(t, w.Classified())
}
