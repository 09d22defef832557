package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/logging"
)

// KindThreshold selects the ThresholdDetector
const KindThreshold = "threshold"

func init() {
	Register(KindThreshold, func(cfg config.DetectorConfig, deps Deps) (Detector, error) {
		return NewThresholdDetector(deps.Reader, cfg.Threshold, cfg.Percentile, deps.Logger), nil
	})
}

// ThresholdDetector flags the live window when the given percentile of its
// samples is above Threshold. A percentile of 50 compares the median.
type ThresholdDetector struct {
	Threshold  float64
	Percentile float64

	reader analytics.SampleReader
	logger *logging.Logger
	now    func() time.Time
}

// NewThresholdDetector creates a threshold detector
func NewThresholdDetector(reader analytics.SampleReader, threshold, percentile float64, logger *logging.Logger) *ThresholdDetector {
	if logger == nil {
		logger = logging.Global()
	}
	return &ThresholdDetector{
		Threshold:  threshold,
		Percentile: percentile,
		reader:     reader,
		logger:     logger.With("detector", KindThreshold),
		now:        time.Now,
	}
}

// Name returns the detector kind
func (d *ThresholdDetector) Name() string {
	return KindThreshold
}

// Evaluate reads [start, end) and compares the percentile against the threshold
func (d *ThresholdDetector) Evaluate(ctx context.Context, metric string, start, end time.Time) (*Window, error) {
	r, err := analytics.NewTimeRange(start, end)
	if err != nil {
		return nil, err
	}

	samples, err := d.reader.GetSamples(ctx, metric, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples for %s in %s: %w", metric, r, err)
	}
	samples = finite(samples)

	w := &Window{
		ID:           uuid.New().String(),
		Metric:       metric,
		Range:        r,
		SampleCount:  len(samples),
		Verdict:      VerdictUnclassified,
		PatternIndex: -1,
		EvaluatedAt:  d.now(),
		Detector:     KindThreshold,
	}

	if len(samples) == 0 {
		d.logger.Warn("Found no samples for live window", "metric", metric, "range", r.String())
		return w, nil
	}

	sort.Float64s(samples)
	value := Percentile(samples, d.Percentile)
	d.logger.Debug("Computed percentile", "metric", metric, "percentile", d.Percentile, "value", value)

	if value > d.Threshold {
		w.Verdict = VerdictAnomalous
	} else {
		w.Verdict = VerdictNormal
	}
	return w, nil
}

// EvaluateAll returns the single live window
func (d *ThresholdDetector) EvaluateAll(ctx context.Context, metric string, start, end time.Time) ([]*Window, error) {
	w, err := d.Evaluate(ctx, metric, start, end)
	if err != nil {
		return nil, err
	}
	return []*Window{w}, nil
}

func (d *ThresholdDetector) String() string {
	return fmt.Sprintf("Threshold[threshold=%f,percentile=%v]", d.Threshold, d.Percentile)
}

// Percentile calculates the p-th percentile of sorted data with linear
// interpolation between closest ranks. p should be between 0 and 100.
func Percentile(sortedData []float64, p float64) float64 {
	if len(sortedData) == 0 {
		return 0
	}
	if len(sortedData) == 1 {
		return sortedData[0]
	}

	index := (p / 100) * float64(len(sortedData)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sortedData) {
		return sortedData[len(sortedData)-1]
	}

	weight := index - float64(lower)
	return sortedData[lower]*(1-weight) + sortedData[upper]*weight
}

// finite drops NaN and infinite samples, copying so the reader's slice is untouched
func finite(samples []float64) []float64 {
	out := make([]float64, 0, len(samples))
	for _, v := range samples {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
