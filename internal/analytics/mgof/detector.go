package mgof

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/analytics/anomaly"
	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/logging"
)

// Kind is the registry name of the MGOF detector
const Kind = "mgof"

var (
	_ anomaly.Detector  = (*Detector)(nil)
	_ anomaly.Tracer    = (*Detector)(nil)
	_ anomaly.Forgetter = (*Detector)(nil)
)

func init() {
	anomaly.Register(Kind, func(cfg config.DetectorConfig, deps anomaly.Deps) (anomaly.Detector, error) {
		var opts []Option
		switch cfg.PatternStore.Type {
		case "memory":
			opts = append(opts, WithPatternStore(NewMemoryPatternStore()))
		case "redis":
			store, err := DialRedisPatternStore(cfg.PatternStore.RedisURL, cfg.PatternStore.KeyPrefix, cfg.PatternStore.TTL)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithPatternStore(store))
		}
		return New(ConfigFrom(cfg), deps.Reader, deps.Logger, opts...)
	})
}

// Detector classifies a live window against training windows taken at fixed
// offsets before it.
type Detector struct {
	cfg       Config
	threshold float64
	reader    analytics.SampleReader
	store     PatternStore
	locks     metricLocks
	clock     clock.Clock
	logger    *logging.Logger
}

// Option configures a Detector
type Option func(*Detector)

// WithPatternStore keeps patterns across cycles in store. Once a metric has
// stored patterns only the live window is folded into them.
func WithPatternStore(store PatternStore) Option {
	return func(d *Detector) {
		d.store = store
	}
}

// WithClock sets the clock used to stamp evaluated windows
func WithClock(c clock.Clock) Option {
	return func(d *Detector) {
		d.clock = c
	}
}

// New creates an MGOF detector. A configuration where no training window can
// become an established pattern is logged but accepted.
func New(cfg Config, reader analytics.SampleReader, logger *logging.Logger, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reader == nil {
		return nil, fmt.Errorf("%w: sample reader is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Global()
	}

	d := &Detector{
		cfg:       cfg,
		threshold: ChiSquareThreshold(cfg.Confidence, cfg.NBins),
		reader:    reader,
		clock:     clock.New(),
		logger:    logger.With("detector", Kind),
	}
	for _, opt := range opts {
		opt(d)
	}

	if cfg.Degenerate() {
		d.logger.Warn("count_threshold does not allow for any bad training windows",
			"count_threshold", cfg.CountThreshold,
			"windows", len(cfg.Windows))
	}

	return d, nil
}

// Name returns the detector kind
func (d *Detector) Name() string {
	return Kind
}

// Config returns the detector parameters
func (d *Detector) Config() Config {
	return d.cfg
}

// Threshold returns the chi-square gate
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Evaluate classifies the live window [start, end) of metric
func (d *Detector) Evaluate(ctx context.Context, metric string, start, end time.Time) (*anomaly.Window, error) {
	windows, err := d.EvaluateAll(ctx, metric, start, end)
	if err != nil {
		return nil, err
	}
	return windows[len(windows)-1], nil
}

// EvaluateAll classifies every training window and the live window, in that
// order, and returns them all. The live window is last.
func (d *Detector) EvaluateAll(ctx context.Context, metric string, start, end time.Time) ([]*anomaly.Window, error) {
	live, err := analytics.NewTimeRange(start, end)
	if err != nil {
		return nil, err
	}

	ranges := make([]analytics.TimeRange, 0, len(d.cfg.Windows)+1)
	for _, spec := range d.cfg.Windows {
		ranges = append(ranges, spec.RangeFrom(start))
	}
	ranges = append(ranges, live)

	samples, err := d.fetch(ctx, metric, ranges)
	if err != nil {
		return nil, err
	}

	dists := make([]Distribution, len(ranges))
	for i := range ranges {
		dists[i] = Build(samples[i], d.cfg.NBins)
	}

	outcomes, err := d.classify(ctx, metric, dists)
	if err != nil {
		return nil, err
	}

	log := d.logger.WithContext(ctx)
	debug := log.Enabled(zerolog.DebugLevel)
	now := d.clock.Now()
	liveIndex := len(ranges) - 1
	windows := make([]*anomaly.Window, len(ranges))
	for i, r := range ranges {
		w := &anomaly.Window{
			ID:              uuid.New().String(),
			Metric:          metric,
			Range:           r,
			Training:        i != liveIndex,
			SampleCount:     dists[i].SampleCount,
			Distribution:    dists[i].Probs,
			Verdict:         outcomes[i].Verdict,
			Matched:         outcomes[i].Matched,
			PatternIndex:    outcomes[i].PatternIndex,
			RelativeEntropy: outcomes[i].RelativeEntropy,
			EvaluatedAt:     now,
			Detector:        Kind,
		}
		windows[i] = w

		if outcomes[i].Skipped() && dists[i].SampleCount < d.cfg.NBins {
			if debug {
				log.Debug("Skipped window", "metric", metric, "range", r.String(), "count", w.SampleCount)
			}
			if !w.Training {
				log.Warn("Skipped live window", "metric", metric, "range", r.String(),
					"count", w.SampleCount, "n_bins", d.cfg.NBins)
			}
			continue
		}
		if debug {
			log.Debug("Analyzed window",
				"metric", metric,
				"range", r.String(),
				"training", w.Training,
				"count", w.SampleCount,
				"verdict", string(w.Verdict),
				"pattern", w.PatternIndex)
		}
	}

	return windows, nil
}

// Forget drops stored patterns of metric. It is a no-op without a store.
func (d *Detector) Forget(ctx context.Context, metric string) error {
	if d.store == nil {
		return nil
	}
	unlock := d.locks.lock(metric)
	defer unlock()
	return d.store.Delete(ctx, metric)
}

// fetch reads all ranges concurrently, keeping their order
func (d *Detector) fetch(ctx context.Context, metric string, ranges []analytics.TimeRange) ([][]float64, error) {
	samples := make([][]float64, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		g.Go(func() error {
			values, err := d.reader.GetSamples(gctx, metric, r.Start, r.End)
			if err != nil {
				return fmt.Errorf("failed to read samples for %s in %s: %w", metric, r, err)
			}
			samples[i] = values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

func (d *Detector) params() Params {
	return Params{
		NBins:          d.cfg.NBins,
		CountThreshold: d.cfg.CountThreshold,
		Threshold:      d.threshold,
	}
}

// classify runs the fold. Without a store patterns are local to this call.
// With a store, a metric without stored patterns is bootstrapped from all
// windows; otherwise only the live window is folded into the stored ones.
func (d *Detector) classify(ctx context.Context, metric string, dists []Distribution) ([]Outcome, error) {
	if d.store == nil {
		outcomes, _ := Classify(NewRegistry(), dists, d.params())
		return outcomes, nil
	}

	unlock := d.locks.lock(metric)
	defer unlock()

	reg, err := d.store.Load(ctx, metric)
	if err != nil {
		return nil, err
	}

	var outcomes []Outcome
	if reg.Len() == 0 {
		outcomes, reg = Classify(reg, dists, d.params())
	} else {
		outcomes = make([]Outcome, len(dists))
		for i := range outcomes[:len(outcomes)-1] {
			outcomes[i] = Outcome{Verdict: anomaly.VerdictUnclassified, PatternIndex: -1}
		}
		outcomes[len(outcomes)-1], reg = Step(reg, dists[len(dists)-1], d.params())
	}

	if n := reg.Len(); d.cfg.MaxPatterns > 0 && n > d.cfg.MaxPatterns {
		var remap []int
		reg, remap = reg.Trim(d.cfg.MaxPatterns)
		for i := range outcomes {
			if idx := outcomes[i].PatternIndex; idx >= 0 {
				outcomes[i].PatternIndex = remap[idx]
			}
		}
		d.logger.WithContext(ctx).Debug("Evicted stored patterns", "metric", metric, "evicted", n-reg.Len())
	}

	if err := d.store.Save(ctx, metric, reg); err != nil {
		return nil, err
	}
	return outcomes, nil
}
