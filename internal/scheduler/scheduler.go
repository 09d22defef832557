// Package scheduler fires an evaluation of every tracked metric once per
// period and runs them on a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/analytics/anomaly"
	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/telemetry"
	"github.com/soltixdb/morgoth/internal/utils"
)

// ErrStopped is returned when the scheduler is used after Stop
var ErrStopped = errors.New("scheduler stopped")

// MetricSource provides the tracked metrics
type MetricSource interface {
	List() []string
	Has(metric string) bool
}

// Sink receives every evaluated live window
type Sink interface {
	Write(ctx context.Context, w *anomaly.Window) error
}

// Config controls tick period, window length and fan-out
type Config struct {
	Period             time.Duration
	Duration           time.Duration
	MaxConcurrent      int
	QueueSize          int
	EvaluationTimeout  time.Duration
	EvaluateAfterClose bool
}

// ConfigFrom builds the scheduler config from the service config
func ConfigFrom(det config.DetectorConfig, sched config.SchedulerConfig) Config {
	return Config{
		Period:             det.Period,
		Duration:           det.Duration,
		MaxConcurrent:      sched.MaxConcurrent,
		QueueSize:          sched.QueueSize,
		EvaluationTimeout:  sched.EvaluationTimeout,
		EvaluateAfterClose: sched.EvaluateAfterClose,
	}
}

// TaskError is reported for a failed evaluation of one metric
type TaskError struct {
	Metric string
	Range  analytics.TimeRange
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("evaluation of %s in %s failed: %v", e.Metric, e.Range, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Stats is a snapshot of scheduler counters
type Stats struct {
	Ticks      int64 `json:"ticks"`
	Dispatched int64 `json:"dispatched"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	InFlight   int64 `json:"in_flight"`
	Queued     int   `json:"queued"`
	Workers    int   `json:"workers"`
	Running    bool  `json:"running"`
}

type job struct {
	metric string
	rng    analytics.TimeRange
}

// Scheduler dispatches evaluations on a fixed pool of workers fed by a
// bounded queue. A full queue drops the job; it never blocks the tick.
type Scheduler struct {
	cfg      Config
	detector anomaly.Detector
	metrics  MetricSource
	sink     Sink
	clock    clock.Clock
	logger   *logging.Logger
	tm       *telemetry.Metrics

	jobs   chan job
	errCh  chan error
	stopCh chan struct{}
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	running  bool
	stopped  bool
	ticker   *clock.Ticker
	timers   map[*clock.Timer]struct{}
	inflight map[string]map[uint64]context.CancelFunc
	seq      uint64

	ticks      atomic.Int64
	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
	active     atomic.Int64
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock sets the time source
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithSink sets where live windows are written
func WithSink(sink Sink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// WithTelemetry records dispatch and evaluation metrics
func WithTelemetry(tm *telemetry.Metrics) Option {
	return func(s *Scheduler) {
		s.tm = tm
	}
}

// New creates a scheduler. Call Start to begin ticking.
func New(cfg Config, detector anomaly.Detector, metrics MetricSource, logger *logging.Logger, opts ...Option) (*Scheduler, error) {
	if cfg.Period <= 0 || cfg.Duration <= 0 {
		return nil, fmt.Errorf("scheduler period and duration must be positive")
	}
	if detector == nil || metrics == nil {
		return nil, fmt.Errorf("scheduler requires a detector and a metric source")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = utils.DefaultMaxConcurrent
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = utils.DefaultDispatchQueueSize
	}
	if logger == nil {
		logger = logging.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:      cfg,
		detector: detector,
		metrics:  metrics,
		clock:    clock.New(),
		logger:   logger.With("component", "scheduler"),
		jobs:     make(chan job, cfg.QueueSize),
		errCh:    make(chan error, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[*clock.Timer]struct{}),
		inflight: make(map[string]map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Errors delivers one TaskError per failed evaluation. It is closed by Stop.
// Errors are dropped when nobody drains the channel and it is full.
func (s *Scheduler) Errors() <-chan error {
	return s.errCh
}

// Start launches the workers and the period ticker
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.running {
		return nil
	}
	s.running = true

	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.ticker = s.clock.Ticker(s.cfg.Period)
	s.wg.Add(1)
	go s.tickLoop(s.ticker)

	s.logger.Info("Scheduler started",
		"period", s.cfg.Period,
		"duration", s.cfg.Duration,
		"workers", s.cfg.MaxConcurrent,
		"queue_size", s.cfg.QueueSize,
		"evaluate_after_close", s.cfg.EvaluateAfterClose)
	return nil
}

// Stop cancels in-flight evaluations, waits for the workers and closes Errors.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasRunning := s.running
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
	}
	for t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.mu.Unlock()

	s.cancel()
	close(s.stopCh)
	s.wg.Wait()
	close(s.errCh)

	if wasRunning {
		s.logger.Info("Scheduler stopped", "completed", s.completed.Load(), "failed", s.failed.Load())
	}
}

func (s *Scheduler) tickLoop(ticker *clock.Ticker) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(s.clock.Now())
		}
	}
}

// RunOnce performs one tick at now: every tracked metric gets an evaluation
// of [now, now+duration). It returns the number of jobs queued or, with
// evaluate_after_close, scheduled.
func (s *Scheduler) RunOnce(now time.Time) int {
	if s.isStopped() {
		return 0
	}
	s.ticks.Add(1)

	rng := analytics.TimeRange{Start: now, End: now.Add(s.cfg.Duration)}
	metrics := s.metrics.List()
	s.logger.Debug("Tick", "metrics", len(metrics), "range", rng.String())

	n := 0
	for _, metric := range metrics {
		j := job{metric: metric, rng: rng}
		if s.cfg.EvaluateAfterClose {
			if s.enqueueAt(j, rng.End) {
				n++
			}
			continue
		}
		if s.enqueue(j) {
			n++
		}
	}
	return n
}

// Cancel aborts in-flight evaluations of metric
func (s *Scheduler) Cancel(metric string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancels := s.inflight[metric]
	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		s.logger.Debug("Cancelled in-flight evaluations", "metric", metric, "count", len(cancels))
	}
	return len(cancels)
}

// Stats returns a snapshot of the counters
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return Stats{
		Ticks:      s.ticks.Load(),
		Dispatched: s.dispatched.Load(),
		Completed:  s.completed.Load(),
		Failed:     s.failed.Load(),
		Dropped:    s.dropped.Load(),
		InFlight:   s.active.Load(),
		Queued:     len(s.jobs),
		Workers:    s.cfg.MaxConcurrent,
		Running:    running,
	}
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// enqueueAt queues j once the clock reaches at
func (s *Scheduler) enqueueAt(j job, at time.Time) bool {
	wait := at.Sub(s.clock.Now())
	if wait <= 0 {
		return s.enqueue(j)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}

	var t *clock.Timer
	t = s.clock.AfterFunc(wait, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		s.enqueue(j)
	})
	s.timers[t] = struct{}{}
	return true
}

// enqueue never blocks: a full queue drops the job
func (s *Scheduler) enqueue(j job) bool {
	if s.isStopped() {
		return false
	}

	select {
	case s.jobs <- j:
		s.dispatched.Add(1)
		return true
	default:
		s.dropped.Add(1)
		s.tm.IncDropped()
		s.logger.Warn("Dispatch queue full, dropping evaluation",
			"metric", j.metric,
			"range", j.rng.String(),
			"queue_size", s.cfg.QueueSize)
		return false
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case j := <-s.jobs:
			s.run(j)
		}
	}
}

// track registers a cancellable context for one evaluation of metric
func (s *Scheduler) track(metric string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(s.ctx)
	if s.cfg.EvaluationTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, s.cfg.EvaluationTimeout)
		parentCancel := cancel
		cancel = func() {
			timeoutCancel()
			parentCancel()
		}
	}

	s.mu.Lock()
	s.seq++
	id := s.seq
	if s.inflight[metric] == nil {
		s.inflight[metric] = make(map[uint64]context.CancelFunc)
	}
	s.inflight[metric][id] = cancel
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		delete(s.inflight[metric], id)
		if len(s.inflight[metric]) == 0 {
			delete(s.inflight, metric)
		}
		s.mu.Unlock()
		cancel()
	}
}

func (s *Scheduler) run(j job) {
	if !s.metrics.Has(j.metric) {
		s.logger.Debug("Metric no longer tracked, skipping evaluation", "metric", j.metric)
		return
	}

	ctx, release := s.track(j.metric)
	defer release()
	ctx = logging.WithLogger(logging.WithEvaluationID(ctx, uuid.New().String()), s.logger)

	s.active.Add(1)
	done := s.tm.EvaluationStarted()
	defer func() {
		done()
		s.active.Add(-1)
	}()

	start := s.clock.Now()
	w, err := s.detector.Evaluate(ctx, j.metric, j.rng.Start, j.rng.End)
	if err == nil && s.sink != nil {
		if sinkErr := s.sink.Write(ctx, w); sinkErr != nil {
			err = fmt.Errorf("failed to write verdict: %w", sinkErr)
		}
	}
	took := s.clock.Since(start)

	if err != nil {
		s.failed.Add(1)
		s.tm.ObserveEvaluation("", took, err)
		logging.ErrorCtx(ctx, "Evaluation failed",
			"metric", j.metric,
			"range", j.rng.String(),
			"error", err)
		s.report(&TaskError{Metric: j.metric, Range: j.rng, Err: err})
		return
	}

	s.completed.Add(1)
	s.tm.ObserveEvaluation(string(w.Verdict), took, nil)
	logging.DebugCtx(ctx, "Evaluated live window",
		"metric", j.metric,
		"range", j.rng.String(),
		"verdict", string(w.Verdict),
		"samples", w.SampleCount,
		"took", took)
}

func (s *Scheduler) report(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}
