package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/queue"
	"github.com/soltixdb/morgoth/internal/telemetry"
	"github.com/soltixdb/morgoth/internal/utils"
)

// Batch is the ingestion message: samples for one metric
type Batch struct {
	Metric string       `json:"metric"`
	Points []BatchPoint `json:"points"`
}

// BatchPoint is one sample. Value may be a JSON number or a numeric string.
type BatchPoint struct {
	Time  time.Time   `json:"time"`
	Value interface{} `json:"value"`
}

// Observer decides whether samples of a metric are kept, tracking it if needed
type Observer interface {
	Observe(metric string) bool
}

// Ingestor consumes sample batches from the queue and writes them to a store
type Ingestor struct {
	sub     queue.Subscriber
	subject string
	store   Writer
	metrics Observer
	tm      *telemetry.Metrics
	logger  *logging.Logger
	timeout time.Duration
}

// NewIngestor creates an ingestor. metrics and tm may be nil.
func NewIngestor(sub queue.Subscriber, subject string, store Writer, metrics Observer, tm *telemetry.Metrics, logger *logging.Logger) *Ingestor {
	if logger == nil {
		logger = logging.Global()
	}
	return &Ingestor{
		sub:     sub,
		subject: subject,
		store:   store,
		metrics: metrics,
		tm:      tm,
		logger:  logger.With("component", "ingestor", "subject", subject),
		timeout: 5 * time.Second,
	}
}

// Start subscribes to the ingestion subject
func (i *Ingestor) Start() error {
	if err := i.sub.Subscribe(i.subject, i.Handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", i.subject, err)
	}
	i.logger.Info("Sample ingestion started")
	return nil
}

// Stop unsubscribes from the ingestion subject
func (i *Ingestor) Stop() error {
	return i.sub.Unsubscribe(i.subject)
}

// Decode parses a batch message, dropping points that are not finite numbers
func Decode(data []byte) (Batch, analytics.TimeSeriesData, error) {
	var b Batch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&b); err != nil {
		return Batch{}, nil, fmt.Errorf("invalid sample batch: %w", err)
	}
	if b.Metric == "" {
		return Batch{}, nil, fmt.Errorf("invalid sample batch: metric is required")
	}

	points := make(analytics.TimeSeriesData, 0, len(b.Points))
	for _, p := range b.Points {
		v, ok := utils.ToFloat64(p.Value)
		if !ok || !utils.IsFinite(v) || p.Time.IsZero() {
			continue
		}
		points = append(points, analytics.TimeSeriesPoint{Time: p.Time, Value: v})
	}
	return b, points, nil
}

// Handle processes one queue message. Malformed batches are logged and
// acknowledged; store failures are returned so the broker can redeliver.
func (i *Ingestor) Handle(data []byte) error {
	batch, points, err := Decode(data)
	if err != nil {
		i.logger.Warn("Dropped sample batch", "error", err)
		return nil
	}
	if dropped := len(batch.Points) - points.Len(); dropped > 0 {
		i.logger.Debug("Dropped invalid points", "metric", batch.Metric, "dropped", dropped)
	}
	if points.Len() == 0 {
		return nil
	}
	if i.metrics != nil && !i.metrics.Observe(batch.Metric) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()
	if err := i.store.Write(ctx, batch.Metric, points); err != nil {
		return fmt.Errorf("failed to store samples for %s: %w", batch.Metric, err)
	}
	i.tm.AddIngested(points.Len())
	return nil
}
