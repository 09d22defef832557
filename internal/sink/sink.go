// Package sink delivers evaluated live windows: onto the message queue, into
// an in-memory latest-verdict cache, or both.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/soltixdb/morgoth/internal/analytics/anomaly"
	"github.com/soltixdb/morgoth/internal/queue"
)

// Sink receives evaluated live windows
type Sink interface {
	Write(ctx context.Context, w *anomaly.Window) error
}

// Func adapts a function to Sink
type Func func(ctx context.Context, w *anomaly.Window) error

// Write implements Sink
func (f Func) Write(ctx context.Context, w *anomaly.Window) error {
	return f(ctx, w)
}

// QueueSink publishes each window as JSON on <subject>.<metric>
type QueueSink struct {
	pub     queue.Publisher
	subject string
}

// NewQueueSink creates a sink publishing under subject
func NewQueueSink(pub queue.Publisher, subject string) *QueueSink {
	return &QueueSink{pub: pub, subject: subject}
}

// Subject returns the subject a window of metric is published on
func (s *QueueSink) Subject(metric string) string {
	return queue.MetricSubject(s.subject, metric)
}

// Write implements Sink
func (s *QueueSink) Write(ctx context.Context, w *anomaly.Window) error {
	if w == nil {
		return nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode window for %s: %w", w.Metric, err)
	}
	if err := s.pub.Publish(ctx, s.Subject(w.Metric), data); err != nil {
		return fmt.Errorf("failed to publish verdict for %s: %w", w.Metric, err)
	}
	return nil
}

// LatestStore keeps the most recent window per metric
type LatestStore struct {
	mu      sync.RWMutex
	windows map[string]anomaly.Window
}

// NewLatestStore creates an empty store
func NewLatestStore() *LatestStore {
	return &LatestStore{windows: make(map[string]anomaly.Window)}
}

// Write implements Sink. An older window never replaces a newer one.
func (s *LatestStore) Write(_ context.Context, w *anomaly.Window) error {
	if w == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.windows[w.Metric]; ok && w.Range.Start.Before(cur.Range.Start) {
		return nil
	}
	s.windows[w.Metric] = *w
	return nil
}

// Get returns a copy of the latest window of metric
func (s *LatestStore) Get(metric string) (*anomaly.Window, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[metric]
	if !ok {
		return nil, false
	}
	return &w, true
}

// List returns copies of all latest windows ordered by metric
func (s *LatestStore) List() []*anomaly.Window {
	s.mu.RLock()
	out := make([]*anomaly.Window, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, &w)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

// Delete forgets metric
func (s *LatestStore) Delete(metric string) {
	s.mu.Lock()
	delete(s.windows, metric)
	s.mu.Unlock()
}

// Len returns the number of metrics with a verdict
func (s *LatestStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

// Multi writes to every sink and joins their errors
type Multi []Sink

// Write implements Sink
func (m Multi) Write(ctx context.Context, w *anomaly.Window) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
