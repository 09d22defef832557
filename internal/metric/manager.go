// Package metric keeps the set of metrics the detector evaluates.
package metric

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/telemetry"
)

// ErrNotTracked is returned when removing a metric that is not tracked
var ErrNotTracked = errors.New("metric not tracked")

// EventType is the kind of change to the tracked set
type EventType string

const (
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
)

// Event is a change to the tracked set
type Event struct {
	Type   EventType
	Metric string
}

// Manager is the tracked metric set. Metrics can be added explicitly or
// observed from ingested data, in which case they must match one of the
// configured patterns (any metric when none are configured).
type Manager struct {
	mu       sync.RWMutex
	metrics  map[string]time.Time // metric -> tracked since
	patterns []*regexp.Regexp

	subsMu sync.Mutex
	subs   map[int]chan Event
	nextID int

	logger *logging.Logger
	tm     *telemetry.Metrics
}

// NewManager creates a manager. patterns are regular expressions filtering
// observed metrics.
func NewManager(patterns []string, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.Global()
	}

	m := &Manager{
		metrics: make(map[string]time.Time),
		subs:    make(map[int]chan Event),
		logger:  logger.With("component", "metrics"),
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid metric pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// SetTelemetry reports the tracked count to tm
func (m *Manager) SetTelemetry(tm *telemetry.Metrics) {
	m.mu.Lock()
	m.tm = tm
	n := len(m.metrics)
	m.mu.Unlock()
	tm.SetTracked(n)
}

// Add tracks metric. It returns false when it was already tracked.
func (m *Manager) Add(metric string) (bool, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return false, fmt.Errorf("metric name is required")
	}

	m.mu.Lock()
	if _, ok := m.metrics[metric]; ok {
		m.mu.Unlock()
		return false, nil
	}
	m.metrics[metric] = time.Now()
	n, tm := len(m.metrics), m.tm
	m.mu.Unlock()

	tm.SetTracked(n)
	m.logger.Info("Tracking new metric", "metric", metric)
	m.publish(Event{Type: EventAdded, Metric: metric})
	return true, nil
}

// Remove stops tracking metric
func (m *Manager) Remove(metric string) error {
	m.mu.Lock()
	if _, ok := m.metrics[metric]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotTracked, metric)
	}
	delete(m.metrics, metric)
	n, tm := len(m.metrics), m.tm
	m.mu.Unlock()

	tm.SetTracked(n)
	m.logger.Info("Stopped tracking metric", "metric", metric)
	m.publish(Event{Type: EventRemoved, Metric: metric})
	return nil
}

// Observe tracks metric if it is new and matches the patterns. It returns
// true when the metric is tracked after the call.
func (m *Manager) Observe(metric string) bool {
	if m.Has(metric) {
		return true
	}
	if !m.Matches(metric) {
		return false
	}
	if _, err := m.Add(metric); err != nil {
		return false
	}
	return true
}

// Matches reports whether metric passes the pattern filter
func (m *Manager) Matches(metric string) bool {
	if len(m.patterns) == 0 {
		return true
	}
	for _, re := range m.patterns {
		if re.MatchString(metric) {
			return true
		}
	}
	return false
}

// Has reports whether metric is tracked
func (m *Manager) Has(metric string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.metrics[metric]
	return ok
}

// List returns the tracked metrics, sorted
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.metrics))
	for metric := range m.metrics {
		out = append(out, metric)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked metrics
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.metrics)
}

// Since returns when metric started being tracked
func (m *Manager) Since(metric string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.metrics[metric]
	return t, ok
}

// Track adds metric, ignoring whether it was already tracked
func (m *Manager) Track(_ context.Context, metric string) error {
	_, err := m.Add(metric)
	return err
}

// Untrack removes metric
func (m *Manager) Untrack(_ context.Context, metric string) error {
	return m.Remove(metric)
}

// Subscribe returns a channel of changes to the tracked set and a function
// to unsubscribe. Events are dropped for a subscriber whose buffer is full.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(ev Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("Metric event subscriber full, dropping event",
				"metric", ev.Metric,
				"event", string(ev.Type))
		}
	}
}
