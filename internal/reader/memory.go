package reader

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/utils"
)

type sample struct {
	at    int64 // unix nanos
	value float64
}

// series is a time-ordered sample slice. Not safe for concurrent use; the
// owning shard lock protects it.
type series struct {
	samples []sample
}

// add inserts s in time order; a sample at an existing timestamp replaces it
func (sr *series) add(s sample) {
	n := len(sr.samples)
	if n == 0 || s.at > sr.samples[n-1].at {
		sr.samples = append(sr.samples, s)
		return
	}

	idx := sort.Search(n, func(i int) bool { return sr.samples[i].at >= s.at })
	if idx < n && sr.samples[idx].at == s.at {
		sr.samples[idx] = s
		return
	}
	sr.samples = append(sr.samples, sample{})
	copy(sr.samples[idx+1:], sr.samples[idx:])
	sr.samples[idx] = s
}

// between returns values with from <= at < to
func (sr *series) between(from, to int64) []float64 {
	lo := sort.Search(len(sr.samples), func(i int) bool { return sr.samples[i].at >= from })
	hi := sort.Search(len(sr.samples), func(i int) bool { return sr.samples[i].at >= to })
	out := make([]float64, 0, hi-lo)
	for _, s := range sr.samples[lo:hi] {
		out = append(out, s.value)
	}
	return out
}

// expire drops samples older than cutoff and returns how many were removed
func (sr *series) expire(cutoff int64) int {
	idx := sort.Search(len(sr.samples), func(i int) bool { return sr.samples[i].at >= cutoff })
	if idx == 0 {
		return 0
	}
	sr.samples = append(sr.samples[:0:0], sr.samples[idx:]...)
	return idx
}

type shard struct {
	mu     sync.RWMutex
	series map[string]*series
}

// MemoryReader keeps recent samples in memory, partitioned across shards by
// FNV hash of the metric name. Samples older than the retention are removed
// by a background loop.
type MemoryReader struct {
	shards    [utils.DefaultShardCount]shard
	retention time.Duration
	logger    *logging.Logger
	now       func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}
}

// NewMemoryReader creates a reader; call Start to run retention cleanup
func NewMemoryReader(retention time.Duration, logger *logging.Logger) *MemoryReader {
	if retention <= 0 {
		retention = utils.DefaultSampleRetention
	}
	if logger == nil {
		logger = logging.Global()
	}
	m := &MemoryReader{
		retention: retention,
		logger:    logger.With("component", "memory_reader"),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i].series = make(map[string]*series)
	}
	return m
}

func (m *MemoryReader) shardFor(metric string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(metric))
	return &m.shards[h.Sum32()%utils.DefaultShardCount]
}

// Write stores points for metric. Non-finite values are dropped.
func (m *MemoryReader) Write(_ context.Context, metric string, points analytics.TimeSeriesData) error {
	if len(points) == 0 {
		return nil
	}
	s := m.shardFor(metric)

	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[metric]
	if !ok {
		sr = &series{samples: make([]sample, 0, len(points))}
		s.series[metric] = sr
	}
	for _, p := range points {
		if !utils.IsFinite(p.Value) {
			continue
		}
		sr.add(sample{at: p.Time.UnixNano(), value: p.Value})
	}
	return nil
}

// GetSamples returns the values of metric in [start, end), oldest first.
// An unknown metric or an empty range yields an empty slice.
func (m *MemoryReader) GetSamples(_ context.Context, metric string, start, end time.Time) ([]float64, error) {
	if err := validRange(start, end); err != nil {
		return nil, err
	}
	s := m.shardFor(metric)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[metric]
	if !ok {
		return []float64{}, nil
	}
	return sr.between(start.UnixNano(), end.UnixNano()), nil
}

// Delete drops every sample of metric
func (m *MemoryReader) Delete(_ context.Context, metric string) error {
	s := m.shardFor(metric)
	s.mu.Lock()
	delete(s.series, metric)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored samples for metric
func (m *MemoryReader) Len(metric string) int {
	s := m.shardFor(metric)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sr, ok := s.series[metric]; ok {
		return len(sr.samples)
	}
	return 0
}

// Metrics returns the names of all stored metrics, sorted
func (m *MemoryReader) Metrics() []string {
	var names []string
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for name := range s.series {
			names = append(names, name)
		}
		s.mu.RUnlock()
	}
	sort.Strings(names)
	return names
}

// Start runs the retention cleanup loop
func (m *MemoryReader) Start() {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.cleanupLoop()
	})
}

// Close stops the cleanup loop
func (m *MemoryReader) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	if m.started.Load() {
		<-m.done
	}
	return nil
}

func (m *MemoryReader) cleanupLoop() {
	defer close(m.done)

	ticker := time.NewTicker(utils.RetentionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// Cleanup removes samples older than the retention and returns the count
func (m *MemoryReader) Cleanup() int {
	cutoff := m.now().Add(-m.retention).UnixNano()
	removed := 0

	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for name, sr := range s.series {
			removed += sr.expire(cutoff)
			if len(sr.samples) == 0 {
				delete(s.series, name)
			}
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		m.logger.Debug("Expired samples", "removed", removed, "retention", m.retention)
	}
	return removed
}
