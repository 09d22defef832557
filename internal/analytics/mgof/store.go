package mgof

import (
	"context"
	"sync"
)

// PatternStore keeps learned patterns across evaluation cycles. Without a
// store every cycle rebuilds its patterns from the training windows.
type PatternStore interface {
	// Load returns the patterns of metric, or an empty registry
	Load(ctx context.Context, metric string) (Registry, error)
	// Save replaces the patterns of metric
	Save(ctx context.Context, metric string, reg Registry) error
	// Delete forgets metric
	Delete(ctx context.Context, metric string) error
}

// MemoryPatternStore is a process-local PatternStore
type MemoryPatternStore struct {
	mu       sync.RWMutex
	patterns map[string]Registry
}

// NewMemoryPatternStore creates an empty in-memory store
func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{patterns: make(map[string]Registry)}
}

// Load implements PatternStore
func (s *MemoryPatternStore) Load(_ context.Context, metric string) (Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patterns[metric], nil
}

// Save implements PatternStore
func (s *MemoryPatternStore) Save(_ context.Context, metric string, reg Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[metric] = reg
	return nil
}

// Delete implements PatternStore
func (s *MemoryPatternStore) Delete(_ context.Context, metric string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patterns, metric)
	return nil
}

// metricLocks serializes access to stored patterns per metric
type metricLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *metricLocks) lock(metric string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[metric]
	if !ok {
		m = &sync.Mutex{}
		l.locks[metric] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
