package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/logging"
)

// Verdict is the outcome of classifying one window
type Verdict string

const (
	VerdictUnclassified Verdict = "unclassified" // Skipped, not enough data
	VerdictNormal       Verdict = "normal"
	VerdictAnomalous    Verdict = "anomalous"
)

// ErrUnknownKind is returned by New for an unregistered detector kind
var ErrUnknownKind = errors.New("unknown detector kind")

// Window is one evaluated time window of a metric. Training windows are part
// of the baseline; the live window is the unit of output.
type Window struct {
	ID           string              `json:"id"`
	Metric       string              `json:"metric"`
	Range        analytics.TimeRange `json:"range"`
	Training     bool                `json:"training"`
	SampleCount  int                 `json:"sample_count"`
	Distribution []float64           `json:"distribution,omitempty"`
	Verdict      Verdict             `json:"verdict"`

	// Set when the window joined an existing pattern
	Matched         bool    `json:"matched"`
	PatternIndex    int     `json:"pattern_index"` // -1 when unclassified
	RelativeEntropy float64 `json:"relative_entropy"`

	EvaluatedAt time.Time `json:"evaluated_at"`
	Detector    string    `json:"detector"`
}

// Anomalous reports whether the window was classified anomalous
func (w *Window) Anomalous() bool {
	return w != nil && w.Verdict == VerdictAnomalous
}

// Classified reports whether a verdict was reached
func (w *Window) Classified() bool {
	return w != nil && w.Verdict != VerdictUnclassified && w.Verdict != ""
}

// Detector classifies the live window of a metric
type Detector interface {
	// Name returns the detector kind
	Name() string

	// Evaluate classifies [start, end) for metric and returns the live window.
	// Reader failures are returned unchanged in the error chain.
	Evaluate(ctx context.Context, metric string, start, end time.Time) (*Window, error)
}

// Tracer is implemented by detectors that can report every window they
// analysed in one evaluation. The live window is always last.
type Tracer interface {
	EvaluateAll(ctx context.Context, metric string, start, end time.Time) ([]*Window, error)
}

// Forgetter is implemented by detectors that keep state per metric
type Forgetter interface {
	Forget(ctx context.Context, metric string) error
}

// Deps are the collaborators handed to detector factories
type Deps struct {
	Reader analytics.SampleReader
	Logger *logging.Logger
}

// Factory builds a detector from its configuration
type Factory func(cfg config.DetectorConfig, deps Deps) (Detector, error)

// Registry holds available detector kinds
var factories = make(map[string]Factory)

// Register adds a detector kind to the registry
func Register(kind string, factory Factory) {
	factories[kind] = factory
}

// New builds the detector selected by cfg.Kind (mgof when empty)
func New(cfg config.DetectorConfig, deps Deps) (Detector, error) {
	if deps.Reader == nil {
		return nil, fmt.Errorf("detector requires a sample reader")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Global()
	}

	kind := cfg.EffectiveKind()
	factory, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return factory(cfg, deps)
}

// Kinds returns the registered detector kinds, sorted
func Kinds() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
