package mgof

import (
	"errors"
	"fmt"
	"time"

	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/config"
)

// ErrInvalidConfig is returned when a detector cannot be built from its config
var ErrInvalidConfig = errors.New("invalid mgof config")

// Config holds the MGOF detector parameters
type Config struct {
	Windows        []analytics.WindowSpec
	Period         time.Duration
	Duration       time.Duration
	NBins          int
	CountThreshold int
	Confidence     float64
	MaxPatterns    int // stored patterns kept per metric, 0 is unlimited
}

// DefaultConfig returns the default parameters without training windows
func DefaultConfig() Config {
	return Config{
		Period:         15 * time.Minute,
		Duration:       15 * time.Minute,
		NBins:          20,
		CountThreshold: 1,
		Confidence:     0.95,
	}
}

// ConfigFrom converts the service detector configuration
func ConfigFrom(cfg config.DetectorConfig) Config {
	return Config{
		Windows:        cfg.WindowSpecs(),
		Period:         cfg.Period,
		Duration:       cfg.Duration,
		NBins:          cfg.NBins,
		CountThreshold: cfg.CountThreshold,
		Confidence:     cfg.Confidence,
		MaxPatterns:    cfg.PatternStore.MaxPatterns,
	}
}

// Validate checks the parameters
func (c Config) Validate() error {
	if len(c.Windows) == 0 {
		return fmt.Errorf("%w: at least one training window is required", ErrInvalidConfig)
	}
	for i, w := range c.Windows {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("%w: windows[%d]: %v", ErrInvalidConfig, i, err)
		}
	}
	if c.Period <= 0 {
		return fmt.Errorf("%w: period must be positive", ErrInvalidConfig)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidConfig)
	}
	if c.NBins < 2 {
		return fmt.Errorf("%w: n_bins must be at least 2, got %d", ErrInvalidConfig, c.NBins)
	}
	if c.CountThreshold < 0 {
		return fmt.Errorf("%w: count_threshold cannot be negative", ErrInvalidConfig)
	}
	if c.Confidence <= 0 || c.Confidence >= 1 {
		return fmt.Errorf("%w: confidence must be in (0,1), got %v", ErrInvalidConfig, c.Confidence)
	}
	if c.MaxPatterns < 0 {
		return fmt.Errorf("%w: max_patterns cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Degenerate reports whether no training window can ever become an
// established pattern: len(windows) <= count_threshold.
func (c Config) Degenerate() bool {
	return len(c.Windows) <= c.CountThreshold
}
