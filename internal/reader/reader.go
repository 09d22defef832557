// Package reader implements the sample readers the detectors pull from and
// the queue ingestion that feeds them.
package reader

import (
	"context"
	"fmt"
	"time"

	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/logging"
)

// Writer stores samples for a metric
type Writer interface {
	Write(ctx context.Context, metric string, points analytics.TimeSeriesData) error
}

// Store is a sample reader that can also be written to
type Store interface {
	analytics.SampleReader
	Writer
	Delete(ctx context.Context, metric string) error
	Close() error
}

// New creates the store selected by cfg.Type
func New(cfg config.ReaderConfig, logger *logging.Logger) (Store, error) {
	if logger == nil {
		logger = logging.Global()
	}

	switch cfg.Type {
	case "", "memory":
		m := NewMemoryReader(cfg.Retention, logger)
		m.Start()
		return m, nil
	case "redis":
		return DialRedisReader(cfg.RedisURL, cfg.KeyPrefix, cfg.Retention)
	default:
		return nil, fmt.Errorf("unsupported reader type: %s (supported: memory, redis)", cfg.Type)
	}
}

// validRange rejects ranges whose end is not after start
func validRange(start, end time.Time) error {
	_, err := analytics.NewTimeRange(start, end)
	return err
}
