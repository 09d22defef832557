package config

import (
	"fmt"

	"github.com/soltixdb/morgoth/internal/analytics"
)

// WindowSpecs converts the configured training windows, keeping their order
func (c *DetectorConfig) WindowSpecs() []analytics.WindowSpec {
	specs := make([]analytics.WindowSpec, len(c.Windows))
	for i, w := range c.Windows {
		specs[i] = analytics.WindowSpec{Offset: w.Offset, Duration: w.Duration}
	}
	return specs
}

// EffectiveKind returns the detector kind, defaulting to mgof
func (c *DetectorConfig) EffectiveKind() string {
	if c.Kind == "" {
		return "mgof"
	}
	return c.Kind
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Logging.Level == "debug" && c.Logging.Format == "console"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Logging.Level == "info" && c.Logging.Format == "json"
}

// GetServerAddress returns the HTTP server bind address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}
