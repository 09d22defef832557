package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")            // Current directory
		v.AddConfigPath("./configs")    // Project configs directory
		v.AddConfigPath("./config")     // Alternative config directory
		v.AddConfigPath("/etc/morgoth") // System-wide config
	}

	// Set defaults
	setDefaults(v)

	// Enable environment variable overrides
	v.SetEnvPrefix("MORGOTH")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found; use defaults
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 5580)

	// Detector defaults
	v.SetDefault("detector.kind", "mgof")
	v.SetDefault("detector.period", "15m")
	v.SetDefault("detector.duration", "15m")
	v.SetDefault("detector.n_bins", 20)
	v.SetDefault("detector.count_threshold", 1)
	v.SetDefault("detector.confidence", 0.95)
	v.SetDefault("detector.percentile", 50.0)
	v.SetDefault("detector.pattern_store.type", "none")
	v.SetDefault("detector.pattern_store.key_prefix", "morgoth:patterns")
	v.SetDefault("detector.pattern_store.max_patterns", 100)

	// Scheduler defaults
	v.SetDefault("scheduler.max_concurrent", 16)
	v.SetDefault("scheduler.queue_size", 1024)
	v.SetDefault("scheduler.evaluation_timeout", "0s")
	v.SetDefault("scheduler.evaluate_after_close", false)

	// Metrics defaults
	v.SetDefault("metrics.etcd.enabled", false)
	v.SetDefault("metrics.etcd.prefix", "/morgoth/metrics")

	// Reader defaults
	v.SetDefault("reader.type", "memory")
	v.SetDefault("reader.key_prefix", "morgoth:samples")
	v.SetDefault("reader.retention", "168h")
	v.SetDefault("reader.ingest_subject", "morgoth.samples")

	// Sink defaults
	v.SetDefault("sink.publish", true)
	v.SetDefault("sink.subject", "morgoth.verdicts")

	// Etcd defaults
	v.SetDefault("etcd.endpoints", []string{"http://localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")

	// Queue defaults
	v.SetDefault("queue.type", "memory")
	v.SetDefault("queue.url", "nats://localhost:4222")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns default configuration. It carries a single daily
// training window so that it validates on its own.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			HTTPPort: 5580,
		},
		Detector: DetectorConfig{
			Kind: "mgof",
			Windows: []WindowConfig{
				{Offset: 24 * time.Hour, Duration: 15 * time.Minute},
			},
			Period:         15 * time.Minute,
			Duration:       15 * time.Minute,
			NBins:          20,
			CountThreshold: 1,
			Confidence:     0.95,
			Percentile:     50,
			PatternStore: PatternStoreConfig{
				Type:        "none",
				KeyPrefix:   "morgoth:patterns",
				MaxPatterns: 100,
			},
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: 16,
			QueueSize:     1024,
		},
		Metrics: MetricsConfig{
			Etcd: EtcdMetricsConfig{
				Prefix: "/morgoth/metrics",
			},
		},
		Reader: ReaderConfig{
			Type:          "memory",
			KeyPrefix:     "morgoth:samples",
			Retention:     7 * 24 * time.Hour,
			IngestSubject: "morgoth.samples",
		},
		Sink: SinkConfig{
			Publish: true,
			Subject: "morgoth.verdicts",
		},
		Etcd: EtcdConfig{
			Endpoints:   []string{"http://localhost:2379"},
			DialTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			Type: "memory",
			URL:  "nats://localhost:4222",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}
