package config

import (
	"fmt"
	"regexp"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Reader    ReaderConfig    `mapstructure:"reader"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents the admin HTTP server configuration
type ServerConfig struct {
	Host     string `mapstructure:"host"`      // Bind address (e.g., 0.0.0.0 for all interfaces)
	HTTPPort int    `mapstructure:"http_port"` // HTTP server port
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`  // Enable/disable API key authentication
	APIKeys []string `mapstructure:"api_keys"` // List of valid API keys
}

// WindowConfig is one training window: offset back from the live window start, and its length
type WindowConfig struct {
	Offset   time.Duration `mapstructure:"offset"`
	Duration time.Duration `mapstructure:"duration"`
}

// DetectorConfig holds the anomaly detector parameters
type DetectorConfig struct {
	Kind     string         `mapstructure:"kind"` // mgof (default), threshold
	Windows  []WindowConfig `mapstructure:"windows"`
	Period   time.Duration  `mapstructure:"period"`   // Time between evaluation cycles
	Duration time.Duration  `mapstructure:"duration"` // Length of the live window

	// MGOF
	NBins          int     `mapstructure:"n_bins"`
	CountThreshold int     `mapstructure:"count_threshold"`
	Confidence     float64 `mapstructure:"confidence"`

	// Threshold
	Threshold  float64 `mapstructure:"threshold"`
	Percentile float64 `mapstructure:"percentile"`

	PatternStore PatternStoreConfig `mapstructure:"pattern_store"`
}

// PatternStoreConfig selects where MGOF keeps learned patterns between cycles
type PatternStoreConfig struct {
	Type        string        `mapstructure:"type"` // none (default, stateless), memory, redis
	RedisURL    string        `mapstructure:"redis_url"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	TTL         time.Duration `mapstructure:"ttl"`          // 0 keeps patterns forever
	MaxPatterns int           `mapstructure:"max_patterns"` // Per metric; lowest counts are evicted first, 0 is unlimited
}

// SchedulerConfig controls evaluation fan-out
type SchedulerConfig struct {
	MaxConcurrent      int           `mapstructure:"max_concurrent"`       // Worker goroutines
	QueueSize          int           `mapstructure:"queue_size"`           // Pending evaluations before drops
	EvaluationTimeout  time.Duration `mapstructure:"evaluation_timeout"`   // 0 disables
	EvaluateAfterClose bool          `mapstructure:"evaluate_after_close"` // Wait for the live window to close
}

// MetricsConfig lists the tracked metrics
type MetricsConfig struct {
	Static   []string          `mapstructure:"static"`
	Patterns []string          `mapstructure:"patterns"` // Regexps; ingested metrics that match are tracked automatically
	Etcd     EtcdMetricsConfig `mapstructure:"etcd"`
}

// EtcdMetricsConfig enables the etcd-backed metric registry
type EtcdMetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// ReaderConfig selects the sample reader
type ReaderConfig struct {
	Type          string        `mapstructure:"type"` // memory (default), redis
	RedisURL      string        `mapstructure:"redis_url"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	Retention     time.Duration `mapstructure:"retention"`      // memory reader retention
	IngestSubject string        `mapstructure:"ingest_subject"` // queue subject feeding the memory reader, empty disables
}

// SinkConfig controls verdict output
type SinkConfig struct {
	Publish bool   `mapstructure:"publish"` // Publish live windows on the queue
	Subject string `mapstructure:"subject"` // Subject prefix, metric is appended
}

// EtcdConfig represents etcd configuration
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// QueueConfig represents message queue configuration
type QueueConfig struct {
	Type     string `mapstructure:"type"`     // Queue type: nats, redis, kafka, memory (default)
	URL      string `mapstructure:"url"`      // Queue server URL (e.g., nats://localhost:4222, redis://localhost:6379)
	Username string `mapstructure:"username"` // Optional authentication
	Password string `mapstructure:"password"` // Optional authentication

	// Redis-specific options
	RedisDB       int    `mapstructure:"redis_db"`
	RedisStream   string `mapstructure:"redis_stream"`
	RedisGroup    string `mapstructure:"redis_group"`
	RedisConsumer string `mapstructure:"redis_consumer"`

	// Kafka-specific options
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaGroupID string   `mapstructure:"kafka_group_id"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, Kitchen
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("detector config: %w", err)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	if err := c.Reader.Validate(); err != nil {
		return fmt.Errorf("reader config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if c.Metrics.Etcd.Enabled {
		if err := c.Etcd.Validate(); err != nil {
			return fmt.Errorf("etcd config: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	return nil
}

// Validate validates detector configuration. The count_threshold vs window
// count relation is not checked here: it is a warning, raised by the detector.
func (c *DetectorConfig) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("detector.period must be positive")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("detector.duration must be positive")
	}

	switch c.Kind {
	case "", "mgof":
		if len(c.Windows) == 0 {
			return fmt.Errorf("detector.windows is required")
		}
		for i, w := range c.Windows {
			if w.Duration <= 0 {
				return fmt.Errorf("detector.windows[%d].duration must be positive", i)
			}
		}
		if c.NBins < 2 {
			return fmt.Errorf("detector.n_bins must be at least 2, got %d", c.NBins)
		}
		if c.CountThreshold < 0 {
			return fmt.Errorf("detector.count_threshold cannot be negative")
		}
		if c.Confidence <= 0 || c.Confidence >= 1 {
			return fmt.Errorf("detector.confidence must be in (0,1), got %v", c.Confidence)
		}
	case "threshold":
		if c.Percentile < 0 || c.Percentile > 100 {
			return fmt.Errorf("detector.percentile must be in [0,100], got %v", c.Percentile)
		}
	default:
		return fmt.Errorf("unknown detector.kind %q (supported: mgof, threshold)", c.Kind)
	}

	switch c.PatternStore.Type {
	case "", "none", "memory":
	case "redis":
		if c.PatternStore.RedisURL == "" {
			return fmt.Errorf("detector.pattern_store.redis_url is required for redis store")
		}
	default:
		return fmt.Errorf("unknown detector.pattern_store.type %q", c.PatternStore.Type)
	}
	if c.PatternStore.MaxPatterns < 0 {
		return fmt.Errorf("detector.pattern_store.max_patterns cannot be negative")
	}

	return nil
}

// Validate validates scheduler configuration
func (c *SchedulerConfig) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be at least 1")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("scheduler.queue_size must be at least 1")
	}
	if c.EvaluationTimeout < 0 {
		return fmt.Errorf("scheduler.evaluation_timeout cannot be negative")
	}
	return nil
}

// Validate validates reader configuration
func (c *ReaderConfig) Validate() error {
	switch c.Type {
	case "", "memory":
		if c.Retention <= 0 {
			return fmt.Errorf("reader.retention must be positive")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("reader.redis_url is required for redis reader")
		}
	default:
		return fmt.Errorf("unknown reader.type %q (supported: memory, redis)", c.Type)
	}
	return nil
}

// Validate checks that every metric pattern compiles
func (c *MetricsConfig) Validate() error {
	for _, p := range c.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("metrics.patterns: invalid pattern %q: %w", p, err)
		}
	}
	return nil
}

// Validate validates queue configuration
func (c *QueueConfig) Validate() error {
	switch c.Type {
	case "", "memory":
	case "nats", "redis":
		if c.URL == "" {
			return fmt.Errorf("queue.url is required for %s queue", c.Type)
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("queue.kafka_brokers is required for kafka queue")
		}
	default:
		return fmt.Errorf("unknown queue.type %q (supported: nats, redis, kafka, memory)", c.Type)
	}
	return nil
}

// Validate validates etcd configuration
func (c *EtcdConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("etcd.endpoints is required")
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("etcd.dial_timeout must be positive")
	}

	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
		"pretty":  true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be one of: json, console, pretty")
	}

	return nil
}
