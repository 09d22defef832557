package utils

import "time"

// =============================================================================
// HTTP Constants
// =============================================================================

const (
	// DefaultRequestTimeout bounds admin API handlers
	DefaultRequestTimeout = 30 * time.Second

	// EvaluateTimeout bounds an on-demand evaluation triggered over HTTP
	EvaluateTimeout = 60 * time.Second

	// ShutdownTimeout is how long the server waits for in-flight requests
	ShutdownTimeout = 10 * time.Second
)

// =============================================================================
// Scheduler Constants
// =============================================================================

const (
	// DefaultMaxConcurrent is the default number of evaluation workers
	DefaultMaxConcurrent = 16

	// DefaultDispatchQueueSize is the default number of pending evaluations
	DefaultDispatchQueueSize = 1024

	// DefaultEventBuffer is the capacity of metric event subscriptions
	DefaultEventBuffer = 256
)

// =============================================================================
// Sample Storage Constants
// =============================================================================

const (
	// DefaultSampleRetention keeps a week of samples, enough for weekly training windows
	DefaultSampleRetention = 7 * 24 * time.Hour

	// DefaultShardCount is the number of shards in the memory reader
	DefaultShardCount = 16

	// RetentionCleanupInterval is how often expired samples are removed
	RetentionCleanupInterval = 5 * time.Minute
)

// =============================================================================
// Queue Type Constants
// =============================================================================

// QueueType represents the type of message queue
type QueueType string

const (
	// QueueTypeNATS represents NATS JetStream queue
	QueueTypeNATS QueueType = "nats"

	// QueueTypeRedis represents Redis Streams queue
	QueueTypeRedis QueueType = "redis"

	// QueueTypeKafka represents Apache Kafka queue
	QueueTypeKafka QueueType = "kafka"

	// QueueTypeMemory represents the in-process queue (default)
	QueueTypeMemory QueueType = "memory"
)
