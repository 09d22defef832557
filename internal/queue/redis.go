package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soltixdb/morgoth/internal/logging"
)

// RedisConfig represents Redis Streams configuration
type RedisConfig struct {
	URL      string // redis://host:port/db, or a bare host:port
	Password string
	DB       int
	Stream   string // Stream key prefix (default: "morgoth")
	Group    string // Consumer group (default: "morgoth-detector")
	Consumer string // Consumer name (default: hostname)
	MaxLen   int64  // Approximate stream cap, 0 disables trimming
}

// RedisQueue implements Queue using Redis Streams with consumer groups.
// Each subject maps to the stream "<Stream>:<subject>".
type RedisQueue struct {
	client *redis.Client
	cfg    RedisConfig
	subs   *subscriptions
	wg     sync.WaitGroup
	logger *logging.Logger
}

func newRedisQueue(cfg RedisConfig, logger *logging.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if cfg.Stream == "" {
		cfg.Stream = "morgoth"
	}
	if cfg.Group == "" {
		cfg.Group = "morgoth-detector"
	}
	if cfg.Consumer == "" {
		cfg.Consumer, _ = os.Hostname()
		if cfg.Consumer == "" {
			cfg.Consumer = "detector-1"
		}
	}
	if logger == nil {
		logger = logging.Global()
	}

	return &RedisQueue{
		client: client,
		cfg:    cfg,
		subs:   newSubscriptions(),
		logger: logger,
	}, nil
}

func (q *RedisQueue) streamName(subject string) string {
	return q.cfg.Stream + ":" + subject
}

func (q *RedisQueue) addArgs(subject string, data []byte) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: q.streamName(subject),
		ID:     "*",
		Values: map[string]interface{}{"data": data},
	}
	if q.cfg.MaxLen > 0 {
		args.MaxLen = q.cfg.MaxLen
		args.Approx = true
	}
	return args
}

// Publish appends a message to the subject stream
func (q *RedisQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := q.client.XAdd(ctx, q.addArgs(subject, data)).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis stream %s: %w", q.streamName(subject), err)
	}
	return nil
}

// PublishBatch appends all messages in one pipeline
func (q *RedisQueue) PublishBatch(ctx context.Context, messages []BatchMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	pipe := q.client.Pipeline()
	for _, msg := range messages {
		pipe.XAdd(ctx, q.addArgs(msg.Subject, msg.Data))
	}

	cmds, err := pipe.Exec(ctx)
	if err != nil && len(cmds) == 0 {
		return 0, fmt.Errorf("failed to execute batch publish: %w", err)
	}

	n := 0
	for _, cmd := range cmds {
		if cmd.Err() == nil {
			n++
		}
	}
	return n, nil
}

// Subscribe reads the subject stream through the consumer group
func (q *RedisQueue) Subscribe(subject string, handler MessageHandler) error {
	stream := q.streamName(subject)

	err := q.client.XGroupCreateMkStream(context.Background(), stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	ctx, err := q.subs.add(subject)
	if err != nil {
		return err
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.readStream(ctx, stream, handler)
	}()
	return nil
}

func (q *RedisQueue) readStream(ctx context.Context, stream string, handler MessageHandler) {
	for ctx.Err() == nil {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{stream, ">"},
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.logger.Warn("Failed to read stream", "stream", stream, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					q.logger.Warn("Dropped malformed stream entry", "stream", stream, "id", msg.ID)
					q.client.XAck(ctx, stream, q.cfg.Group, msg.ID)
					continue
				}
				if err := handler([]byte(data)); err != nil {
					// left pending for redelivery
					q.logger.Warn("Message handler failed", "stream", stream, "id", msg.ID, "error", err)
					continue
				}
				q.client.XAck(ctx, stream, q.cfg.Group, msg.ID)
			}
		}
	}
}

// Unsubscribe stops reading the subject stream
func (q *RedisQueue) Unsubscribe(subject string) error {
	return q.subs.remove(subject)
}

// Close stops all readers and closes the client
func (q *RedisQueue) Close() error {
	q.subs.closeAll()
	q.wg.Wait()
	return q.client.Close()
}
