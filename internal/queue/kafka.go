package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/soltixdb/morgoth/internal/logging"
)

// KafkaConfig represents Apache Kafka configuration
type KafkaConfig struct {
	Brokers       []string
	GroupID       string        // Consumer group (default: "morgoth-detector")
	BatchSize     int           // Producer batch size (default: 100)
	BatchTimeout  time.Duration // Producer batch timeout (default: 10ms)
	MaxAttempts   int           // Producer attempts per message (default: 3)
	CommitRetries int           // Consumer commit attempts (default: 3)
	RetryBackoff  time.Duration // Backoff between commit attempts (default: 100ms)
}

// KafkaQueue implements Queue using Kafka. A subject is used as the topic
// name; topics are created by the broker on first write when it allows it.
type KafkaQueue struct {
	cfg    KafkaConfig
	logger *logging.Logger
	subs   *subscriptions
	wg     sync.WaitGroup

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func newKafkaQueue(cfg KafkaConfig, logger *logging.Logger) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "morgoth-detector"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.CommitRetries == 0 {
		cfg.CommitRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Global()
	}

	return &KafkaQueue{
		cfg:     cfg,
		logger:  logger,
		subs:    newSubscriptions(),
		writers: make(map[string]*kafka.Writer),
	}, nil
}

func (q *KafkaQueue) writer(topic string) *kafka.Writer {
	q.mu.Lock()
	defer q.mu.Unlock()

	if w, ok := q.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(q.cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              q.cfg.BatchSize,
		BatchTimeout:           q.cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            q.cfg.MaxAttempts,
		AllowAutoTopicCreation: true,
	}
	q.writers[topic] = w
	return w
}

// Publish writes a message to the subject topic
func (q *KafkaQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := q.writer(subject).WriteMessages(ctx, kafka.Message{Value: data}); err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", subject, err)
	}
	return nil
}

// PublishBatch groups messages per topic and writes each group at once
func (q *KafkaQueue) PublishBatch(ctx context.Context, messages []BatchMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	byTopic := make(map[string][]kafka.Message)
	for _, msg := range messages {
		byTopic[msg.Subject] = append(byTopic[msg.Subject], kafka.Message{Value: msg.Data})
	}

	n := 0
	var errs []error
	for topic, msgs := range byTopic {
		if err := q.writer(topic).WriteMessages(ctx, msgs...); err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", topic, err))
			continue
		}
		n += len(msgs)
	}

	if n == 0 && len(errs) > 0 {
		return 0, fmt.Errorf("failed to publish batch: %w", errors.Join(errs...))
	}
	return n, nil
}

// Subscribe consumes the subject topic with the configured group. Offsets
// are committed only after handler succeeds.
func (q *KafkaQueue) Subscribe(subject string, handler MessageHandler) error {
	ctx, err := q.subs.add(subject)
	if err != nil {
		return err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.cfg.Brokers,
		GroupID:  q.cfg.GroupID,
		Topic:    subject,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() { _ = reader.Close() }()
		q.consume(ctx, reader, handler)
	}()
	return nil
}

func (q *KafkaQueue) consume(ctx context.Context, reader *kafka.Reader, handler MessageHandler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Warn("Failed to fetch message", "topic", reader.Config().Topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.cfg.RetryBackoff):
			}
			continue
		}

		if err := handler(msg.Value); err != nil {
			q.logger.Warn("Message handler failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
			continue
		}

		for i := 0; i < q.cfg.CommitRetries; i++ {
			if err = reader.CommitMessages(ctx, msg); err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			time.Sleep(q.cfg.RetryBackoff)
		}
		if err != nil {
			q.logger.Error("Failed to commit offset", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// Unsubscribe stops consuming the subject topic
func (q *KafkaQueue) Unsubscribe(subject string) error {
	return q.subs.remove(subject)
}

// Close stops consumers and flushes writers
func (q *KafkaQueue) Close() error {
	q.subs.closeAll()
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()

	var errs []error
	for topic, w := range q.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(q.writers, topic)
	}
	return errors.Join(errs...)
}

// WriterStats returns producer stats for a topic
func (q *KafkaQueue) WriterStats(topic string) kafka.WriterStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	if w, ok := q.writers[topic]; ok {
		return w.Stats()
	}
	return kafka.WriterStats{}
}
