package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/soltixdb/morgoth/internal/logging"
)

// NATSConfig represents NATS JetStream configuration
type NATSConfig struct {
	URL          string
	Username     string
	Password     string
	StreamPrefix string        // Prefix of created stream and consumer names (default: "morgoth")
	AckWait      time.Duration // Redelivery delay for unacked messages (default: 30s)
	MaxDeliver   int           // Delivery attempts per message (default: 3)
}

// NATSQueue implements Queue using NATS JetStream. Streams are created on
// demand, one per subject root (the first two tokens), so
// morgoth.verdicts.cpu and morgoth.verdicts.mem share a stream.
type NATSQueue struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	cfg    NATSConfig
	logger *logging.Logger

	mu      sync.Mutex
	subs    map[string]*nats.Subscription
	streams map[string]string // subject root -> stream name
}

func newNATSQueue(cfg NATSConfig, logger *logging.Logger) (*NATSQueue, error) {
	opts := []nats.Option{nats.Name("morgoth")}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	q, err := newNATSQueueWithConn(conn, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func newNATSQueueWithConn(conn *nats.Conn, cfg NATSConfig, logger *logging.Logger) (*NATSQueue, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "morgoth"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 3
	}
	if logger == nil {
		logger = logging.Global()
	}

	return &NATSQueue{
		conn:    conn,
		js:      js,
		cfg:     cfg,
		logger:  logger,
		subs:    make(map[string]*nats.Subscription),
		streams: make(map[string]string),
	}, nil
}

// subjectRoot returns the first two tokens of subject, without wildcards
func subjectRoot(subject string) string {
	tokens := strings.Split(subject, ".")
	root := make([]string, 0, 2)
	for _, tok := range tokens {
		if tok == "*" || tok == ">" || len(root) == 2 {
			break
		}
		root = append(root, tok)
	}
	return strings.Join(root, ".")
}

// ensureStream makes sure a JetStream stream captures subject
func (q *NATSQueue) ensureStream(subject string) (string, error) {
	root := subjectRoot(subject)
	if root == "" {
		return "", fmt.Errorf("invalid subject %q", subject)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if name, ok := q.streams[root]; ok {
		return name, nil
	}

	name, err := q.js.StreamNameBySubject(root + ".>")
	if err == nil {
		q.streams[root] = name
		return name, nil
	}
	if !errors.Is(err, nats.ErrNoMatchingStream) {
		return "", fmt.Errorf("failed to look up stream for %s: %w", subject, err)
	}

	name = q.cfg.StreamPrefix + "-" + sanitizeName(root)
	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{root, root + ".>"},
		Storage:  nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return "", fmt.Errorf("failed to create stream %s: %w", name, err)
	}

	q.logger.Debug("JetStream stream ready", "stream", name, "root", root)
	q.streams[root] = name
	return name, nil
}

// Publish publishes a message and waits for the JetStream ack
func (q *NATSQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := q.ensureStream(subject); err != nil {
		return err
	}
	if _, err := q.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}
	return nil
}

// PublishBatch queues every message asynchronously and waits for the acks
func (q *NATSQueue) PublishBatch(ctx context.Context, messages []BatchMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	futures := make([]nats.PubAckFuture, 0, len(messages))
	for _, msg := range messages {
		if _, err := q.ensureStream(msg.Subject); err != nil {
			q.logger.Warn("Skipped batch message", "subject", msg.Subject, "error", err)
			continue
		}
		future, err := q.js.PublishAsync(msg.Subject, msg.Data)
		if err != nil {
			q.logger.Warn("Skipped batch message", "subject", msg.Subject, "error", err)
			continue
		}
		futures = append(futures, future)
	}

	select {
	case <-q.js.PublishAsyncComplete():
	case <-ctx.Done():
		return 0, fmt.Errorf("timeout waiting for batch publish: %w", ctx.Err())
	}

	acked := 0
	for _, future := range futures {
		select {
		case <-future.Ok():
			acked++
		case err := <-future.Err():
			q.logger.Warn("Batch message not acknowledged", "subject", future.Msg().Subject, "error", err)
		}
	}
	return acked, nil
}

// Subscribe attaches a durable consumer to subject. Messages are acked when
// handler succeeds and nak'ed for redelivery otherwise.
func (q *NATSQueue) Subscribe(subject string, handler MessageHandler) error {
	if _, err := q.ensureStream(subject); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.subs[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	durable := q.cfg.StreamPrefix + "-" + sanitizeName(subject)
	sub, err := q.js.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(msg.Data); err != nil {
			q.logger.Warn("Message handler failed", "subject", msg.Subject, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.MaxAckPending(100),
		nats.AckWait(q.cfg.AckWait),
		nats.MaxDeliver(q.cfg.MaxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	q.subs[subject] = sub
	return nil
}

// Unsubscribe unsubscribes from a subject
func (q *NATSQueue) Unsubscribe(subject string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	sub, exists := q.subs[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from subject %s: %w", subject, err)
	}
	delete(q.subs, subject)
	return nil
}

// Close drains subscriptions and closes the connection
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for subject, sub := range q.subs {
		if err := sub.Unsubscribe(); err != nil {
			q.logger.Warn("Failed to unsubscribe", "subject", subject, "error", err)
		}
		delete(q.subs, subject)
	}
	q.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection
func (q *NATSQueue) Conn() *nats.Conn {
	return q.conn
}

// sanitizeName keeps the characters allowed in stream and consumer names:
// A-Z, a-z, 0-9, dash and underscore
func sanitizeName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			out = append(out, c)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
