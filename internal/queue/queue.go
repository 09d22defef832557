// Package queue carries samples in and verdicts out over a message broker:
// NATS JetStream, Redis Streams, Kafka, or an in-process memory queue.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Publisher publishes messages to a queue
type Publisher interface {
	// Publish publishes a message to a subject/topic
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishBatch publishes several messages and returns how many were accepted
	PublishBatch(ctx context.Context, messages []BatchMessage) (int, error)

	// Close closes the connection
	Close() error
}

// BatchMessage represents a message for batch publishing
type BatchMessage struct {
	Subject string
	Data    []byte
}

// Subscriber subscribes to messages from a queue
type Subscriber interface {
	// Subscribe delivers every message on subject to handler. A handler
	// error leaves the message unacknowledged where the broker supports it.
	Subscribe(subject string, handler MessageHandler) error

	// Unsubscribe unsubscribes from a subject/topic
	Unsubscribe(subject string) error

	// Close closes the connection
	Close() error
}

// MessageHandler handles incoming messages
type MessageHandler func(data []byte) error

// Queue combines Publisher and Subscriber interfaces
type Queue interface {
	Publisher
	Subscriber
}

// MetricSubject returns the per-metric subject under prefix, e.g.
// morgoth.verdicts.cpu_user for metric "cpu user". Characters that are not
// valid in subject tokens are replaced with underscores; dots are kept.
func MetricSubject(prefix, metric string) string {
	var b strings.Builder
	b.Grow(len(metric))
	for _, r := range metric {
		switch {
		case r == '.' || r == '-' || r == '_' || r == ':':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	token := strings.Trim(b.String(), ".")
	if token == "" {
		token = "_"
	}
	if prefix == "" {
		return token
	}
	return prefix + "." + token
}

// subscriptions tracks the cancel func of every active subscription
type subscriptions struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func newSubscriptions() *subscriptions {
	return &subscriptions{active: make(map[string]context.CancelFunc)}
}

// add registers subject and returns the context its consumer runs under
func (s *subscriptions) add(subject string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[subject]; exists {
		return nil, fmt.Errorf("already subscribed to subject: %s", subject)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.active[subject] = cancel
	return ctx, nil
}

// remove cancels the consumer of subject
func (s *subscriptions) remove(subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, exists := s.active[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	cancel()
	delete(s.active, subject)
	return nil
}

// has reports whether subject is subscribed
func (s *subscriptions) has(subject string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[subject]
	return ok
}

// closeAll cancels every consumer and returns the subjects that were active
func (s *subscriptions) closeAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	subjects := make([]string, 0, len(s.active))
	for subject, cancel := range s.active {
		cancel()
		subjects = append(subjects, subject)
	}
	s.active = make(map[string]context.CancelFunc)
	return subjects
}
