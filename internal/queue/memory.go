package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/soltixdb/morgoth/internal/logging"
)

// memoryBuffer is the per-subject channel capacity
const memoryBuffer = 10000

// MemoryQueue implements Queue with in-process channels, one per subject.
// Messages published before a subscriber exists are buffered.
type MemoryQueue struct {
	mu       sync.Mutex
	channels map[string]chan []byte
	subs     *subscriptions
	wg       sync.WaitGroup
	logger   *logging.Logger
	closed   bool
}

func newMemoryQueue(logger *logging.Logger) *MemoryQueue {
	if logger == nil {
		logger = logging.Global()
	}
	return &MemoryQueue{
		channels: make(map[string]chan []byte),
		subs:     newSubscriptions(),
		logger:   logger,
	}
}

func (q *MemoryQueue) channel(subject string) (chan []byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("memory queue closed")
	}
	ch, ok := q.channels[subject]
	if !ok {
		ch = make(chan []byte, memoryBuffer)
		q.channels[subject] = ch
	}
	return ch, nil
}

// Publish copies data onto the subject channel without blocking
func (q *MemoryQueue) Publish(ctx context.Context, subject string, data []byte) error {
	ch, err := q.channel(subject)
	if err != nil {
		return err
	}

	msg := make([]byte, len(data))
	copy(msg, data)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("channel full for subject: %s", subject)
	}
}

// PublishBatch publishes messages one by one, skipping failures
func (q *MemoryQueue) PublishBatch(ctx context.Context, messages []BatchMessage) (int, error) {
	n := 0
	for _, msg := range messages {
		if err := q.Publish(ctx, msg.Subject, msg.Data); err != nil {
			q.logger.Warn("Dropped batch message", "subject", msg.Subject, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Subscribe consumes subject on a goroutine until Unsubscribe or Close
func (q *MemoryQueue) Subscribe(subject string, handler MessageHandler) error {
	ch, err := q.channel(subject)
	if err != nil {
		return err
	}
	ctx, err := q.subs.add(subject)
	if err != nil {
		return err
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(data); err != nil {
					q.logger.Warn("Message handler failed", "subject", subject, "error", err)
				}
			}
		}
	}()
	return nil
}

// Unsubscribe stops the consumer of subject; buffered messages are kept
func (q *MemoryQueue) Unsubscribe(subject string) error {
	return q.subs.remove(subject)
}

// Close stops all consumers and drops buffered messages
func (q *MemoryQueue) Close() error {
	q.subs.closeAll()
	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.channels = make(map[string]chan []byte)
	return nil
}

// Pending returns the number of buffered messages on subject
func (q *MemoryQueue) Pending(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ch, ok := q.channels[subject]; ok {
		return len(ch)
	}
	return 0
}
