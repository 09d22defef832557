package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/morgoth/internal/logging"
)

func newTestMemoryQueue(t *testing.T) *MemoryQueue {
	t.Helper()
	q := newMemoryQueue(logging.NewNop())
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestMemoryQueue_PublishBuffersUntilSubscribed(t *testing.T) {
	q := newTestMemoryQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "morgoth.samples", []byte("one")))
	require.NoError(t, q.Publish(ctx, "morgoth.samples", []byte("two")))
	assert.Equal(t, 2, q.Pending("morgoth.samples"))
	assert.Equal(t, 0, q.Pending("other"))

	received := make(chan string, 2)
	require.NoError(t, q.Subscribe("morgoth.samples", func(data []byte) error {
		received <- string(data)
		return nil
	}))

	assert.Equal(t, "one", <-received)
	assert.Equal(t, "two", <-received)
}

func TestMemoryQueue_PublishCopiesData(t *testing.T) {
	q := newTestMemoryQueue(t)

	data := []byte("abc")
	require.NoError(t, q.Publish(context.Background(), "s", data))
	data[0] = 'x'

	received := make(chan string, 1)
	require.NoError(t, q.Subscribe("s", func(d []byte) error {
		received <- string(d)
		return nil
	}))
	assert.Equal(t, "abc", <-received)
}

func TestMemoryQueue_PublishCancelledContext(t *testing.T) {
	q := newTestMemoryQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, q.Publish(ctx, "s", []byte("x")), context.Canceled)
	assert.Equal(t, 0, q.Pending("s"))
}

func TestMemoryQueue_PublishFullChannel(t *testing.T) {
	q := newTestMemoryQueue(t)
	ctx := context.Background()

	for i := 0; i < memoryBuffer; i++ {
		require.NoError(t, q.Publish(ctx, "s", []byte{1}))
	}
	assert.Error(t, q.Publish(ctx, "s", []byte{1}))
}

func TestMemoryQueue_PublishBatch(t *testing.T) {
	q := newTestMemoryQueue(t)

	n, err := q.PublishBatch(context.Background(), []BatchMessage{
		{Subject: "a", Data: []byte("1")},
		{Subject: "b", Data: []byte("2")},
		{Subject: "a", Data: []byte("3")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, q.Pending("a"))
	assert.Equal(t, 1, q.Pending("b"))

	n, err = q.PublishBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryQueue_HandlerErrorDoesNotStopConsumer(t *testing.T) {
	q := newTestMemoryQueue(t)

	var calls atomic.Int32
	require.NoError(t, q.Subscribe("s", func([]byte) error {
		calls.Add(1)
		return errors.New("boom")
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Publish(context.Background(), "s", []byte{byte(i)}))
	}
	assert.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestMemoryQueue_DoubleSubscribe(t *testing.T) {
	q := newTestMemoryQueue(t)
	handler := func([]byte) error { return nil }

	require.NoError(t, q.Subscribe("s", handler))
	assert.Error(t, q.Subscribe("s", handler))
}

func TestMemoryQueue_UnsubscribeKeepsBuffer(t *testing.T) {
	q := newTestMemoryQueue(t)
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, q.Subscribe("s", func([]byte) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, q.Publish(ctx, "s", []byte("a")))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Unsubscribe("s"))
	assert.Error(t, q.Unsubscribe("s"))

	// consumer goroutine exits on the cancelled context; give it a moment
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Publish(ctx, "s", []byte("b")))
	assert.Equal(t, 1, q.Pending("s"))
	assert.Equal(t, int32(1), calls.Load())

	received := make(chan string, 1)
	require.NoError(t, q.Subscribe("s", func(d []byte) error {
		received <- string(d)
		return nil
	}))
	assert.Equal(t, "b", <-received)
}

func TestMemoryQueue_CloseRejectsUse(t *testing.T) {
	q := newMemoryQueue(logging.NewNop())
	require.NoError(t, q.Subscribe("s", func([]byte) error { return nil }))
	require.NoError(t, q.Close())

	assert.Error(t, q.Publish(context.Background(), "s", []byte("x")))
	assert.Error(t, q.Subscribe("t", func([]byte) error { return nil }))
}

func TestMemoryQueue_ConcurrentPublish(t *testing.T) {
	q := newTestMemoryQueue(t)

	var received atomic.Int32
	for i := 0; i < 4; i++ {
		subject := fmt.Sprintf("s.%d", i)
		require.NoError(t, q.Subscribe(subject, func([]byte) error {
			received.Add(1)
			return nil
		}))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = q.Publish(context.Background(), fmt.Sprintf("s.%d", i), []byte{byte(j)})
			}
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return received.Load() == 400 }, 2*time.Second, 5*time.Millisecond)
}
