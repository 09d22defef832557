package queue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/morgoth/internal/logging"
)

func redisURL() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return url
	}
	return "redis://localhost:6379"
}

// newTestRedisQueue connects to a local Redis or skips the test
func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	stream := "morgoth-test-" + uuid.NewString()
	q, err := newRedisQueue(RedisConfig{URL: redisURL(), Stream: stream}, logging.NewNop())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := q.client.Keys(ctx, stream+":*").Result()
		if len(keys) > 0 {
			q.client.Del(ctx, keys...)
		}
		_ = q.Close()
	})
	return q
}

func TestRedisQueue_PublishSubscribe(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "morgoth.verdicts.cpu", []byte("hello")))

	received := make(chan string, 1)
	require.NoError(t, q.Subscribe("morgoth.verdicts.cpu", func(data []byte) error {
		received <- string(data)
		return nil
	}))

	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRedisQueue_PublishBatch(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	msgs := make([]BatchMessage, 5)
	for i := range msgs {
		msgs[i] = BatchMessage{Subject: "batch", Data: []byte(fmt.Sprint(i))}
	}
	n, err := q.PublishBatch(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	length, err := q.client.XLen(ctx, q.streamName("batch")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(5), length)
}

func TestRedisQueue_DoubleSubscribe(t *testing.T) {
	q := newTestRedisQueue(t)
	handler := func([]byte) error { return nil }

	require.NoError(t, q.Subscribe("s", handler))
	assert.Error(t, q.Subscribe("s", handler))
	require.NoError(t, q.Unsubscribe("s"))
	assert.Error(t, q.Unsubscribe("s"))
}

func TestNewRedisQueue_Unreachable(t *testing.T) {
	_, err := newRedisQueue(RedisConfig{URL: "redis://127.0.0.1:1"}, logging.NewNop())
	assert.Error(t, err)
}
