package queue

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/morgoth/internal/logging"
)

func TestNewKafkaQueue_Defaults(t *testing.T) {
	q, err := newKafkaQueue(KafkaConfig{Brokers: []string{"localhost:9092"}}, logging.NewNop())
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	assert.Equal(t, "morgoth-detector", q.cfg.GroupID)
	assert.Equal(t, 100, q.cfg.BatchSize)
	assert.Equal(t, 3, q.cfg.CommitRetries)

	// writers are created lazily and cached per topic
	assert.Same(t, q.writer("a"), q.writer("a"))
	assert.Zero(t, q.WriterStats("missing").Writes)
}

func TestNewKafkaQueue_NoBrokers(t *testing.T) {
	_, err := newKafkaQueue(KafkaConfig{}, logging.NewNop())
	assert.Error(t, err)
}

func TestKafkaQueue_PublishSubscribe(t *testing.T) {
	if os.Getenv("KAFKA_TEST") != "1" {
		t.Skip("set KAFKA_TEST=1 to run against a broker")
	}
	brokers := []string{"localhost:9092"}
	if env := os.Getenv("KAFKA_BROKERS"); env != "" {
		brokers = strings.Split(env, ",")
	}

	q, err := newKafkaQueue(KafkaConfig{Brokers: brokers, GroupID: "morgoth-test-" + uuid.NewString()}, logging.NewNop())
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	topic := "morgoth-test-" + uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, q.Publish(ctx, topic, []byte("hello")))

	received := make(chan string, 1)
	require.NoError(t, q.Subscribe(topic, func(data []byte) error {
		received <- string(data)
		return nil
	}))

	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}
