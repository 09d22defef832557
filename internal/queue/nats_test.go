package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/morgoth/internal/logging"
)

// startNATS runs an embedded JetStream server for the test
func startNATS(t *testing.T) string {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func newTestNATSQueue(t *testing.T) *NATSQueue {
	t.Helper()
	q, err := newNATSQueue(NATSConfig{URL: startNATS(t)}, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestNATSQueue_InvalidURL(t *testing.T) {
	_, err := newNATSQueue(NATSConfig{URL: "nats://127.0.0.1:1"}, logging.NewNop())
	assert.Error(t, err)
}

func TestNATSQueue_PublishThenSubscribe(t *testing.T) {
	q := newTestNATSQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "morgoth.verdicts.cpu", []byte("first")))

	received := make(chan string, 2)
	require.NoError(t, q.Subscribe("morgoth.verdicts.cpu", func(data []byte) error {
		received <- string(data)
		return nil
	}))
	require.NoError(t, q.Publish(ctx, "morgoth.verdicts.cpu", []byte("second")))

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestNATSQueue_SubjectsShareRootStream(t *testing.T) {
	q := newTestNATSQueue(t)

	n, err := q.PublishBatch(context.Background(), []BatchMessage{
		{Subject: "morgoth.verdicts.cpu", Data: []byte("1")},
		{Subject: "morgoth.verdicts.mem", Data: []byte("2")},
		{Subject: "morgoth.verdicts.mem", Data: []byte("3")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	info, err := q.js.StreamInfo("morgoth-morgoth_verdicts")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.State.Msgs)
	assert.ElementsMatch(t, []string{"morgoth.verdicts", "morgoth.verdicts.>"}, info.Config.Subjects)
}

func TestNATSQueue_ReusesExistingStream(t *testing.T) {
	q := newTestNATSQueue(t)

	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:     "external",
		Subjects: []string{"morgoth.samples.>"},
	})
	require.NoError(t, err)

	name, err := q.ensureStream("morgoth.samples.cpu")
	require.NoError(t, err)
	assert.Equal(t, "external", name)
}

func TestNATSQueue_HandlerErrorRedelivers(t *testing.T) {
	q := newTestNATSQueue(t)

	var attempts atomic.Int32
	done := make(chan struct{})
	require.NoError(t, q.Subscribe("morgoth.samples", func([]byte) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}))
	require.NoError(t, q.Publish(context.Background(), "morgoth.samples", []byte("x")))

	select {
	case <-done:
		assert.Equal(t, int32(2), attempts.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("message was not redelivered")
	}
}

func TestNATSQueue_SubscribeTwice(t *testing.T) {
	q := newTestNATSQueue(t)
	handler := func([]byte) error { return nil }

	require.NoError(t, q.Subscribe("morgoth.samples", handler))
	assert.Error(t, q.Subscribe("morgoth.samples", handler))

	require.NoError(t, q.Unsubscribe("morgoth.samples"))
	assert.Error(t, q.Unsubscribe("morgoth.samples"))
}

func TestNATSQueue_EmptyBatch(t *testing.T) {
	q := newTestNATSQueue(t)
	n, err := q.PublishBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NotNil(t, q.Conn())
}
