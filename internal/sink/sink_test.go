package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/analytics/anomaly"
	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/queue"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func window(metric string, start time.Time, verdict anomaly.Verdict) *anomaly.Window {
	return &anomaly.Window{
		ID:           metric + "-" + start.Format(time.RFC3339),
		Metric:       metric,
		Range:        analytics.TimeRange{Start: start, End: start.Add(15 * time.Minute)},
		SampleCount:  30,
		Verdict:      verdict,
		PatternIndex: -1,
	}
}

func TestQueueSink_PublishesPerMetricSubject(t *testing.T) {
	q, err := queue.NewQueue(config.QueueConfig{}, logging.NewNop())
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	s := NewQueueSink(q, "morgoth.verdicts")
	assert.Equal(t, "morgoth.verdicts.cpu.user", s.Subject("cpu.user"))

	received := make(chan []byte, 1)
	require.NoError(t, q.Subscribe("morgoth.verdicts.cpu.user", func(data []byte) error {
		received <- data
		return nil
	}))

	require.NoError(t, s.Write(context.Background(), window("cpu.user", base, anomaly.VerdictAnomalous)))
	require.NoError(t, s.Write(context.Background(), nil))

	select {
	case data := <-received:
		var got anomaly.Window
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "cpu.user", got.Metric)
		assert.Equal(t, anomaly.VerdictAnomalous, got.Verdict)
		assert.True(t, got.Range.Start.Equal(base))
	case <-time.After(time.Second):
		t.Fatal("verdict not published")
	}
}

func TestQueueSink_PublishError(t *testing.T) {
	q, err := queue.NewQueue(config.QueueConfig{}, logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, q.Close())

	s := NewQueueSink(q, "morgoth.verdicts")
	assert.Error(t, s.Write(context.Background(), window("cpu", base, anomaly.VerdictNormal)))
}

func TestLatestStore(t *testing.T) {
	s := NewLatestStore()
	ctx := context.Background()

	_, ok := s.Get("cpu")
	assert.False(t, ok)

	require.NoError(t, s.Write(ctx, window("cpu", base, anomaly.VerdictNormal)))
	require.NoError(t, s.Write(ctx, window("cpu", base.Add(15*time.Minute), anomaly.VerdictAnomalous)))
	// stale result from a slower evaluation
	require.NoError(t, s.Write(ctx, window("cpu", base.Add(-15*time.Minute), anomaly.VerdictNormal)))
	require.NoError(t, s.Write(ctx, window("mem", base, anomaly.VerdictUnclassified)))

	got, ok := s.Get("cpu")
	require.True(t, ok)
	assert.Equal(t, anomaly.VerdictAnomalous, got.Verdict)

	got.Verdict = anomaly.VerdictNormal
	again, _ := s.Get("cpu")
	assert.Equal(t, anomaly.VerdictAnomalous, again.Verdict)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "cpu", list[0].Metric)
	assert.Equal(t, "mem", list[1].Metric)

	s.Delete("cpu")
	assert.Equal(t, 1, s.Len())
}

func TestMulti(t *testing.T) {
	latest := NewLatestStore()
	calls := 0
	failing := Func(func(context.Context, *anomaly.Window) error {
		calls++
		return errors.New("unreachable")
	})

	m := Multi{failing, latest, failing}
	err := m.Write(context.Background(), window("cpu", base, anomaly.VerdictNormal))

	assert.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, latest.Len())
	assert.NoError(t, Multi{}.Write(context.Background(), nil))
}
