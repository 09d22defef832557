package metric

import (
	"context"
	"testing"
	"time"

	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, patterns ...string) *Manager {
	t.Helper()
	m, err := NewManager(patterns, logging.NewNop())
	require.NoError(t, err)
	return m
}

func TestManager_AddRemove(t *testing.T) {
	m := newTestManager(t)

	added, err := m.Add("mem.free")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.Add("cpu.user")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.Add("cpu.user")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = m.Add("  ")
	assert.Error(t, err)

	assert.Equal(t, []string{"cpu.user", "mem.free"}, m.List())
	assert.Equal(t, 2, m.Len())
	assert.True(t, m.Has("cpu.user"))

	since, ok := m.Since("cpu.user")
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), since, time.Minute)

	require.NoError(t, m.Remove("cpu.user"))
	assert.False(t, m.Has("cpu.user"))
	assert.ErrorIs(t, m.Remove("cpu.user"), ErrNotTracked)
}

func TestManager_ObservePatterns(t *testing.T) {
	m := newTestManager(t, `^cpu\.`, `^disk\..*\.used$`)

	assert.True(t, m.Observe("cpu.user"))
	assert.True(t, m.Observe("disk.sda.used"))
	assert.False(t, m.Observe("mem.free"))
	assert.Equal(t, []string{"cpu.user", "disk.sda.used"}, m.List())

	// explicit adds bypass the filter
	_, err := m.Add("mem.free")
	require.NoError(t, err)
	assert.True(t, m.Observe("mem.free"))
}

func TestManager_ObserveWithoutPatterns(t *testing.T) {
	m := newTestManager(t)
	assert.True(t, m.Observe("anything"))
	assert.True(t, m.Has("anything"))
}

func TestNewManager_InvalidPattern(t *testing.T) {
	_, err := NewManager([]string{"("}, logging.NewNop())
	assert.Error(t, err)
}

func TestManager_Subscribe(t *testing.T) {
	m := newTestManager(t)
	events, unsubscribe := m.Subscribe(4)

	_, err := m.Add("cpu")
	require.NoError(t, err)
	require.NoError(t, m.Remove("cpu"))

	assert.Equal(t, Event{Type: EventAdded, Metric: "cpu"}, <-events)
	assert.Equal(t, Event{Type: EventRemoved, Metric: "cpu"}, <-events)

	unsubscribe()
	unsubscribe()
	_, open := <-events
	assert.False(t, open)

	// no subscribers left, must not block
	_, err = m.Add("mem")
	require.NoError(t, err)
}

func TestManager_SubscriberFullDropsEvents(t *testing.T) {
	m := newTestManager(t)
	events, unsubscribe := m.Subscribe(1)
	defer unsubscribe()

	for _, metric := range []string{"a", "b", "c"} {
		_, err := m.Add(metric)
		require.NoError(t, err)
	}

	assert.Equal(t, "a", (<-events).Metric)
	assert.Len(t, events, 0)
	assert.Equal(t, 3, m.Len())
}

func TestManager_TrackUntrack(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Track(ctx, "cpu"))
	require.NoError(t, m.Track(ctx, "cpu"))
	require.NoError(t, m.Untrack(ctx, "cpu"))
	assert.ErrorIs(t, m.Untrack(ctx, "cpu"), ErrNotTracked)
}

func TestManager_Telemetry(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Add("cpu")
	require.NoError(t, err)

	tm := telemetry.New()
	m.SetTelemetry(tm)
	_, err = m.Add("mem")
	require.NoError(t, err)

	families, err := tm.Registry().Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "morgoth_tracked_metrics" {
			found = true
			assert.Equal(t, 2.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}
