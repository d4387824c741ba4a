package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/verity/internal/bus"
)

// waitFor polls until the predicate holds or two seconds pass. Bus delivery
// is asynchronous, so collector assertions need a settle loop.
func waitFor(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, pred(), "condition not met within deadline")
}

func TestCollectorSessionStats(t *testing.T) {
	b := bus.New()
	defer b.Close()

	c := NewCollector(b)
	c.Start()
	defer c.Stop()

	require.NoError(t, b.Publish(bus.Event{
		Type: bus.EventTaskCompleted, TaskID: "t1", DurationMs: 120, SignalCount: 3,
	}))
	require.NoError(t, b.Publish(bus.Event{
		Type: bus.EventTaskCompleted, TaskID: "t2", DurationMs: 80, SignalCount: 1,
	}))
	require.NoError(t, b.Publish(bus.Event{Type: bus.EventTaskEscalated, TaskID: "t3"}))
	require.NoError(t, b.Publish(bus.Event{Type: bus.EventBackendCall, BackendID: "fast"}))
	require.NoError(t, b.Publish(bus.Event{
		Type: bus.EventBackendCall, BackendID: "deep", Error: "timeout",
	}))

	waitFor(t, func() bool { return c.GetSessionStats().BackendCalls == 2 })

	stats := c.GetSessionStats()
	assert.Equal(t, 2, stats.TasksCompleted)
	assert.Equal(t, 1, stats.TasksEscalated)
	assert.Equal(t, int64(200), stats.TotalLatencyMs)
	assert.Equal(t, 4, stats.SignalsEmitted)
	assert.Equal(t, 2, stats.BackendCalls)
	assert.Equal(t, 1, stats.BackendFailures)
	assert.NotEmpty(t, stats.LastEvent)
	assert.False(t, stats.StartTime.IsZero())
}

func TestCollectorRecentEventsBounded(t *testing.T) {
	b := bus.New()
	defer b.Close()

	c := NewCollector(b)
	c.maxEvents = 3
	c.Start()
	defer c.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(bus.Event{
			Type: bus.EventTaskCompleted, TaskID: fmt.Sprintf("t%d", i),
		}))
	}
	waitFor(t, func() bool { return c.GetSessionStats().TasksCompleted == 5 })

	recent := c.RecentEvents(10)
	require.Len(t, recent, 3, "ring keeps only the newest events")
	assert.Equal(t, "t2", recent[0].TaskID)
	assert.Equal(t, "t4", recent[2].TaskID)

	one := c.RecentEvents(1)
	require.Len(t, one, 1)
	assert.Equal(t, "t4", one[0].TaskID)
}

func TestCollectorStopUnsubscribes(t *testing.T) {
	b := bus.New()
	defer b.Close()

	c := NewCollector(b)
	c.Start()
	require.NoError(t, b.Publish(bus.Event{Type: bus.EventTaskCompleted, TaskID: "t1"}))
	waitFor(t, func() bool { return c.GetSessionStats().TasksCompleted == 1 })

	c.Stop()
	require.NoError(t, b.Publish(bus.Event{Type: bus.EventTaskCompleted, TaskID: "t2"}))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, c.GetSessionStats().TasksCompleted, "no delivery after stop")
}
