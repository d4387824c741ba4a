package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect returns a handler that appends received events and a waiter.
func collect() (func(Event), func(n int) []Event) {
	var mu sync.Mutex
	var events []Event

	handler := func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	wait := func(n int) []Event {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			if len(events) >= n {
				out := make([]Event, len(events))
				copy(out, events)
				mu.Unlock()
				return out
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}
		mu.Lock()
		defer mu.Unlock()
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}
	return handler, wait
}

func TestPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	handler, wait := collect()
	b.Subscribe(EventTaskCompleted, handler)

	require.NoError(t, b.Publish(Event{Type: EventTaskCompleted, TaskID: "t1"}))
	require.NoError(t, b.Publish(Event{Type: EventTaskEscalated, TaskID: "t1"}))

	events := wait(1)
	require.Len(t, events, 1, "typed subscription only sees its type")
	assert.Equal(t, "t1", events[0].TaskID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestWildcardSubscription(t *testing.T) {
	b := New()
	defer b.Close()

	handler, wait := collect()
	b.Subscribe(EventType(""), handler)

	b.Publish(Event{Type: EventClassificationDone, TaskID: "t1"})
	b.Publish(Event{Type: EventExecutionDone, TaskID: "t1"})
	b.Publish(Event{Type: EventTaskCompleted, TaskID: "t1"})

	events := wait(3)
	assert.Len(t, events, 3)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	handler, wait := collect()
	id := b.Subscribe(EventTaskCompleted, handler)
	require.Equal(t, 1, b.SubscriptionsCount())

	b.Publish(Event{Type: EventTaskCompleted})
	wait(1)

	require.NoError(t, b.Unsubscribe(id))
	assert.Equal(t, 0, b.SubscriptionsCount())

	b.Publish(Event{Type: EventTaskCompleted})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, wait(1), 1, "no delivery after unsubscribe")

	assert.Error(t, b.Unsubscribe(id), "double unsubscribe errors")
}

func TestHistoryForTask(t *testing.T) {
	b := New()
	defer b.Close()

	b.Publish(Event{Type: EventClassificationDone, TaskID: "t1", Stage: "classify"})
	b.Publish(Event{Type: EventExecutionDone, TaskID: "t2"})
	b.Publish(Event{Type: EventTaskCompleted, TaskID: "t1", Stage: "done"})

	got := b.HistoryForTask("t1")
	require.Len(t, got, 2)
	assert.Equal(t, "classify", got[0].Stage, "history preserves order")
	assert.Equal(t, "done", got[1].Stage)
}

func TestHistoryBounded(t *testing.T) {
	b := NewWithHistory(3)
	defer b.Close()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: EventBackendCall, BackendID: string(rune('a' + i))})
	}

	history := b.History()
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].BackendID, "oldest events evicted")
}

func TestClosedBusRejectsPublish(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())

	assert.Error(t, b.Publish(Event{Type: EventTaskCompleted}))
	assert.Error(t, b.Close(), "double close errors")
	assert.Equal(t, SubscriptionID(""), b.Subscribe(EventTaskCompleted, func(Event) {}))
}
