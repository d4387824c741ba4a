package escalate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueuePushDrain(t *testing.T) {
	q := NewMemoryQueue(8)

	q.Push(Entry{TaskID: "t1", Reason: "quorum not reached"})
	q.Push(Entry{TaskID: "t2", Reason: "critical exclusion"})
	require.Equal(t, 2, q.Len())

	entries := q.Drain()
	require.Len(t, entries, 2)
	assert.Equal(t, "t1", entries[0].TaskID, "arrival order preserved")
	assert.False(t, entries[0].At.IsZero(), "timestamp filled in")
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueueBounded(t *testing.T) {
	q := NewMemoryQueue(3)
	for i := 0; i < 5; i++ {
		q.Push(Entry{TaskID: fmt.Sprintf("t%d", i)})
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 2, q.Dropped())

	entries := q.Drain()
	assert.Equal(t, "t2", entries[0].TaskID, "oldest entries evicted first")
	assert.Equal(t, "t4", entries[2].TaskID)
}
