// Package escalate holds the human-review escalation queue. Tasks land here
// when the pipeline cannot stand behind its own output: quorum failures,
// critical-layer exclusions, or classifier fallback on material filings.
package escalate

import (
	"sync"
	"time"

	"github.com/normanking/verity/internal/logging"
	"github.com/normanking/verity/internal/task"
)

// Entry is one item awaiting human review.
type Entry struct {
	TaskID string    `json:"task_id"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`

	// Signals carries the affected signals, when the escalation concerns
	// specific signals rather than the whole task.
	Signals []task.CandidateSignal `json:"signals,omitempty"`
}

// Queue receives escalations from the pipeline.
type Queue interface {
	Push(e Entry)
	Drain() []Entry
	Len() int
}

// MemoryQueue is a bounded in-memory Queue. When full, the oldest entry is
// dropped and the drop is logged; review capacity is the scarce resource,
// so recency wins.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	dropped int
	log     *logging.Logger
}

// NewMemoryQueue creates a queue bounded at max entries.
func NewMemoryQueue(max int) *MemoryQueue {
	if max <= 0 {
		max = 256
	}
	return &MemoryQueue{
		max: max,
		log: logging.Global().WithComponent("escalate"),
	}
}

// Push appends an entry, evicting the oldest if the queue is full.
func (q *MemoryQueue) Push(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.max {
		dropped := q.entries[0]
		q.entries = q.entries[1:]
		q.dropped++
		q.log.Warn("queue full, dropping oldest escalation (task %s)", dropped.TaskID)
	}
	q.entries = append(q.entries, e)
}

// Drain removes and returns all pending entries in arrival order.
func (q *MemoryQueue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.entries
	q.entries = nil
	return out
}

// Len returns the number of pending entries.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped returns how many entries were evicted since creation.
func (q *MemoryQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
