package metrics

import (
	"sync"
	"time"

	"github.com/normanking/verity/internal/bus"
)

// Collector subscribes to the event bus and aggregates session metrics.
// Session counters live in memory; completed runs are persisted to the
// store by the orchestrator itself, so the collector only observes.
type Collector struct {
	bus          *bus.Bus
	recentEvents []bus.Event
	mu           sync.RWMutex
	maxEvents    int
	subs         []bus.SubscriptionID
	stopped      bool

	session SessionStats
}

// SessionStats holds counters for the current process lifetime.
type SessionStats struct {
	StartTime       time.Time
	TasksCompleted  int
	TasksEscalated  int
	BackendCalls    int
	BackendFailures int
	TotalLatencyMs  int64
	SignalsEmitted  int
	LastEvent       string
	LastEventTime   time.Time
}

// NewCollector creates a metrics collector over the given bus.
func NewCollector(eventBus *bus.Bus) *Collector {
	return &Collector{
		bus:          eventBus,
		recentEvents: make([]bus.Event, 0),
		maxEvents:    50,
		session:      SessionStats{StartTime: time.Now()},
	}
}

// Start begins listening to the event bus.
func (c *Collector) Start() {
	if c.bus == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	for _, t := range []bus.EventType{
		bus.EventTaskCompleted,
		bus.EventTaskEscalated,
		bus.EventBackendCall,
	} {
		c.subs = append(c.subs, c.bus.Subscribe(t, c.handleEvent))
	}
}

// Stop unsubscribes from the bus.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true

	for _, id := range c.subs {
		c.bus.Unsubscribe(id)
	}
	c.subs = nil
}

func (c *Collector) handleEvent(e bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Type {
	case bus.EventTaskCompleted:
		c.session.TasksCompleted++
		c.session.TotalLatencyMs += e.DurationMs
		c.session.SignalsEmitted += e.SignalCount
	case bus.EventTaskEscalated:
		c.session.TasksEscalated++
	case bus.EventBackendCall:
		c.session.BackendCalls++
		if e.Error != "" {
			c.session.BackendFailures++
		}
	}

	c.session.LastEvent = string(e.Type)
	c.session.LastEventTime = e.Timestamp

	c.recentEvents = append(c.recentEvents, e)
	if len(c.recentEvents) > c.maxEvents {
		c.recentEvents = c.recentEvents[len(c.recentEvents)-c.maxEvents:]
	}
}

// GetSessionStats returns a copy of the current session counters.
func (c *Collector) GetSessionStats() SessionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// RecentEvents returns up to n most recent events, newest last.
func (c *Collector) RecentEvents(n int) []bus.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n > len(c.recentEvents) {
		n = len(c.recentEvents)
	}
	out := make([]bus.Event, n)
	copy(out, c.recentEvents[len(c.recentEvents)-n:])
	return out
}
