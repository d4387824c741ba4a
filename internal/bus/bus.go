package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultHistorySize is the number of recent events retained for replay.
	DefaultHistorySize = 1000

	// DefaultChannelBuffer is the buffer size for subscriber channels.
	DefaultChannelBuffer = 100
)

// SubscriptionID is a unique identifier for event subscriptions.
type SubscriptionID string

// Subscription represents a single event subscription.
type Subscription struct {
	ID        SubscriptionID
	EventType EventType
	Handler   func(Event)
	ch        chan Event
	done      chan struct{}
}

// Bus is a thread-safe pub/sub event bus with typed and wildcard
// subscriptions and bounded event history.
type Bus struct {
	mu         sync.RWMutex
	subs       map[SubscriptionID]*Subscription
	typedSubs  map[EventType]map[SubscriptionID]*Subscription
	wildcards  map[SubscriptionID]*Subscription
	subCounter uint64

	historyMu   sync.RWMutex
	history     []Event
	historySize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a bus with the default history size.
func New() *Bus {
	return NewWithHistory(DefaultHistorySize)
}

// NewWithHistory creates a bus retaining up to historySize events.
func NewWithHistory(historySize int) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:        make(map[SubscriptionID]*Subscription),
		typedSubs:   make(map[EventType]map[SubscriptionID]*Subscription),
		wildcards:   make(map[SubscriptionID]*Subscription),
		history:     make([]Event, 0, historySize),
		historySize: historySize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe registers a handler for a specific event type.
// Use EventType("") to subscribe to all events.
func (b *Bus) Subscribe(eventType EventType, handler func(Event)) SubscriptionID {
	if b.closed.Load() {
		return ""
	}

	b.mu.Lock()
	b.subCounter++
	id := SubscriptionID(fmt.Sprintf("sub_%d", b.subCounter))

	sub := &Subscription{
		ID:        id,
		EventType: eventType,
		Handler:   handler,
		ch:        make(chan Event, DefaultChannelBuffer),
		done:      make(chan struct{}),
	}

	b.subs[id] = sub
	if eventType == "" {
		b.wildcards[id] = sub
	} else {
		if b.typedSubs[eventType] == nil {
			b.typedSubs[eventType] = make(map[SubscriptionID]*Subscription)
		}
		b.typedSubs[eventType][id] = sub
	}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(sub)

	return id
}

// run delivers events to one subscription until it or the bus is closed.
func (b *Bus) run(sub *Subscription) {
	defer b.wg.Done()

	for {
		select {
		case event := <-sub.ch:
			sub.Handler(event)
		case <-sub.done:
			return
		case <-b.ctx.Done():
			return
		}
	}
}

// Unsubscribe removes a subscription by ID.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.mu.Lock()
	sub, exists := b.subs[id]
	if !exists {
		b.mu.Unlock()
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subs, id)
	delete(b.wildcards, id)
	if subs, ok := b.typedSubs[sub.EventType]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.typedSubs, sub.EventType)
		}
	}
	b.mu.Unlock()

	close(sub.done)
	return nil
}

// Publish sends an event to all matching subscribers. Delivery is best
// effort: a subscriber with a full channel misses the event rather than
// blocking the publisher.
func (b *Bus) Publish(event Event) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.addToHistory(event)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.wildcards {
		select {
		case sub.ch <- event:
		default:
		}
	}
	if subs, ok := b.typedSubs[event.Type]; ok {
		for _, sub := range subs {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	return nil
}

// addToHistory appends an event to the bounded history buffer.
func (b *Bus) addToHistory(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns a copy of the recent event history.
func (b *Bus) History() []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	result := make([]Event, len(b.history))
	copy(result, b.history)
	return result
}

// HistoryForTask returns the retained events for one task, oldest first.
func (b *Bus) HistoryForTask(taskID string) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if e.TaskID == taskID {
			result = append(result, e)
		}
	}
	return result
}

// SubscriptionsCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionsCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("bus already closed")
	}

	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	b.subs = make(map[SubscriptionID]*Subscription)
	b.typedSubs = make(map[EventType]map[SubscriptionID]*Subscription)
	b.wildcards = make(map[SubscriptionID]*Subscription)
	b.mu.Unlock()

	return nil
}
