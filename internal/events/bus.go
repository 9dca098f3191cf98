package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHistorySize is the number of recent events kept for introspection.
const DefaultHistorySize = 100

// Handler receives a published event. A returned error is logged and does not
// stop delivery to the remaining subscribers.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id        uint64
	name      string
	eventType EventType // empty matches every event
	handler   Handler
}

// Bus is a single-process publish/subscribe bus keyed by event type.
//
// Publish delivers to subscribers sequentially in registration order and returns
// only after every subscriber has run, so publishers can rely on subscriber side
// effects once Publish returns.
type Bus struct {
	subMu  sync.RWMutex
	subs   []subscription
	nextID uint64

	// history is a ring buffer written only by Publish
	histMu   sync.RWMutex
	history  []Event
	head     int
	count    int
	capacity int

	log zerolog.Logger
}

// NewBus creates a bus retaining up to historySize recent events.
func NewBus(historySize int, log zerolog.Logger) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		history:  make([]Event, historySize),
		capacity: historySize,
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event type and returns a function
// that removes it.
func (b *Bus) Subscribe(eventType EventType, name string, handler Handler) func() {
	return b.add(eventType, name, handler)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(name string, handler Handler) func() {
	return b.add("", name, handler)
}

func (b *Bus) add(eventType EventType, name string, handler Handler) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, eventType: eventType, handler: handler})

	return func() { b.remove(id) }
}

func (b *Bus) remove(id uint64) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish records the event in history and delivers it to every matching
// subscriber before returning.
func (b *Bus) Publish(ctx context.Context, eventType EventType, source string, data any) Event {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}

	b.record(event)

	b.subMu.RLock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.eventType == "" || s.eventType == eventType {
			targets = append(targets, s)
		}
	}
	b.subMu.RUnlock()

	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("source", source).
		Int("subscribers", len(targets)).
		Msg("Event published")

	for _, s := range targets {
		if err := b.deliver(ctx, s, event); err != nil {
			b.log.Error().
				Err(err).
				Str("event_type", string(eventType)).
				Str("subscriber", s.name).
				Msg("Event subscriber failed")
		}
	}

	return event
}

// deliver runs one subscriber, turning a panic into an error.
func (b *Bus) deliver(ctx context.Context, s subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return s.handler(ctx, event)
}

func (b *Bus) record(event Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	b.history[b.head] = event
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// Recent returns up to n of the most recent events, oldest first.
// n <= 0 returns the whole retained history.
func (b *Bus) Recent(n int) []Event {
	b.histMu.RLock()
	defer b.histMu.RUnlock()

	if n <= 0 || n > b.count {
		n = b.count
	}

	out := make([]Event, 0, n)
	start := (b.head - n + b.capacity) % b.capacity
	for i := 0; i < n; i++ {
		out = append(out, b.history[(start+i)%b.capacity])
	}
	return out
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subs)
}
