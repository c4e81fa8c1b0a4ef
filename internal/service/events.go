package service

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"linkwatch/internal/domain"
	"linkwatch/internal/metrics"
)

// Subscriber receives events from the bus over a bounded channel. When
// the channel is full the bus drops the event for this subscriber only;
// events already buffered are never reordered.
type Subscriber struct {
	id    string
	types map[domain.EventType]struct{} // nil matches every type
	ch    chan domain.Event
	once  sync.Once
}

// ID returns the subscriber's unique identifier
func (s *Subscriber) ID() string {
	return s.id
}

// Events returns the subscriber's delivery channel. It is closed when
// the subscriber is detached or the bus shuts down.
func (s *Subscriber) Events() <-chan domain.Event {
	return s.ch
}

func (s *Subscriber) wants(t domain.EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Bus distributes topology events to subscribers and retains a bounded
// history ring. It is an instance with an explicit lifecycle, not a
// package global, so tests can run independent buses.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	history     *Ring
	bufferSize  int
	closed      bool
}

// NewBus creates a bus retaining historySize events, with bufferSize
// slots per subscriber
func NewBus(historySize, bufferSize int) *Bus {
	if historySize <= 0 {
		historySize = 100
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
		history:     NewRing(historySize),
		bufferSize:  bufferSize,
	}
}

// Subscribe attaches a new subscriber. With no types given the
// subscriber receives every event.
func (b *Bus) Subscribe(types ...domain.EventType) *Subscriber {
	sub := &Subscriber{
		id: uuid.NewString(),
		ch: make(chan domain.Event, b.bufferSize),
	}
	if len(types) > 0 {
		sub.types = make(map[domain.EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	b.subscribers[sub] = struct{}{}
	total := len(b.subscribers)
	b.mu.Unlock()

	metrics.Subscribers.Set(float64(total))
	log.Printf("Event subscriber attached: %s (total: %d)", sub.id, total)
	return sub
}

// Unsubscribe detaches a subscriber and closes its channel
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
	}
	total := len(b.subscribers)
	b.mu.Unlock()

	sub.close()
	metrics.Subscribers.Set(float64(total))
	log.Printf("Event subscriber detached: %s (total: %d)", sub.id, total)
}

// Publish appends the event to history and hands it to every matching
// subscriber without blocking. A subscriber whose buffer is full misses
// this event; the history ring is unaffected by subscriber backpressure.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.history.Append(ev)
	for sub := range b.subscribers {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			metrics.EventsDropped.Inc()
			log.Printf("Subscriber %s buffer full, dropping %s event", sub.id, ev.Type)
		}
	}
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
}

// History returns recent events, newest last, optionally filtered by
// type and capped at limit
func (b *Bus) History(eventType domain.EventType, limit int) []domain.Event {
	events := b.history.Snapshot()
	if eventType != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.Type == eventType {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// SubscriberCount returns the number of attached subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close detaches all subscribers and rejects further publishes
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[*Subscriber]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	metrics.Subscribers.Set(0)
	log.Printf("Event bus closed (%d subscribers disconnected)", len(subs))
}
