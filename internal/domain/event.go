package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of topology event
type EventType string

const (
	EventLinkStateChange EventType = "link_state_change"
	EventMetricsUpdate   EventType = "metrics_update"
	EventNodeAdded       EventType = "node_added"
	EventNodeRemoved     EventType = "node_removed"
	EventLinkAdded       EventType = "link_added"
	EventLinkRemoved     EventType = "link_removed"
)

// ParseEventType validates an event type string from the API
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventLinkStateChange, EventMetricsUpdate, EventNodeAdded,
		EventNodeRemoved, EventLinkAdded, EventLinkRemoved:
		return EventType(s), nil
	}
	return "", Validationf("unknown event type %q", s)
}

// Event represents a change that occurred in the topology
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"event_type"`
	LinkID    string    `json:"link_id,omitempty"`
	NodeID    string    `json:"node_id,omitempty"`
	OldState  LinkState `json:"old_state,omitempty"`
	NewState  LinkState `json:"new_state,omitempty"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh id and timestamp
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// StateChangeEvent builds a link_state_change event
func StateChangeEvent(linkID string, oldState, newState LinkState, metrics *Metrics, source string) Event {
	ev := NewEvent(EventLinkStateChange)
	ev.LinkID = linkID
	ev.OldState = oldState
	ev.NewState = newState
	ev.Metrics = metrics
	ev.Source = source
	return ev
}

// MetricsUpdateEvent builds a metrics_update event
func MetricsUpdateEvent(linkID string, metrics Metrics, source string) Event {
	ev := NewEvent(EventMetricsUpdate)
	ev.LinkID = linkID
	ev.Metrics = &metrics
	ev.Source = source
	return ev
}
