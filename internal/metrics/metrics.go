// Package metrics exposes Prometheus instrumentation for the link state
// engine. Collectors are registered with promauto at init and served
// from the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinksByState tracks the number of links currently in each state
	LinksByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkwatch_links",
			Help: "Number of links by current state",
		},
		[]string{"state"},
	)

	// StateTransitions counts realized link state transitions
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkwatch_link_state_transitions_total",
			Help: "Total realized link state transitions",
		},
		[]string{"from", "to"},
	)

	// EventsPublished counts events published to the bus by type
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkwatch_events_published_total",
			Help: "Total events published to the event bus",
		},
		[]string{"type"},
	)

	// EventsDropped counts events dropped by the per-subscriber buffer policy
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkwatch_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	// Subscribers tracks currently attached event bus subscribers
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkwatch_event_subscribers",
			Help: "Currently attached event bus subscribers",
		},
	)

	// ObservationErrors counts malformed upstream payloads dropped by
	// discovery sources
	ObservationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkwatch_observation_errors_total",
			Help: "Malformed upstream observations dropped by discovery sources",
		},
		[]string{"source"},
	)

	// Reconnects counts discovery source reconnect attempts
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkwatch_discovery_reconnects_total",
			Help: "Discovery source reconnect attempts",
		},
		[]string{"source"},
	)
)
