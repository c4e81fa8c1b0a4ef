// Package discovery produces raw traffic observations from pluggable
// backends. Every backend implements Source and emits the same two
// observation shapes, so the pipeline and everything downstream is
// backend-agnostic.
package discovery

import (
	"context"
	"time"
)

// Observation is the tagged union of raw observation shapes
type Observation interface {
	isObservation()
}

// CounterSample carries cumulative interface counters. Either Iface or
// LinkID identifies the link: local sources report the interface name,
// sources that already resolved the topology link set LinkID.
type CounterSample struct {
	Iface     string
	LinkID    string
	RxBytes   uint64
	TxBytes   uint64
	RxPackets uint64
	TxPackets uint64
	Source    string
	Timestamp time.Time
}

func (CounterSample) isObservation() {}

// LinkStatus carries an explicit interface up/down signal
type LinkStatus struct {
	Iface     string
	LinkID    string
	Up        bool
	Source    string
	Timestamp time.Time
}

func (LinkStatus) isObservation() {}

// Source produces a lazy, unbounded sequence of observations. Run blocks
// until ctx is cancelled; it must never block indefinitely on delivery
// and must survive upstream loss by reconnecting with capped backoff.
// A non-nil return other than ctx.Err() means the source gave up and the
// pipeline may restart it.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Observation) error
}

// emit delivers an observation unless ctx is cancelled first
func emit(ctx context.Context, out chan<- Observation, obs Observation) error {
	select {
	case out <- obs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
