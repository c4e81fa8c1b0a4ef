package service

import (
	"sync"

	"linkwatch/internal/domain"
)

// Ring is a fixed-size circular buffer retaining the most recent events
type Ring struct {
	mu   sync.Mutex
	buf  []domain.Event
	next int
	full bool
}

// NewRing creates a ring holding size events
func NewRing(size int) *Ring {
	return &Ring{buf: make([]domain.Event, size)}
}

// Append adds an event, evicting the oldest once the ring is full
func (r *Ring) Append(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Snapshot returns retained events oldest first
func (r *Ring) Snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]domain.Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]domain.Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Len returns the number of retained events
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
