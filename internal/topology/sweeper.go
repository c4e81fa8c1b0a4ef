package topology

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically demotes silent active links to idle. The sweep
// interval is deliberately independent of the idle timeout: a short
// interval keeps demotion latency low without touching the grace period.
type Sweeper struct {
	store    *Store
	interval time.Duration
}

// NewSweeper creates a sweeper ticking at interval
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{store: store, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per tick
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("Idle sweeper started (interval=%s, timeout=%s)", s.interval, s.store.IdleTimeout())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.store.SweepIdle(time.Now())
		case <-ctx.Done():
			log.Printf("Idle sweeper stopped")
			return
		}
	}
}
