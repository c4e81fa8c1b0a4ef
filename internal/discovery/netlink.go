package discovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vishvananda/netlink"
)

// NetlinkSource subscribes to kernel rtnetlink link notifications and
// translates operational state changes into up/down status
// observations. Push-driven; no polling.
type NetlinkSource struct {
	lastState map[string]bool
}

// NewNetlinkSource creates the kernel link watcher
func NewNetlinkSource() *NetlinkSource {
	return &NetlinkSource{lastState: make(map[string]bool)}
}

// Name implements Source
func (s *NetlinkSource) Name() string { return "netlink" }

// Run streams link updates until ctx is cancelled
func (s *NetlinkSource) Run(ctx context.Context, out chan<- Observation) error {
	updates := make(chan netlink.LinkUpdate, 64)
	done := make(chan struct{})
	defer close(done)

	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return fmt.Errorf("netlink subscribe: %w", err)
	}
	log.Printf("netlink watcher started")

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("netlink subscription closed")
			}
			attrs := update.Link.Attrs()
			if attrs == nil || attrs.Name == "lo" {
				continue
			}
			up := attrs.OperState == netlink.OperUp
			// The kernel repeats attribute updates that do not touch
			// operstate; only forward actual flips.
			if prev, seen := s.lastState[attrs.Name]; seen && prev == up {
				continue
			}
			s.lastState[attrs.Name] = up

			status := LinkStatus{
				Iface:     attrs.Name,
				Up:        up,
				Source:    s.Name(),
				Timestamp: time.Now(),
			}
			if err := emit(ctx, out, status); err != nil {
				return err
			}
		case <-ctx.Done():
			log.Printf("netlink watcher stopped")
			return ctx.Err()
		}
	}
}
