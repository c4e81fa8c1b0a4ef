package discovery

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SysfsSource polls per-interface byte and packet counters from
// /sys/class/net at a fixed interval. Kernel up/down notifications are
// the NetlinkSource's job; this source only reads statistics.
type SysfsSource struct {
	// Root is the sysfs net directory, overridable in tests
	Root     string
	interval time.Duration
	filter   map[string]struct{}
}

// NewSysfsSource creates a poller ticking at interval. With a non-empty
// filter only the named interfaces are polled; loopback is always
// skipped.
func NewSysfsSource(interval time.Duration, filter []string) *SysfsSource {
	s := &SysfsSource{
		Root:     "/sys/class/net",
		interval: interval,
	}
	if len(filter) > 0 {
		s.filter = make(map[string]struct{}, len(filter))
		for _, name := range filter {
			s.filter[strings.TrimSpace(name)] = struct{}{}
		}
	}
	return s
}

// Name implements Source
func (s *SysfsSource) Name() string { return "sysfs" }

// Run polls until ctx is cancelled
func (s *SysfsSource) Run(ctx context.Context, out chan<- Observation) error {
	log.Printf("sysfs poller started (interval=%s, root=%s)", s.interval, s.Root)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.pollOnce(ctx, out); err != nil {
				return err
			}
		case <-ctx.Done():
			log.Printf("sysfs poller stopped")
			return ctx.Err()
		}
	}
}

func (s *SysfsSource) pollOnce(ctx context.Context, out chan<- Observation) error {
	now := time.Now()
	for _, iface := range s.interfaces() {
		sample := CounterSample{
			Iface:     iface,
			RxBytes:   s.readStat(iface, "rx_bytes"),
			TxBytes:   s.readStat(iface, "tx_bytes"),
			RxPackets: s.readStat(iface, "rx_packets"),
			TxPackets: s.readStat(iface, "tx_packets"),
			Source:    s.Name(),
			Timestamp: now,
		}
		if err := emit(ctx, out, sample); err != nil {
			return err
		}
	}
	return nil
}

func (s *SysfsSource) interfaces() []string {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		log.Printf("sysfs: listing interfaces: %v", err)
		return nil
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !s.shouldMonitor(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (s *SysfsSource) shouldMonitor(name string) bool {
	if name == "lo" {
		return false
	}
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[name]
	return ok
}

// readStat returns a single counter, or 0 when the file is missing or
// unreadable. Virtual interfaces come and go; a transiently unreadable
// counter is not an error worth surfacing.
func (s *SysfsSource) readStat(iface, stat string) uint64 {
	data, err := os.ReadFile(filepath.Join(s.Root, iface, "statistics", stat))
	if err != nil {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// ReadSpeed returns the interface speed in Mbps, 0 when unknown
func (s *SysfsSource) ReadSpeed(iface string) int {
	data, err := os.ReadFile(filepath.Join(s.Root, iface, "speed"))
	if err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
