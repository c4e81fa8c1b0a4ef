package discovery

import (
	"sync"

	"linkwatch/internal/domain"
)

// Normalizer turns cumulative counter samples into rate metrics. It
// keeps one baseline per key (interface or link id); a counter that
// runs backwards is treated as a reset: the baseline reseeds and the
// sample produces no metrics instead of a negative or spurious spike.
type Normalizer struct {
	mu        sync.Mutex
	baselines map[string]CounterSample
}

// NewNormalizer creates an empty normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{baselines: make(map[string]CounterSample)}
}

// Normalize computes metrics for the sample against the stored baseline.
// ok is false when there is nothing to emit: first sample for the key,
// counter reset, or a non-positive elapsed interval.
func (n *Normalizer) Normalize(key string, sample CounterSample, speedMbps int) (m domain.Metrics, ok bool) {
	n.mu.Lock()
	prev, seen := n.baselines[key]
	n.baselines[key] = sample
	n.mu.Unlock()

	if !seen {
		return domain.Metrics{}, false
	}

	elapsed := sample.Timestamp.Sub(prev.Timestamp).Seconds()
	if elapsed <= 0 {
		return domain.Metrics{}, false
	}
	if sample.RxBytes < prev.RxBytes || sample.TxBytes < prev.TxBytes ||
		sample.RxPackets < prev.RxPackets || sample.TxPackets < prev.TxPackets {
		// Counter wrapped or the device reset. Baseline is already
		// reseeded above; stay silent for this sample.
		return domain.Metrics{}, false
	}

	m = domain.Metrics{
		RxBps:        float64(sample.RxBytes-prev.RxBytes) * 8 / elapsed,
		TxBps:        float64(sample.TxBytes-prev.TxBytes) * 8 / elapsed,
		RxPps:        float64(sample.RxPackets-prev.RxPackets) / elapsed,
		TxPps:        float64(sample.TxPackets-prev.TxPackets) / elapsed,
		RxBytesTotal: sample.RxBytes,
		TxBytesTotal: sample.TxBytes,
	}
	if speedMbps > 0 {
		speedBps := float64(speedMbps) * 1e6
		peak := m.RxBps
		if m.TxBps > peak {
			peak = m.TxBps
		}
		m.Utilization = peak / speedBps
	}
	m.Clamp()
	return m, true
}

// Forget drops the baseline for a key, e.g. after link removal
func (n *Normalizer) Forget(key string) {
	n.mu.Lock()
	delete(n.baselines, key)
	n.mu.Unlock()
}
