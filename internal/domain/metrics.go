package domain

// Metrics holds the traffic measurements for a link. Rates are derived
// from cumulative counters upstream; byte totals carry the raw counter
// values for consumers that want to integrate themselves.
type Metrics struct {
	RxBps        float64  `json:"rx_bps"`
	TxBps        float64  `json:"tx_bps"`
	RxPps        float64  `json:"rx_pps"`
	TxPps        float64  `json:"tx_pps"`
	RxBytesTotal uint64   `json:"rx_bytes_total"`
	TxBytesTotal uint64   `json:"tx_bytes_total"`
	Utilization  float64  `json:"utilization"`
	LatencyMs    *float64 `json:"latency_ms,omitempty"`
	PacketLoss   *float64 `json:"packet_loss,omitempty"`
}

// HasTraffic reports whether the link carried any traffic this interval
func (m Metrics) HasTraffic() bool {
	return m.RxBps > 0 || m.TxBps > 0
}

// Clamp forces utilization into [0, 1]
func (m *Metrics) Clamp() {
	if m.Utilization < 0 {
		m.Utilization = 0
	}
	if m.Utilization > 1 {
		m.Utilization = 1
	}
}

// Validate checks externally supplied metrics
func (m Metrics) Validate() error {
	if m.RxBps < 0 || m.TxBps < 0 || m.RxPps < 0 || m.TxPps < 0 {
		return Validationf("metric rates must not be negative")
	}
	if m.Utilization < 0 || m.Utilization > 1 {
		return Validationf("utilization must be between 0 and 1")
	}
	if m.LatencyMs != nil && *m.LatencyMs < 0 {
		return Validationf("latency must not be negative")
	}
	if m.PacketLoss != nil && (*m.PacketLoss < 0 || *m.PacketLoss > 1) {
		return Validationf("packet loss must be between 0 and 1")
	}
	return nil
}
