package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"linkwatch/internal/backoff"
	"linkwatch/internal/metrics"
)

// FlowEndpoint identifies one side of an observed flow
type FlowEndpoint struct {
	Namespace string `json:"namespace"`
	PodName   string `json:"pod_name"`
	IP        string `json:"ip"`
	Identity  uint32 `json:"identity"`
}

// ID returns the endpoint's identity string: namespace/pod when known,
// otherwise the IP, otherwise the numeric security identity
func (e FlowEndpoint) ID() string {
	if e.Namespace != "" && e.PodName != "" {
		return e.Namespace + "/" + e.PodName
	}
	if e.IP != "" {
		return e.IP
	}
	return fmt.Sprintf("identity:%d", e.Identity)
}

// FlowRecord is one flow observation from the relay stream
type FlowRecord struct {
	Source      FlowEndpoint `json:"source"`
	Destination FlowEndpoint `json:"destination"`
	Verdict     string       `json:"verdict"`
	Bytes       uint64       `json:"bytes"`
	IsReply     bool         `json:"is_reply"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Relay flow verdicts we act on
const (
	VerdictForwarded = "FORWARDED"
	VerdictDropped   = "DROPPED"
)

// flowAccumulator folds per-flow byte counts into cumulative per-link
// counters so the normalizer can treat the relay like any other counter
// source. Forward-direction flows count as rx, replies as tx.
type flowAccumulator struct {
	mu        sync.Mutex
	endpoints *EndpointMap
	counters  map[string]*linkCounters
}

type linkCounters struct {
	rxBytes, txBytes     uint64
	rxPackets, txPackets uint64
}

func newFlowAccumulator(endpoints *EndpointMap) *flowAccumulator {
	return &flowAccumulator{
		endpoints: endpoints,
		counters:  make(map[string]*linkCounters),
	}
}

// ingest folds one flow into the counters. down is true when the flow
// carried an explicit DROPPED verdict. ok is false when the endpoint
// pair maps to no known link.
func (a *flowAccumulator) ingest(flow FlowRecord) (linkID string, down bool, ok bool) {
	linkID, ok = a.endpoints.Resolve(flow.Source.ID(), flow.Destination.ID())
	if !ok {
		return "", false, false
	}
	if flow.Verdict == VerdictDropped {
		return linkID, true, true
	}
	if flow.Verdict != VerdictForwarded {
		return linkID, false, false
	}

	a.mu.Lock()
	c, exists := a.counters[linkID]
	if !exists {
		c = &linkCounters{}
		a.counters[linkID] = c
	}
	if flow.IsReply {
		c.txBytes += flow.Bytes
		c.txPackets++
	} else {
		c.rxBytes += flow.Bytes
		c.rxPackets++
	}
	a.mu.Unlock()
	return linkID, false, true
}

// flush emits one cumulative sample per link seen so far
func (a *flowAccumulator) flush(now time.Time, source string) []CounterSample {
	a.mu.Lock()
	defer a.mu.Unlock()
	samples := make([]CounterSample, 0, len(a.counters))
	for linkID, c := range a.counters {
		samples = append(samples, CounterSample{
			LinkID:    linkID,
			RxBytes:   c.rxBytes,
			TxBytes:   c.txBytes,
			RxPackets: c.rxPackets,
			TxPackets: c.txPackets,
			Source:    source,
			Timestamp: now,
		})
	}
	return samples
}

// HubbleSource holds a long-lived streaming connection to a central
// flow-aggregation relay and translates flow records into the uniform
// observation shapes. Endpoint identities resolve to link ids through
// the watched EndpointMap.
type HubbleSource struct {
	relayAddr     string
	flushInterval time.Duration
	dialer        *websocket.Dialer
	acc           *flowAccumulator
}

// NewHubbleSource creates a relay stream source
func NewHubbleSource(relayAddr string, endpoints *EndpointMap) *HubbleSource {
	return &HubbleSource{
		relayAddr:     relayAddr,
		flushInterval: time.Second,
		dialer:        websocket.DefaultDialer,
		acc:           newFlowAccumulator(endpoints),
	}
}

// Name implements Source
func (s *HubbleSource) Name() string { return "hubble" }

// Run streams flows, reconnecting with capped backoff on upstream loss
func (s *HubbleSource) Run(ctx context.Context, out chan<- Observation) error {
	url := "ws://" + s.relayAddr + "/flows"
	bo := backoff.New(time.Second, 30*time.Second, 2)

	for {
		conn, _, err := s.dialer.DialContext(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.Reconnects.WithLabelValues(s.Name()).Inc()
			log.Printf("Relay %s unavailable (retrying in %s): %v", s.relayAddr, bo.Current(), err)
			if err := bo.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		log.Printf("Connected to flow relay at %s", s.relayAddr)
		bo.Reset()

		err = s.stream(ctx, conn, out)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.Reconnects.WithLabelValues(s.Name()).Inc()
		log.Printf("Relay stream lost (retrying in %s): %v", bo.Current(), err)
		if err := bo.Wait(ctx); err != nil {
			return err
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

func (s *HubbleSource) stream(ctx context.Context, conn *websocket.Conn, out chan<- Observation) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		// Unblocks the reader when the context ends.
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	msgs := make(chan readResult)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			select {
			case msgs <- readResult{data: data, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgs:
			if msg.err != nil {
				return fmt.Errorf("relay read: %w", msg.err)
			}
			var flow FlowRecord
			if err := json.Unmarshal(msg.data, &flow); err != nil {
				metrics.ObservationErrors.WithLabelValues(s.Name()).Inc()
				log.Printf("Dropping malformed flow record: %v", err)
				continue
			}
			if flow.Timestamp.IsZero() {
				flow.Timestamp = time.Now()
			}
			linkID, down, ok := s.acc.ingest(flow)
			if !ok {
				continue
			}
			if down {
				status := LinkStatus{
					LinkID:    linkID,
					Up:        false,
					Source:    s.Name(),
					Timestamp: flow.Timestamp,
				}
				if err := emit(ctx, out, status); err != nil {
					return err
				}
			}

		case now := <-ticker.C:
			for _, sample := range s.acc.flush(now, s.Name()) {
				if err := emit(ctx, out, sample); err != nil {
					return err
				}
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
