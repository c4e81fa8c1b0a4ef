package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testEndpointMap(t *testing.T) *EndpointMap {
	t.Helper()
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	data := `
links:
  - link_id: link1
    source: default/frontend
    target: default/backend
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadEndpointMap(path)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func flow(src, dst string, verdict string, bytes uint64, reply bool) FlowRecord {
	return FlowRecord{
		Source:      FlowEndpoint{Namespace: "default", PodName: src},
		Destination: FlowEndpoint{Namespace: "default", PodName: dst},
		Verdict:     verdict,
		Bytes:       bytes,
		IsReply:     reply,
		Timestamp:   time.Now(),
	}
}

func TestFlowEndpointID(t *testing.T) {
	cases := []struct {
		name string
		ep   FlowEndpoint
		want string
	}{
		{"pod identity", FlowEndpoint{Namespace: "default", PodName: "web"}, "default/web"},
		{"ip fallback", FlowEndpoint{IP: "10.0.0.1"}, "10.0.0.1"},
		{"numeric fallback", FlowEndpoint{Identity: 42}, "identity:42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ep.ID(); got != tc.want {
				t.Errorf("ID() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFlowAccumulator(t *testing.T) {
	t.Run("forward and reply split into rx and tx", func(t *testing.T) {
		acc := newFlowAccumulator(testEndpointMap(t))

		if _, _, ok := acc.ingest(flow("frontend", "backend", VerdictForwarded, 1000, false)); !ok {
			t.Fatal("mapped flow must ingest")
		}
		acc.ingest(flow("frontend", "backend", VerdictForwarded, 500, false))
		acc.ingest(flow("backend", "frontend", VerdictForwarded, 200, true))

		samples := acc.flush(time.Now(), "hubble")
		if len(samples) != 1 {
			t.Fatalf("expected 1 sample, got %d", len(samples))
		}
		s := samples[0]
		if s.LinkID != "link1" {
			t.Errorf("link id = %s", s.LinkID)
		}
		if s.RxBytes != 1500 || s.RxPackets != 2 {
			t.Errorf("rx = %d bytes %d pkts, want 1500/2", s.RxBytes, s.RxPackets)
		}
		if s.TxBytes != 200 || s.TxPackets != 1 {
			t.Errorf("tx = %d bytes %d pkts, want 200/1", s.TxBytes, s.TxPackets)
		}
	})

	t.Run("counters are cumulative across flushes", func(t *testing.T) {
		acc := newFlowAccumulator(testEndpointMap(t))
		acc.ingest(flow("frontend", "backend", VerdictForwarded, 100, false))
		acc.flush(time.Now(), "hubble")
		acc.ingest(flow("frontend", "backend", VerdictForwarded, 100, false))

		samples := acc.flush(time.Now(), "hubble")
		if samples[0].RxBytes != 200 {
			t.Errorf("counters must accumulate, got %d", samples[0].RxBytes)
		}
	})

	t.Run("unmapped pair ignored", func(t *testing.T) {
		acc := newFlowAccumulator(testEndpointMap(t))
		if _, _, ok := acc.ingest(flow("frontend", "stranger", VerdictForwarded, 100, false)); ok {
			t.Error("unmapped flow must not ingest")
		}
		if samples := acc.flush(time.Now(), "hubble"); len(samples) != 0 {
			t.Errorf("expected no samples, got %d", len(samples))
		}
	})

	t.Run("dropped verdict reports down", func(t *testing.T) {
		acc := newFlowAccumulator(testEndpointMap(t))
		linkID, down, ok := acc.ingest(flow("frontend", "backend", VerdictDropped, 100, false))
		if !ok || !down || linkID != "link1" {
			t.Errorf("dropped flow = (%s, %v, %v)", linkID, down, ok)
		}
		// Dropped bytes never count as traffic.
		if samples := acc.flush(time.Now(), "hubble"); len(samples) != 0 {
			t.Errorf("expected no samples, got %d", len(samples))
		}
	})

	t.Run("unknown verdict ignored", func(t *testing.T) {
		acc := newFlowAccumulator(testEndpointMap(t))
		if _, _, ok := acc.ingest(flow("frontend", "backend", "AUDIT", 100, false)); ok {
			t.Error("unknown verdict must not ingest")
		}
	})
}

func TestHubbleSourceStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flows" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		frames := []string{
			`{"source":{"namespace":"default","pod_name":"frontend"},"destination":{"namespace":"default","pod_name":"backend"},"verdict":"FORWARDED","bytes":1000}`,
			`not json at all`,
			`{"source":{"namespace":"default","pod_name":"frontend"},"destination":{"namespace":"default","pod_name":"backend"},"verdict":"DROPPED","bytes":10}`,
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the connection open so the source keeps flushing.
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	src := NewHubbleSource(strings.TrimPrefix(server.URL, "http://"), testEndpointMap(t))
	src.flushInterval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out := make(chan Observation, 64)
	go src.Run(ctx, out)

	var gotSample, gotDown bool
	for !gotSample || !gotDown {
		select {
		case obs := <-out:
			switch o := obs.(type) {
			case CounterSample:
				if o.LinkID == "link1" && o.RxBytes == 1000 {
					gotSample = true
				}
			case LinkStatus:
				if o.LinkID == "link1" && !o.Up {
					gotDown = true
				}
			}
		case <-ctx.Done():
			t.Fatalf("timed out (sample=%v down=%v)", gotSample, gotDown)
		}
	}
	cancel()
}
