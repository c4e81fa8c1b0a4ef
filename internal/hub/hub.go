// Package hub streams topology events to websocket clients. Each client
// gets its own bus subscription with a bounded buffer, so a stalled
// client loses its own events and never holds up producers or other
// clients.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"linkwatch/internal/domain"
	"linkwatch/internal/service"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// TopologyProvider supplies the snapshot sent to clients on connect
type TopologyProvider interface {
	Topology() ([]domain.Node, []domain.Link)
}

// Hub upgrades websocket connections and fans events out to them
type Hub struct {
	bus      *service.Bus
	topo     TopologyProvider
	upgrader websocket.Upgrader
	clients  atomic.Int64
}

// New creates a hub serving events from bus
func New(bus *service.Bus, topo TopologyProvider) *Hub {
	return &Hub{
		bus:  bus,
		topo: topo,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin dashboards are expected deployment reality.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.clients.Load())
}

// initialState is the first message sent to every client
type initialState struct {
	Type      string        `json:"type"`
	Nodes     []domain.Node `json:"nodes"`
	Edges     []domain.Link `json:"edges"`
	Timestamp time.Time     `json:"timestamp"`
}

type clientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP handles one client connection. The optional ?types= query
// parameter is a comma-separated event type filter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var types []domain.EventType
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t, err := domain.ParseEventType(strings.TrimSpace(part))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			types = append(types, t)
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(types...)
	defer h.bus.Unsubscribe(sub)

	total := h.clients.Add(1)
	defer h.clients.Add(-1)
	log.Printf("Event client connected: %s (total: %d)", sub.ID(), total)
	defer log.Printf("Event client disconnected: %s", sub.ID())

	nodes, links := h.topo.Topology()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(initialState{
		Type:      "initial_state",
		Nodes:     nodes,
		Edges:     links,
		Timestamp: time.Now(),
	}); err != nil {
		return
	}

	// Reader: surfaces disconnects and client pings. The writer loop is
	// the connection's only writer, so pong replies travel through pongs.
	pongs := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "ping" {
				select {
				case pongs <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}

		case <-pongs:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(clientMessage{Type: "pong"}); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return

		case <-r.Context().Done():
			return
		}
	}
}
