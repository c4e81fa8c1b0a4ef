package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"linkwatch/internal/domain"
)

// AgentEvent is the payload agents submit over POST /api/events or the
// agent websocket. It is validated against the event schema before any
// store mutation happens.
type AgentEvent struct {
	EventType string          `json:"event_type"`
	LinkID    string          `json:"link_id"`
	OldState  string          `json:"old_state,omitempty"`
	NewState  string          `json:"new_state,omitempty"`
	Metrics   *domain.Metrics `json:"metrics,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// validate checks the payload shape without touching the store
func (e *AgentEvent) validate() error {
	eventType, err := domain.ParseEventType(e.EventType)
	if err != nil {
		return err
	}
	if e.LinkID == "" {
		return domain.Validationf("link_id is required")
	}
	switch eventType {
	case domain.EventLinkStateChange:
		if _, err := domain.ParseLinkState(e.NewState); err != nil {
			return err
		}
		if e.OldState != "" {
			if _, err := domain.ParseLinkState(e.OldState); err != nil {
				return err
			}
		}
	case domain.EventMetricsUpdate:
		if e.Metrics == nil {
			return domain.Validationf("metrics payload is required")
		}
		if err := e.Metrics.Validate(); err != nil {
			return err
		}
	default:
		return domain.Validationf("agents may only submit link_state_change or metrics_update, got %q", e.EventType)
	}
	return nil
}

// applyAgentEvent feeds a validated agent event into the store
func (h *Handler) applyAgentEvent(ev AgentEvent) error {
	if err := ev.validate(); err != nil {
		return err
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	switch domain.EventType(ev.EventType) {
	case domain.EventLinkStateChange:
		return h.store.SetState(ev.LinkID, domain.LinkState(ev.NewState), ts, "agent")
	case domain.EventMetricsUpdate:
		return h.store.UpsertMetrics(ev.LinkID, *ev.Metrics, ts, "agent")
	}
	return nil
}

// SubmitEvent handles POST /api/events
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}
	var ev AgentEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.applyAgentEvent(ev); err != nil {
		h.writeDomainError(w, "Failed to process event", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "accepted", "link_id": ev.LinkID}, http.StatusAccepted)
}

// batchResult reports the outcome of one event in a batch
type batchResult struct {
	LinkID    string `json:"link_id"`
	Processed bool   `json:"processed"`
	Error     string `json:"error,omitempty"`
}

// SubmitBatch handles POST /api/events/batch. Events are applied
// independently; one bad event never blocks the rest.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}
	var events []AgentEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	results := make([]batchResult, 0, len(events))
	processed := 0
	for _, ev := range events {
		res := batchResult{LinkID: ev.LinkID, Processed: true}
		if err := h.applyAgentEvent(ev); err != nil {
			res.Processed = false
			res.Error = err.Error()
		} else {
			processed++
		}
		results = append(results, res)
	}

	h.writeJSON(w, map[string]any{
		"processed": processed,
		"failed":    len(events) - processed,
		"results":   results,
	}, http.StatusOK)
}

var agentUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type agentAck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// AgentSocket handles /ws/agent: agents push events continuously and
// receive a per-event acknowledgement. A bad event earns an error ack;
// the connection stays up.
func (h *Handler) AgentSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := agentUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Agent websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("Agent connected from %s", r.RemoteAddr)
	defer log.Printf("Agent disconnected from %s", r.RemoteAddr)

	for {
		var ev AgentEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Agent read error: %v", err)
			}
			return
		}

		ack := agentAck{Status: "ok"}
		if err := h.applyAgentEvent(ev); err != nil {
			log.Printf("Agent event for %s rejected: %v", ev.LinkID, err)
			ack = agentAck{Status: "error", Message: err.Error()}
		}
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
	}
}
