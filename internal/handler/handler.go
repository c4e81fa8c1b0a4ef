package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"linkwatch/internal/domain"
	"linkwatch/internal/hub"
	"linkwatch/internal/service"
	"linkwatch/internal/topology"
)

// Journal serves long-horizon event history when a journal is configured
type Journal interface {
	History(ctx context.Context, eventType domain.EventType, limit int) ([]domain.Event, error)
}

// Handler routes the REST and websocket API
type Handler struct {
	store   *topology.Store
	bus     *service.Bus
	hub     *hub.Hub
	journal Journal
}

// New creates the API handler
func New(store *topology.Store, bus *service.Bus, eventHub *hub.Hub) *Handler {
	return &Handler{store: store, bus: bus, hub: eventHub}
}

// SetJournal wires the optional event journal
func (h *Handler) SetJournal(j Journal) {
	h.journal = j
}

// Routes builds the server mux
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/topology", h.GetTopology)
	mux.HandleFunc("/api/topology/nodes", h.CreateNode)
	mux.HandleFunc("/api/topology/nodes/", h.DeleteNode)
	mux.HandleFunc("/api/topology/links", h.CreateLink)
	mux.HandleFunc("/api/topology/links/", h.DeleteLink)

	mux.HandleFunc("/api/links", h.ListLinks)
	mux.HandleFunc("/api/links/", h.linkRoutes)

	mux.HandleFunc("/api/events", h.SubmitEvent)
	mux.HandleFunc("/api/events/batch", h.SubmitBatch)
	mux.HandleFunc("/api/events/history", h.EventHistory)

	mux.HandleFunc("/api/health", h.Health)

	mux.Handle("/ws/events", h.hub)
	mux.HandleFunc("/ws/agent", h.AgentSocket)

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// TopologyResponse is the full node+link snapshot
type TopologyResponse struct {
	Nodes     []domain.Node `json:"nodes"`
	Edges     []domain.Link `json:"edges"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
}

// GetTopology returns the complete topology
func (h *Handler) GetTopology(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	nodes, links := h.store.Topology()
	h.writeJSON(w, TopologyResponse{
		Nodes:     nodes,
		Edges:     links,
		Timestamp: time.Now(),
		Version:   "1.0",
	}, http.StatusOK)
}

// CreateNode adds a node to the topology
func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}
	var node domain.Node
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.AddNode(&node); err != nil {
		h.writeDomainError(w, "Failed to create node", err)
		return
	}
	h.writeJSON(w, node, http.StatusCreated)
}

// DeleteNode removes a node. Nodes still referenced by links are
// rejected with a conflict.
func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.methodNotAllowed(w)
		return
	}
	id := extractPathParam(r.URL.Path, "/api/topology/nodes/")
	if id == "" {
		h.writeError(w, "Invalid node ID", "Node ID is required", http.StatusBadRequest)
		return
	}
	if err := h.store.RemoveNode(id); err != nil {
		h.writeDomainError(w, "Failed to delete node", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "removed", "node_id": id}, http.StatusOK)
}

// CreateLink adds a link to the topology
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}
	var link domain.Link
	if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.AddLink(&link); err != nil {
		h.writeDomainError(w, "Failed to create link", err)
		return
	}
	h.writeJSON(w, link, http.StatusCreated)
}

// DeleteLink removes a link
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.methodNotAllowed(w)
		return
	}
	id := extractPathParam(r.URL.Path, "/api/topology/links/")
	if id == "" {
		h.writeError(w, "Invalid link ID", "Link ID is required", http.StatusBadRequest)
		return
	}
	if err := h.store.RemoveLink(id); err != nil {
		h.writeDomainError(w, "Failed to delete link", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "removed", "link_id": id}, http.StatusOK)
}

// LinksResponse lists links with a count
type LinksResponse struct {
	Links     []domain.Link `json:"links"`
	Count     int           `json:"count"`
	Timestamp time.Time     `json:"timestamp"`
}

// ListLinks returns all links, optionally filtered by ?state=
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	var state domain.LinkState
	if raw := r.URL.Query().Get("state"); raw != "" {
		parsed, err := domain.ParseLinkState(raw)
		if err != nil {
			h.writeError(w, "Invalid state filter", err.Error(), http.StatusBadRequest)
			return
		}
		state = parsed
	}
	links := h.store.Links(state)
	h.writeJSON(w, LinksResponse{Links: links, Count: len(links), Timestamp: time.Now()}, http.StatusOK)
}

// linkRoutes dispatches /api/links/{id}, /api/links/{id}/state and
// /api/links/{id}/metrics
func (h *Handler) linkRoutes(w http.ResponseWriter, r *http.Request) {
	rest := extractPathParam(r.URL.Path, "/api/links/")
	if rest == "" {
		h.writeError(w, "Invalid link ID", "Link ID is required", http.StatusBadRequest)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/state"); ok {
		h.updateLinkState(w, r, id)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/metrics"); ok {
		switch r.Method {
		case http.MethodGet:
			h.getLinkMetrics(w, r, id)
		case http.MethodPut:
			h.updateLinkMetrics(w, r, id)
		default:
			h.methodNotAllowed(w)
		}
		return
	}

	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	link, err := h.store.Link(rest)
	if err != nil {
		h.writeDomainError(w, "Failed to get link", err)
		return
	}
	h.writeJSON(w, link, http.StatusOK)
}

func (h *Handler) getLinkMetrics(w http.ResponseWriter, _ *http.Request, id string) {
	link, err := h.store.Link(id)
	if err != nil {
		h.writeDomainError(w, "Failed to get link", err)
		return
	}
	h.writeJSON(w, link.Metrics, http.StatusOK)
}

// updateLinkState handles PUT /api/links/{id}/state?state=X
func (h *Handler) updateLinkState(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		h.methodNotAllowed(w)
		return
	}
	state, err := domain.ParseLinkState(r.URL.Query().Get("state"))
	if err != nil {
		h.writeError(w, "Invalid state", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.SetState(id, state, time.Now(), "api"); err != nil {
		h.writeDomainError(w, "Failed to update state", err)
		return
	}
	link, err := h.store.Link(id)
	if err != nil {
		h.writeDomainError(w, "Failed to get link", err)
		return
	}
	h.writeJSON(w, link, http.StatusOK)
}

// updateLinkMetrics handles PUT /api/links/{id}/metrics
func (h *Handler) updateLinkMetrics(w http.ResponseWriter, r *http.Request, id string) {
	var m domain.Metrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if err := m.Validate(); err != nil {
		h.writeError(w, "Invalid metrics", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.UpsertMetrics(id, m, time.Now(), "api"); err != nil {
		h.writeDomainError(w, "Failed to update metrics", err)
		return
	}
	link, err := h.store.Link(id)
	if err != nil {
		h.writeDomainError(w, "Failed to get link", err)
		return
	}
	h.writeJSON(w, link, http.StatusOK)
}

// EventHistory returns recent events from the ring buffer, or from the
// journal with ?source=journal when one is configured
func (h *Handler) EventHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}

	var eventType domain.EventType
	if raw := r.URL.Query().Get("type"); raw != "" {
		parsed, err := domain.ParseEventType(raw)
		if err != nil {
			h.writeError(w, "Invalid event type", err.Error(), http.StatusBadRequest)
			return
		}
		eventType = parsed
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, "Invalid limit", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var events []domain.Event
	if r.URL.Query().Get("source") == "journal" {
		if h.journal == nil {
			h.writeError(w, "Journal not configured", "no event journal is enabled", http.StatusNotFound)
			return
		}
		var err error
		events, err = h.journal.History(r.Context(), eventType, limit)
		if err != nil {
			log.Printf("Journal history query failed: %v", err)
			h.writeError(w, "Failed to query journal", err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		events = h.bus.History(eventType, limit)
	}

	h.writeJSON(w, map[string]any{"events": events, "count": len(events)}, http.StatusOK)
}

// HealthResponse reports server liveness and store counters
type HealthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	NodeCount     int            `json:"node_count"`
	LinkCount     int            `json:"link_count"`
	LinkStates    map[string]int `json:"link_states"`
	Subscribers   int            `json:"subscribers"`
	Clients       int            `json:"connected_clients"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Health returns server health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	stats := h.store.Stats()
	h.writeJSON(w, HealthResponse{
		Status:        "healthy",
		UptimeSeconds: stats.UptimeSeconds,
		NodeCount:     stats.NodeCount,
		LinkCount:     stats.LinkCount,
		LinkStates:    stats.LinkStates,
		Subscribers:   h.bus.SubscriberCount(),
		Clients:       h.hub.ClientCount(),
		Timestamp:     time.Now(),
	}, http.StatusOK)
}

// ErrorResponse is the error payload shape
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, msg, details string, status int) {
	h.writeJSON(w, ErrorResponse{Error: msg, Details: details}, status)
}

// writeDomainError maps the error taxonomy onto HTTP statuses
func (h *Handler) writeDomainError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateID), errors.Is(err, domain.ErrNodeInUse):
		status = http.StatusConflict
	default:
		log.Printf("%s: %v", msg, err)
	}
	h.writeError(w, msg, err.Error(), status)
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter) {
	h.writeError(w, "Method not allowed", "", http.StatusMethodNotAllowed)
}

// extractPathParam returns the path remainder after prefix
func extractPathParam(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.TrimPrefix(path, prefix)
}
