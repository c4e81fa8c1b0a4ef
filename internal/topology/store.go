package topology

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"linkwatch/internal/domain"
	"linkwatch/internal/metrics"
)

// Publisher receives events emitted by store mutations
type Publisher interface {
	Publish(domain.Event)
}

// linkRecord guards one link. All mutation of the embedded link happens
// under mu, so concurrent upserts and state overrides for the same link
// are all-or-nothing with respect to machine evaluation and event
// emission. Unrelated links never contend.
type linkRecord struct {
	mu   sync.Mutex
	link domain.Link

	// lastTraffic is when the link last carried traffic. The idle sweep
	// consults this rather than last_updated: zero-rate samples refresh
	// last_updated but must not defer the idle timeout.
	lastTraffic time.Time
}

// Store is the authoritative registry of nodes and links. It exclusively
// owns the records; everything else reads snapshots and mutates through
// the operations below.
type Store struct {
	mu          sync.RWMutex
	nodes       map[string]*domain.Node
	links       map[string]*linkRecord
	ifaceToLink map[string]string

	bus         Publisher
	idleTimeout time.Duration
	startedAt   time.Time
}

// NewStore creates an empty store publishing to bus
func NewStore(bus Publisher, idleTimeout time.Duration) *Store {
	return &Store{
		nodes:       make(map[string]*domain.Node),
		links:       make(map[string]*linkRecord),
		ifaceToLink: make(map[string]string),
		bus:         bus,
		idleTimeout: idleTimeout,
		startedAt:   time.Now(),
	}
}

// IdleTimeout returns the configured silence duration before an active
// link is demoted to idle
func (s *Store) IdleTimeout() time.Duration {
	return s.idleTimeout
}

// AddNode registers a new node
func (s *Store) AddNode(node *domain.Node) error {
	if node.Type == "" {
		node.Type = domain.NodeTypeRouter
	}
	if node.Status == "" {
		node.Status = domain.NodeStatusUnknown
	}
	if err := node.Validate(); err != nil {
		return err
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}

	s.mu.Lock()
	if _, exists := s.nodes[node.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("node %s: %w", node.ID, domain.ErrDuplicateID)
	}
	stored := *node
	s.nodes[node.ID] = &stored
	s.mu.Unlock()

	ev := domain.NewEvent(domain.EventNodeAdded)
	ev.NodeID = node.ID
	s.bus.Publish(ev)
	return nil
}

// RemoveNode deletes a node. Deletion is rejected while any link still
// references the node; callers must remove the links first.
func (s *Store) RemoveNode(nodeID string) error {
	s.mu.Lock()
	if _, exists := s.nodes[nodeID]; !exists {
		s.mu.Unlock()
		return fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	for _, rec := range s.links {
		if rec.link.Source == nodeID || rec.link.Target == nodeID {
			s.mu.Unlock()
			return fmt.Errorf("node %s: %w", nodeID, domain.ErrNodeInUse)
		}
	}
	delete(s.nodes, nodeID)
	s.mu.Unlock()

	ev := domain.NewEvent(domain.EventNodeRemoved)
	ev.NodeID = nodeID
	s.bus.Publish(ev)
	return nil
}

// AddLink registers a new link. Both endpoints must already exist.
func (s *Store) AddLink(link *domain.Link) error {
	if err := link.Validate(); err != nil {
		return err
	}
	if link.State == "" {
		link.State = domain.LinkStateIdle
	}
	if link.MTU == 0 {
		link.MTU = 1500
	}
	if link.LastUpdated.IsZero() {
		link.LastUpdated = time.Now()
	}
	link.Metrics.Clamp()

	s.mu.Lock()
	if _, exists := s.links[link.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("link %s: %w", link.ID, domain.ErrDuplicateID)
	}
	if _, ok := s.nodes[link.Source]; !ok {
		s.mu.Unlock()
		return domain.Validationf("source node %q does not exist", link.Source)
	}
	if _, ok := s.nodes[link.Target]; !ok {
		s.mu.Unlock()
		return domain.Validationf("target node %q does not exist", link.Target)
	}
	rec := &linkRecord{link: *link}
	s.links[link.ID] = rec
	if link.SourceInterface != "" {
		s.ifaceToLink[link.SourceInterface] = link.ID
	}
	if link.TargetInterface != "" {
		s.ifaceToLink[link.TargetInterface] = link.ID
	}
	s.mu.Unlock()

	metrics.LinksByState.WithLabelValues(string(link.State)).Inc()

	ev := domain.NewEvent(domain.EventLinkAdded)
	ev.LinkID = link.ID
	ev.NewState = link.State
	s.bus.Publish(ev)
	return nil
}

// RemoveLink deletes a link
func (s *Store) RemoveLink(linkID string) error {
	s.mu.Lock()
	rec, exists := s.links[linkID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("link %s: %w", linkID, domain.ErrNotFound)
	}
	delete(s.links, linkID)
	if s.ifaceToLink[rec.link.SourceInterface] == linkID {
		delete(s.ifaceToLink, rec.link.SourceInterface)
	}
	if s.ifaceToLink[rec.link.TargetInterface] == linkID {
		delete(s.ifaceToLink, rec.link.TargetInterface)
	}
	s.mu.Unlock()

	metrics.LinksByState.WithLabelValues(string(rec.link.State)).Dec()

	ev := domain.NewEvent(domain.EventLinkRemoved)
	ev.LinkID = linkID
	s.bus.Publish(ev)
	return nil
}

// UpsertMetrics stores fresh metrics for a link, feeds the state machine
// and emits events, all under the link's own lock: one metrics_update
// always, plus one link_state_change when the traffic trigger moved the
// state.
func (s *Store) UpsertMetrics(linkID string, m domain.Metrics, ts time.Time, source string) error {
	rec, err := s.record(linkID)
	if err != nil {
		return err
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	m.Clamp()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.link.Metrics = m
	if ts.After(rec.link.LastUpdated) {
		rec.link.LastUpdated = ts
	}

	var stateEv *domain.Event
	if m.HasTraffic() {
		if ts.After(rec.lastTraffic) {
			rec.lastTraffic = ts
		}
		if next, changed := Apply(rec.link.State, TriggerTraffic); changed {
			ev := s.transition(rec, next, &m, source)
			stateEv = &ev
		}
	}

	s.bus.Publish(domain.MetricsUpdateEvent(linkID, m, source))
	if stateEv != nil {
		s.bus.Publish(*stateEv)
	}
	return nil
}

// SetState applies an explicit state override through the machine's emit
// contract. Overlapping overrides resolve by timestamp: an override older
// than the link's last_updated loses and is ignored.
func (s *Store) SetState(linkID string, state domain.LinkState, ts time.Time, source string) error {
	if _, err := domain.ParseLinkState(string(state)); err != nil {
		return err
	}
	rec, err := s.record(linkID)
	if err != nil {
		return err
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if ts.Before(rec.link.LastUpdated) {
		log.Printf("Ignoring stale state override for %s (ts=%s, last_updated=%s)",
			linkID, ts.Format(time.RFC3339Nano), rec.link.LastUpdated.Format(time.RFC3339Nano))
		return nil
	}
	rec.link.LastUpdated = ts

	if rec.link.State == state {
		return nil
	}
	if state == domain.LinkStateActive {
		// A forced activation gets a full timeout window.
		rec.lastTraffic = ts
	}
	ev := s.transition(rec, state, nil, source)
	s.bus.Publish(ev)
	return nil
}

// ApplySignal feeds an explicit up/down interface signal into the machine
func (s *Store) ApplySignal(linkID string, trigger Trigger, ts time.Time, source string) error {
	rec, err := s.record(linkID)
	if err != nil {
		return err
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if ts.After(rec.link.LastUpdated) {
		rec.link.LastUpdated = ts
	}
	if next, changed := Apply(rec.link.State, trigger); changed {
		ev := s.transition(rec, next, nil, source)
		s.bus.Publish(ev)
	}
	return nil
}

// SweepIdle demotes links that have carried no traffic for the idle
// timeout. The decision consults traffic recency rather than arrival
// order, so a delayed-but-recent traffic observation suppresses a stale
// timeout while continuous zero-rate polling does not. Returns the
// number of links demoted.
func (s *Store) SweepIdle(now time.Time) int {
	s.mu.RLock()
	records := make([]*linkRecord, 0, len(s.links))
	for _, rec := range s.links {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	demoted := 0
	for _, rec := range records {
		rec.mu.Lock()
		if rec.link.State == domain.LinkStateActive && now.Sub(rec.lastTraffic) >= s.idleTimeout {
			if next, changed := Apply(rec.link.State, TriggerSilence); changed {
				rec.link.LastUpdated = now
				ev := s.transition(rec, next, nil, "sweeper")
				s.bus.Publish(ev)
				demoted++
			}
		}
		rec.mu.Unlock()
	}
	return demoted
}

// transition moves a record to next and returns the state-change event.
// Caller holds rec.mu.
func (s *Store) transition(rec *linkRecord, next domain.LinkState, m *domain.Metrics, source string) domain.Event {
	old := rec.link.State
	rec.link.State = next

	metrics.LinksByState.WithLabelValues(string(old)).Dec()
	metrics.LinksByState.WithLabelValues(string(next)).Inc()
	metrics.StateTransitions.WithLabelValues(string(old), string(next)).Inc()

	log.Printf("Link %s state changed: %s -> %s (source=%s)", rec.link.ID, old, next, source)
	return domain.StateChangeEvent(rec.link.ID, old, next, m, source)
}

func (s *Store) record(linkID string) (*linkRecord, error) {
	s.mu.RLock()
	rec, ok := s.links[linkID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("link %s: %w", linkID, domain.ErrNotFound)
	}
	return rec, nil
}

// Node returns a snapshot of a single node
func (s *Store) Node(nodeID string) (domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[nodeID]
	if !ok {
		return domain.Node{}, fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	return *node, nil
}

// Link returns a snapshot of a single link
func (s *Store) Link(linkID string) (domain.Link, error) {
	rec, err := s.record(linkID)
	if err != nil {
		return domain.Link{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.link, nil
}

// LinkByInterface resolves an interface name to its link snapshot
func (s *Store) LinkByInterface(iface string) (domain.Link, bool) {
	s.mu.RLock()
	linkID, ok := s.ifaceToLink[iface]
	s.mu.RUnlock()
	if !ok {
		return domain.Link{}, false
	}
	link, err := s.Link(linkID)
	if err != nil {
		return domain.Link{}, false
	}
	return link, true
}

// Links returns snapshots of all links, optionally filtered by state,
// sorted by id for stable output
func (s *Store) Links(state domain.LinkState) []domain.Link {
	s.mu.RLock()
	records := make([]*linkRecord, 0, len(s.links))
	for _, rec := range s.links {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	links := make([]domain.Link, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		link := rec.link
		rec.mu.Unlock()
		if state != "" && link.State != state {
			continue
		}
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	return links
}

// Topology returns a point-in-time snapshot of all nodes and links
func (s *Store) Topology() ([]domain.Node, []domain.Link) {
	s.mu.RLock()
	nodes := make([]domain.Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		nodes = append(nodes, *node)
	}
	s.mu.RUnlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return nodes, s.Links("")
}

// Stats summarizes the store for health reporting
type Stats struct {
	NodeCount     int            `json:"node_count"`
	LinkCount     int            `json:"link_count"`
	LinkStates    map[string]int `json:"link_states"`
	UptimeSeconds float64        `json:"uptime_seconds"`
}

// Stats returns store counters
func (s *Store) Stats() Stats {
	links := s.Links("")
	states := make(map[string]int)
	for _, link := range links {
		states[string(link.State)]++
	}
	s.mu.RLock()
	nodeCount := len(s.nodes)
	s.mu.RUnlock()
	return Stats{
		NodeCount:     nodeCount,
		LinkCount:     len(links),
		LinkStates:    states,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
}
