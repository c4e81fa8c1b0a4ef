package domain

import "time"

// LinkState represents the traffic state of a link
type LinkState string

const (
	LinkStateActive LinkState = "active"
	LinkStateIdle   LinkState = "idle"
	LinkStateDown   LinkState = "down"
)

// ParseLinkState validates a state string from the API
func ParseLinkState(s string) (LinkState, error) {
	switch LinkState(s) {
	case LinkStateActive, LinkStateIdle, LinkStateDown:
		return LinkState(s), nil
	}
	return "", Validationf("unknown link state %q", s)
}

// Link represents a connection between two nodes in the topology
type Link struct {
	ID              string         `json:"id"`
	Source          string         `json:"source"`
	Target          string         `json:"target"`
	SourceInterface string         `json:"source_interface,omitempty"`
	TargetInterface string         `json:"target_interface,omitempty"`
	State           LinkState      `json:"state"`
	Metrics         Metrics        `json:"metrics"`
	SpeedMbps       int            `json:"speed_mbps,omitempty"`
	MTU             int            `json:"mtu,omitempty"`
	LastUpdated     time.Time      `json:"last_updated"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// NewLink creates a link in the idle state with default MTU
func NewLink(id, source, target, sourceIface, targetIface string) *Link {
	return &Link{
		ID:              id,
		Source:          source,
		Target:          target,
		SourceInterface: sourceIface,
		TargetInterface: targetIface,
		State:           LinkStateIdle,
		MTU:             1500,
		LastUpdated:     time.Now(),
	}
}

// Validate checks that the link is well-formed
func (l *Link) Validate() error {
	if l.ID == "" {
		return Validationf("link id is required")
	}
	if l.Source == "" {
		return Validationf("link source is required")
	}
	if l.Target == "" {
		return Validationf("link target is required")
	}
	if l.Source == l.Target {
		return Validationf("link endpoints must differ")
	}
	if l.SpeedMbps < 0 {
		return Validationf("link speed must not be negative")
	}
	if l.MTU < 0 {
		return Validationf("link mtu must not be negative")
	}
	if l.State != "" {
		if _, err := ParseLinkState(string(l.State)); err != nil {
			return err
		}
	}
	return nil
}
