package domain

import "time"

// NodeType represents the type of network node
type NodeType string

const (
	NodeTypeRouter  NodeType = "router"
	NodeTypeSwitch  NodeType = "switch"
	NodeTypeHost    NodeType = "host"
	NodeTypeUnknown NodeType = "unknown"
)

// NodeStatus represents the operational status of a node
type NodeStatus string

const (
	NodeStatusUp      NodeStatus = "up"
	NodeStatusDown    NodeStatus = "down"
	NodeStatusUnknown NodeStatus = "unknown"
)

// Node represents a network device in the topology
type Node struct {
	ID        string         `json:"id"`
	Label     string         `json:"label"`
	Type      NodeType       `json:"type"`
	Status    NodeStatus     `json:"status"`
	Platform  string         `json:"platform,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewNode creates a new node with initialized metadata
func NewNode(id string, nodeType NodeType, label string) *Node {
	return &Node{
		ID:        id,
		Label:     label,
		Type:      nodeType,
		Status:    NodeStatusUnknown,
		Metadata:  make(map[string]any),
		CreatedAt: time.Now(),
	}
}

// Validate checks that the node is well-formed
func (n *Node) Validate() error {
	if n.ID == "" {
		return Validationf("node id is required")
	}
	if n.Label == "" {
		return Validationf("node label is required")
	}
	switch n.Type {
	case NodeTypeRouter, NodeTypeSwitch, NodeTypeHost, NodeTypeUnknown:
	case "":
		return Validationf("node type is required")
	default:
		return Validationf("unknown node type %q", n.Type)
	}
	switch n.Status {
	case NodeStatusUp, NodeStatusDown, NodeStatusUnknown, "":
	default:
		return Validationf("unknown node status %q", n.Status)
	}
	return nil
}

// SetMetadata sets a metadata value
func (n *Node) SetMetadata(key string, value any) {
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	n.Metadata[key] = value
}
