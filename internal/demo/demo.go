// Package demo seeds a small fixed topology for demos and local
// development, enabled with DEMO_MODE=true.
package demo

import (
	"fmt"
	"log"

	"linkwatch/internal/domain"
	"linkwatch/internal/topology"
)

// Seed populates the store with four nodes and four links
func Seed(store *topology.Store) error {
	nodes := []*domain.Node{
		{ID: "router1", Label: "R1", Type: domain.NodeTypeRouter, Status: domain.NodeStatusUp, Platform: "srlinux"},
		{ID: "router2", Label: "R2", Type: domain.NodeTypeRouter, Status: domain.NodeStatusUp, Platform: "ceos"},
		{ID: "router3", Label: "R3", Type: domain.NodeTypeRouter, Status: domain.NodeStatusUp, Platform: "frr"},
		{ID: "switch1", Label: "SW1", Type: domain.NodeTypeSwitch, Status: domain.NodeStatusUp},
	}
	links := []*domain.Link{
		{ID: "link1", Source: "router1", Target: "router2",
			SourceInterface: "ethernet-1/1", TargetInterface: "Ethernet1", SpeedMbps: 10000},
		{ID: "link2", Source: "router2", Target: "router3",
			SourceInterface: "Ethernet2", TargetInterface: "eth0", SpeedMbps: 1000},
		{ID: "link3", Source: "router3", Target: "switch1",
			SourceInterface: "eth1", TargetInterface: "eth1", SpeedMbps: 1000},
		{ID: "link4", Source: "switch1", Target: "router1",
			SourceInterface: "eth2", TargetInterface: "ethernet-1/2", SpeedMbps: 10000},
	}

	for _, node := range nodes {
		if err := store.AddNode(node); err != nil {
			return fmt.Errorf("seed node %s: %w", node.ID, err)
		}
	}
	for _, link := range links {
		if err := store.AddLink(link); err != nil {
			return fmt.Errorf("seed link %s: %w", link.ID, err)
		}
	}

	log.Printf("Demo topology initialized: %d nodes, %d links", len(nodes), len(links))
	return nil
}
