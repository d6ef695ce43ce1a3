// Package topology drives Connect calls across a set of freshly built Nodes
// in a handful of fixed wiring patterns (spec.md §4, C7), adapted from
// original_source/src/topology.rs's spawn_nodes helper.
package topology

import (
	"context"
	"fmt"

	"github.com/nspcc-dev/peerkit/pkg/config"
	"github.com/nspcc-dev/peerkit/pkg/network"
)

// Topology names how a set of Nodes should be connected to each other.
type Topology int

const (
	// None leaves every node unconnected.
	None Topology = iota
	// Line connects a -> b -> c ...
	Line
	// Ring connects a -> b -> c -> ... -> a
	Ring
	// Mesh connects every node to every other node.
	Mesh
	// Star connects the first node to every other node.
	Star
)

func (t Topology) String() string {
	switch t {
	case None:
		return "none"
	case Line:
		return "line"
	case Ring:
		return "ring"
	case Mesh:
		return "mesh"
	case Star:
		return "star"
	default:
		return "unknown"
	}
}

// SpawnNodes builds count Nodes from cfg (each given a distinct generated
// Name and a random listening port, via network.NewMultiple) and wires them
// together per topo. Every Node returned has already had Start called.
func SpawnNodes(cfg config.Config, count int, topo Topology) ([]*network.Node, error) {
	if count <= 0 {
		return nil, fmt.Errorf("topology: count must be positive, got %d", count)
	}

	nodes, err := network.NewMultiple(count, cfg)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		n.Start()
	}

	if err := ConnectNodes(context.Background(), nodes, topo); err != nil {
		return nodes, err
	}
	return nodes, nil
}

// ConnectNodes drives Connect calls across an already-built set of nodes
// according to topo. Nodes are expected to already be running (Start
// called); this only dials, it never constructs or starts anything.
func ConnectNodes(ctx context.Context, nodes []*network.Node, topo Topology) error {
	n := len(nodes)
	switch topo {
	case None:
		return nil

	case Line, Ring:
		for i := 0; i < n-1; i++ {
			if err := nodes[i].Connect(ctx, nodes[i+1].ListeningAddr()); err != nil {
				return fmt.Errorf("topology: connecting node %d to %d: %w", i, i+1, err)
			}
		}
		if topo == Ring && n > 1 {
			if err := nodes[n-1].Connect(ctx, nodes[0].ListeningAddr()); err != nil {
				return fmt.Errorf("topology: closing ring at node %d: %w", n-1, err)
			}
		}

	case Mesh:
		for i := 0; i < n; i++ {
			for j, peer := range nodes {
				if i == j {
					continue
				}
				if err := nodes[i].Connect(ctx, peer.ListeningAddr()); err != nil {
					return fmt.Errorf("topology: connecting node %d to %d: %w", i, j, err)
				}
			}
		}

	case Star:
		for i := 1; i < n; i++ {
			if err := nodes[0].Connect(ctx, nodes[i].ListeningAddr()); err != nil {
				return fmt.Errorf("topology: connecting hub to node %d: %w", i, err)
			}
		}

	default:
		return fmt.Errorf("topology: unknown topology %v", topo)
	}
	return nil
}
