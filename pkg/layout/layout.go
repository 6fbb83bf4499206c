// Package layout positions declarative workflow graphs for canvas
// rendering. Layered is a pure function: identical input always yields
// identical positions, which the run-graph projection relies on when a
// template is reloaded.
package layout

import (
	"github.com/councilhq/quorum/pkg/wire"
)

// Node is a positioned workflow node.
type Node struct {
	ID    string
	Label string
	Type  wire.NodeType
	X     float64
	Y     float64
}

// Edge is a directed connection between two positioned nodes.
type Edge struct {
	ID     string
	Source string
	Target string
}

// Result is the output of a layout pass.
type Result struct {
	Nodes []Node
	Edges []Edge
}

// Horizontal and vertical spacing between layers and siblings.
const (
	layerSpacing   = 240.0
	siblingSpacing = 120.0
)

// Layered assigns each node to a column by its longest-path depth from
// the graph's roots, then stacks nodes within a column in declaration
// order. Nodes unreachable from any root (e.g. members of a loop-only
// cycle) are placed one layer past the deepest reachable node, again
// in declaration order, so the pass stays total and deterministic.
func Layered(decl wire.GraphDecl) Result {
	out := Result{
		Nodes: make([]Node, 0, len(decl.Nodes)),
		Edges: make([]Edge, 0, len(decl.Edges)),
	}

	incoming := make(map[string]int, len(decl.Nodes))
	successors := make(map[string][]string, len(decl.Nodes))
	known := make(map[string]bool, len(decl.Nodes))
	for _, n := range decl.Nodes {
		known[n.ID] = true
	}
	for _, e := range decl.Edges {
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		incoming[e.Target]++
		successors[e.Source] = append(successors[e.Source], e.Target)
	}

	// Kahn-style pass in declaration order keeps ties deterministic.
	depth := make(map[string]int, len(decl.Nodes))
	var frontier []string
	for _, n := range decl.Nodes {
		if incoming[n.ID] == 0 {
			depth[n.ID] = 0
			frontier = append(frontier, n.ID)
		}
	}
	remaining := make(map[string]int, len(incoming))
	for id, c := range incoming {
		remaining[id] = c
	}
	placed := make(map[string]bool, len(decl.Nodes))
	maxDepth := 0
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		placed[id] = true
		for _, succ := range successors[id] {
			if d := depth[id] + 1; d > depth[succ] {
				depth[succ] = d
				if d > maxDepth {
					maxDepth = d
				}
			}
			remaining[succ]--
			if remaining[succ] == 0 {
				frontier = append(frontier, succ)
			}
		}
	}

	// Cycle members never reach zero remaining in-degree.
	for _, n := range decl.Nodes {
		if !placed[n.ID] {
			depth[n.ID] = maxDepth + 1
		}
	}

	rows := make(map[int]int)
	for _, n := range decl.Nodes {
		d := depth[n.ID]
		out.Nodes = append(out.Nodes, Node{
			ID:    n.ID,
			Label: n.Name,
			Type:  n.Type,
			X:     float64(d) * layerSpacing,
			Y:     float64(rows[d]) * siblingSpacing,
		})
		rows[d]++
	}

	for _, e := range decl.Edges {
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		out.Edges = append(out.Edges, Edge{
			ID:     e.Source + "->" + e.Target,
			Source: e.Source,
			Target: e.Target,
		})
	}
	return out
}
