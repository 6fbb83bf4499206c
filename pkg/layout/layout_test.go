package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilhq/quorum/pkg/wire"
)

func councilGraph() wire.GraphDecl {
	return wire.GraphDecl{
		Nodes: []wire.NodeDecl{
			{ID: "start", Name: "Start", Type: wire.TypeStart},
			{ID: "fan", Name: "Debate", Type: wire.TypeParallel},
			{ID: "pro", Name: "Pro", Type: wire.TypeAgent},
			{ID: "con", Name: "Con", Type: wire.TypeAgent},
			{ID: "vote", Name: "Vote", Type: wire.TypeVote},
			{ID: "end", Name: "End", Type: wire.TypeEnd},
		},
		Edges: []wire.EdgeDecl{
			{Source: "start", Target: "fan"},
			{Source: "fan", Target: "pro"},
			{Source: "fan", Target: "con"},
			{Source: "pro", Target: "vote"},
			{Source: "con", Target: "vote"},
			{Source: "vote", Target: "end"},
		},
	}
}

func nodeByID(t *testing.T, r Result, id string) Node {
	t.Helper()
	for _, n := range r.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s not in layout", id)
	return Node{}
}

func TestLayeredDepths(t *testing.T) {
	r := Layered(councilGraph())
	require.Len(t, r.Nodes, 6)
	require.Len(t, r.Edges, 6)

	assert.Equal(t, 0.0, nodeByID(t, r, "start").X)
	assert.Less(t, nodeByID(t, r, "fan").X, nodeByID(t, r, "pro").X)
	assert.Equal(t, nodeByID(t, r, "pro").X, nodeByID(t, r, "con").X, "siblings share a layer")
	assert.NotEqual(t, nodeByID(t, r, "pro").Y, nodeByID(t, r, "con").Y, "siblings must not overlap")
	assert.Greater(t, nodeByID(t, r, "end").X, nodeByID(t, r, "vote").X)
}

func TestLayeredDeterministic(t *testing.T) {
	a := Layered(councilGraph())
	b := Layered(councilGraph())
	assert.Equal(t, a, b)
}

func TestLayeredHandlesCycle(t *testing.T) {
	decl := wire.GraphDecl{
		Nodes: []wire.NodeDecl{
			{ID: "start", Name: "Start", Type: wire.TypeStart},
			{ID: "loop1", Name: "Draft", Type: wire.TypeLoop},
			{ID: "loop2", Name: "Review", Type: wire.TypeLoop},
		},
		Edges: []wire.EdgeDecl{
			{Source: "start", Target: "loop1"},
			{Source: "loop1", Target: "loop2"},
			{Source: "loop2", Target: "loop1"},
		},
	}

	r := Layered(decl)
	require.Len(t, r.Nodes, 3, "cycle members still get positions")
	assert.Equal(t, r, Layered(decl))
}

func TestLayeredIgnoresDanglingEdges(t *testing.T) {
	decl := wire.GraphDecl{
		Nodes: []wire.NodeDecl{{ID: "only", Name: "Only", Type: wire.TypeAgent}},
		Edges: []wire.EdgeDecl{{Source: "only", Target: "missing"}},
	}

	r := Layered(decl)
	assert.Len(t, r.Nodes, 1)
	assert.Empty(t, r.Edges)
}
