package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilhq/quorum/pkg/wire"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "debate.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "demo-session", s.SessionID)
	assert.Equal(t, "debate", s.WorkflowID)
	assert.Len(t, s.Graph.Nodes, 7)
	assert.Len(t, s.Graph.Edges, 7)
	require.NotEmpty(t, s.Steps)

	assert.Equal(t, 50*time.Millisecond, time.Duration(s.Steps[0].Delay))
	assert.Equal(t, "node_state_change", s.Steps[0].Event["event"])

	var sawReviewGate bool
	for _, step := range s.Steps {
		if step.WaitReview {
			sawReviewGate = true
		}
	}
	assert.True(t, sawReviewGate)
}

func TestLoadScenarioValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "missing session id",
			yaml: "graph:\n  nodes:\n    - id: a\n",
		},
		{
			name: "empty graph",
			yaml: "session_id: s\n",
		},
		{
			name: "duplicate node id",
			yaml: "session_id: s\ngraph:\n  nodes:\n    - id: a\n    - id: a\n",
		},
		{
			name: "dangling edge",
			yaml: "session_id: s\ngraph:\n  nodes:\n    - id: a\n  edges:\n    - source: a\n      target: ghost\n",
		},
		{
			name: "step without discriminant",
			yaml: "session_id: s\ngraph:\n  nodes:\n    - id: a\nsteps:\n  - event:\n      node_id: a\n",
		},
		{
			name: "bad delay",
			yaml: "session_id: s\ngraph:\n  nodes:\n    - id: a\nsteps:\n  - delay: soon\n    event:\n      event: token_stream\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "scenario.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o644))
			_, err := LoadScenario(path)
			assert.Error(t, err)
		})
	}
}

func TestWireGraphConversion(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "debate.yaml"))
	require.NoError(t, err)

	decl := s.WireGraph()
	require.Len(t, decl.Nodes, 7)
	assert.Equal(t, wire.TypeParallel, decl.Nodes[1].Type)
	assert.Equal(t, "start", decl.Edges[0].Source)
}

func TestStepFrameDecodes(t *testing.T) {
	step := Step{Event: map[string]any{
		"event":   "token_stream",
		"node_id": "pro",
		"data":    map[string]any{"agent_id": "pro", "chunk": "hi"},
	}}

	frame, err := step.Frame()
	require.NoError(t, err)

	ev, err := wire.Decode(frame)
	require.NoError(t, err)
	ts, ok := ev.(wire.TokenStream)
	require.True(t, ok)
	assert.Equal(t, "pro", ts.NodeID)
	assert.Equal(t, "hi", ts.Chunk)
}
