package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTokenStream(t *testing.T) {
	frame := []byte(`{"event":"token_stream","data":{"node_id":"n1","agent_id":"a1","chunk":"Hello "}}`)

	ev, err := Decode(frame)
	require.NoError(t, err)

	ts, ok := ev.(TokenStream)
	require.True(t, ok, "expected TokenStream, got %T", ev)
	assert.Equal(t, "n1", ts.NodeID)
	assert.Equal(t, "a1", ts.AgentID)
	assert.Equal(t, "Hello ", ts.Chunk)
	assert.False(t, ts.IsThinking)
}

func TestDecodeNodeIDFallsBackToEnvelope(t *testing.T) {
	frame := []byte(`{"event":"node_state_change","node_id":"n2","data":{"status":"running"}}`)

	ev, err := Decode(frame)
	require.NoError(t, err)

	sc, ok := ev.(NodeStateChange)
	require.True(t, ok)
	assert.Equal(t, "n2", sc.NodeID)
	assert.Equal(t, NodeRunning, sc.Status)
}

func TestDecodeParallelStart(t *testing.T) {
	frame := []byte(`{"event":"node:parallel_start","data":{"node_id":"p1","branches":["a","b"]}}`)

	ev, err := Decode(frame)
	require.NoError(t, err)

	ps, ok := ev.(ParallelStart)
	require.True(t, ok)
	assert.Equal(t, "p1", ps.NodeID)
	assert.Equal(t, []string{"a", "b"}, ps.Branches)
}

func TestDecodeTokenUsage(t *testing.T) {
	frame := []byte(`{"event":"token_usage","data":{"node_id":"n1","agent_id":"a1","input_tokens":120,"output_tokens":80,"estimated_cost_usd":0.0042}}`)

	ev, err := Decode(frame)
	require.NoError(t, err)

	u, ok := ev.(TokenUsage)
	require.True(t, ok)
	assert.Equal(t, 200, u.TotalTokens())
	assert.InDelta(t, 0.0042, u.EstimatedCostUSD, 1e-9)
}

func TestDecodeLifecycleEvents(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"execution:paused"}`))
	require.NoError(t, err)
	assert.IsType(t, ExecutionPaused{}, ev)

	ev, err = Decode([]byte(`{"event":"execution:completed"}`))
	require.NoError(t, err)
	assert.IsType(t, ExecutionCompleted{}, ev)
}

func TestDecodeError(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"error","data":{"node_id":"n3","error":"agent timed out"}}`))
	require.NoError(t, err)

	ee, ok := ev.(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "n3", ee.NodeID)
	assert.Equal(t, "agent timed out", ee.Error)
}

func TestDecodeErrorWithoutNode(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"error","data":{"error":"broker unavailable"}}`))
	require.NoError(t, err)

	ee, ok := ev.(ErrorEvent)
	require.True(t, ok)
	assert.Empty(t, ee.NodeID)
}

func TestDecodeHumanReviewRequest(t *testing.T) {
	frame := []byte(`{"event":"human_review_request","data":{"request_id":"r1","node_id":"n4","prompt":"Approve the draft?","data":{"file":"report.md"}}}`)

	ev, err := Decode(frame)
	require.NoError(t, err)

	hr, ok := ev.(HumanReviewRequest)
	require.True(t, ok)
	assert.Equal(t, "r1", hr.RequestID)
	assert.Equal(t, "n4", hr.NodeID)
	assert.Equal(t, "report.md", hr.Data["file"])
}

func TestDecodeUnknownEventPreserved(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"server:experimental","data":{"x":1}}`))
	require.NoError(t, err)

	u, ok := ev.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "server:experimental", u.Kind())
}

func TestDecodeMalformedFrames(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"invalid json", `{"event":`},
		{"missing discriminant", `{"data":{"chunk":"x"}}`},
		{"payload type mismatch", `{"event":"token_usage","data":{"input_tokens":"many"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.frame))
			assert.Error(t, err)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	ts := ParseTimestamp("2026-02-11T10:30:00Z")
	assert.Equal(t, time.Date(2026, 2, 11, 10, 30, 0, 0, time.UTC), ts)

	assert.True(t, ParseTimestamp("").IsZero())
	assert.True(t, ParseTimestamp("not a time").IsZero())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, NodeCompleted.Terminal())
	assert.True(t, NodeFailed.Terminal())
	assert.False(t, NodeRunning.Terminal())
	assert.False(t, NodePending.Terminal())

	assert.True(t, SessionCancelled.Terminal())
	assert.False(t, SessionPaused.Terminal())
}
