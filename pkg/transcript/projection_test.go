package transcript

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilhq/quorum/pkg/wire"
)

func analystSession() wire.SessionSnapshot {
	return wire.SessionSnapshot{
		SessionID:  "s1",
		WorkflowID: "w1",
		GroupID:    "g1",
		Nodes: []wire.NodeState{
			{NodeDecl: wire.NodeDecl{ID: "n1", Name: "Analyst", Type: wire.TypeAgent}},
		},
	}
}

func TestBasicChatTurn(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())

	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "Hello ", Streaming: true, Chunk: true})
	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "World!", Streaming: true, Chunk: true})

	groups := p.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, "n1", groups[0].NodeID)
	assert.Equal(t, "Analyst", groups[0].Name)
	require.Len(t, groups[0].Messages, 1)
	assert.Equal(t, "Hello World!", groups[0].Messages[0].Content)
	assert.True(t, groups[0].Messages[0].Streaming)
}

func TestStreamingConcatenationSingleMessagePerAgentRun(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())

	var want string
	for i := 0; i < 10; i++ {
		chunk := fmt.Sprintf("chunk-%d ", i)
		want += chunk
		p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: chunk, Streaming: true, Chunk: true})
	}

	group, ok := p.Group("n1")
	require.True(t, ok)
	require.Len(t, group.Messages, 1, "one streaming run must produce exactly one message")
	assert.Equal(t, want, group.Messages[0].Content)
}

func TestChunksDoNotBleedAcrossAgents(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())
	p.HandleParallelStart("p1", []string{"b1", "b2"})

	p.AppendMessage(AppendParams{NodeID: "b1", AgentID: "optimist", Role: RoleAgent, Content: "yes ", Streaming: true, Chunk: true})
	p.AppendMessage(AppendParams{NodeID: "b2", AgentID: "skeptic", Role: RoleAgent, Content: "no ", Streaming: true, Chunk: true})
	p.AppendMessage(AppendParams{NodeID: "b1", AgentID: "optimist", Role: RoleAgent, Content: "definitely", Streaming: true, Chunk: true})

	group, ok := p.Group("p1")
	require.True(t, ok)
	require.Len(t, group.Messages, 2)
	assert.Equal(t, "yes definitely", group.Messages[0].Content)
	assert.Equal(t, "no ", group.Messages[1].Content)
}

func TestThinkingChunksKeepTheirOwnMessage(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())

	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "mulling... ", Streaming: true, Chunk: true, Thinking: true})
	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "Answer: ", Streaming: true, Chunk: true})
	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "42", Streaming: true, Chunk: true})

	group, ok := p.Group("n1")
	require.True(t, ok)
	require.Len(t, group.Messages, 2)
	assert.True(t, group.Messages[0].Thinking)
	assert.Equal(t, "Answer: 42", group.Messages[1].Content)
}

func TestParallelBranchesFoldIntoParentGroup(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(wire.SessionSnapshot{
		SessionID: "s1",
		Nodes: []wire.NodeState{
			{NodeDecl: wire.NodeDecl{ID: "p1", Name: "Debate", Type: wire.TypeParallel}},
			{NodeDecl: wire.NodeDecl{ID: "a", Name: "Pro", Type: wire.TypeAgent}},
			{NodeDecl: wire.NodeDecl{ID: "b", Name: "Con", Type: wire.TypeAgent}},
		},
	})

	p.HandleParallelStart("p1", []string{"a", "b"})
	p.UpdateNodeStatus("a", wire.NodeRunning)
	p.UpdateNodeStatus("b", wire.NodeRunning)
	p.AppendMessage(AppendParams{NodeID: "a", AgentID: "pro", Role: RoleAgent, Content: "for", Streaming: true, Chunk: true})
	p.AppendMessage(AppendParams{NodeID: "b", AgentID: "con", Role: RoleAgent, Content: "against", Streaming: true, Chunk: true})
	p.UpdateTokenUsage(wire.TokenUsage{NodeID: "a", AgentID: "pro", InputTokens: 5, OutputTokens: 7, EstimatedCostUSD: 0.001})

	groups := p.Groups()
	require.Len(t, groups, 1, "branch traffic must not create top-level groups")
	group := groups[0]
	assert.Equal(t, "p1", group.NodeID)
	assert.True(t, group.Parallel)
	require.Len(t, group.Messages, 2)

	// Branch ids never get their own group, even after running events.
	_, ok := p.Group("a")
	assert.False(t, ok)
	_, ok = p.Group("b")
	assert.False(t, ok)

	parent, ok := p.ParallelParent("a")
	require.True(t, ok)
	assert.Equal(t, "p1", parent)

	sess := p.Session()
	assert.ElementsMatch(t, []string{"a", "b"}, sess.ActiveNodeIDs)
}

func TestBranchCompletionDoesNotFlipParentGroupStatus(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())
	p.HandleParallelStart("p1", []string{"a", "b"})

	p.UpdateNodeStatus("a", wire.NodeCompleted)

	group, ok := p.Group("p1")
	require.True(t, ok)
	assert.Equal(t, wire.NodeRunning, group.Status, "one finished branch must not complete the fan-out group")
}

func TestNodeLifecycleTimestamps(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())

	p.UpdateNodeStatus("n1", wire.NodeRunning)
	p.UpdateNodeStatus("n1", wire.NodeCompleted)

	sess := p.Session()
	snap := sess.Nodes["n1"]
	require.NotNil(t, snap)
	assert.Equal(t, wire.NodeCompleted, snap.Status)
	assert.NotNil(t, snap.StartedAt)
	assert.NotNil(t, snap.CompletedAt)
	assert.NotContains(t, sess.ActiveNodeIDs, "n1")
}

func TestTerminalNodeStatusFinalizesStreamingMessages(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())

	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "partial", Streaming: true, Chunk: true})
	p.UpdateNodeStatus("n1", wire.NodeFailed)

	group, ok := p.Group("n1")
	require.True(t, ok)
	require.Len(t, group.Messages, 1)
	assert.False(t, group.Messages[0].Streaming, "abandoned mid-stream message must be finalized")

	// A chunk arriving after forced finalization starts a new message.
	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "late", Streaming: true, Chunk: true})
	group, _ = p.Group("n1")
	require.Len(t, group.Messages, 2)
}

func TestUnseenRunningNodeCreatedDefensively(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())

	p.UpdateNodeStatus("ghost", wire.NodeRunning)

	sess := p.Session()
	require.Contains(t, sess.Nodes, "ghost")
	assert.Equal(t, wire.NodeRunning, sess.Nodes["ghost"].Status)
	assert.Contains(t, sess.ActiveNodeIDs, "ghost")
	_, ok := p.Group("ghost")
	assert.True(t, ok)
}

func TestTokenUsageAdditive(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(wire.SessionSnapshot{
		SessionID: "s1",
		Nodes: []wire.NodeState{
			{NodeDecl: wire.NodeDecl{ID: "n1", Name: "Analyst", Type: wire.TypeAgent}},
			{NodeDecl: wire.NodeDecl{ID: "n2", Name: "Critic", Type: wire.TypeAgent}},
		},
	})

	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "x", Streaming: true, Chunk: true})
	p.UpdateTokenUsage(wire.TokenUsage{NodeID: "n1", AgentID: "a1", InputTokens: 10, OutputTokens: 20, EstimatedCostUSD: 0.01})
	p.UpdateTokenUsage(wire.TokenUsage{NodeID: "n2", AgentID: "a2", InputTokens: 30, OutputTokens: 40, EstimatedCostUSD: 0.02})

	sess := p.Session()
	assert.InDelta(t, 0.03, sess.TotalCostUSD, 1e-9)
	assert.Equal(t, 100, sess.TotalTokens)
	assert.Equal(t, 30, sess.Nodes["n1"].Tokens)
	assert.Equal(t, 70, sess.Nodes["n2"].Tokens)

	group, _ := p.Group("n1")
	require.NotNil(t, group.Messages[0].Usage)
	assert.Equal(t, 10, group.Messages[0].Usage.InputTokens)
	assert.InDelta(t, 0.01, group.Messages[0].Usage.CostUSD, 1e-9)
}

func TestSessionStatusStateMachine(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())

	p.UpdateSessionStatus(wire.SessionRunning)
	started := p.Session().StartedAt
	require.NotNil(t, started)

	// paused ⇄ running cycles keep the original start timestamp.
	p.UpdateSessionStatus(wire.SessionPaused)
	p.UpdateSessionStatus(wire.SessionRunning)
	assert.Equal(t, *started, *p.Session().StartedAt)

	p.UpdateSessionStatus(wire.SessionFailed)
	sess := p.Session()
	assert.Equal(t, wire.SessionFailed, sess.Status)
	assert.NotNil(t, sess.CompletedAt)
}

func TestInitSessionReplacesWholesale(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())
	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "old", Streaming: true, Chunk: true})
	p.HandleParallelStart("p1", []string{"b1"})

	p.InitSession(wire.SessionSnapshot{
		SessionID: "s2",
		Status:    wire.SessionRunning,
		Nodes: []wire.NodeState{
			{NodeDecl: wire.NodeDecl{ID: "m1", Name: "Researcher", Type: wire.TypeAgent}, Status: wire.NodeRunning},
			{NodeDecl: wire.NodeDecl{ID: "m2", Name: "Writer", Type: wire.TypeAgent}},
		},
	})

	sess := p.Session()
	assert.Equal(t, "s2", sess.ID)
	assert.Equal(t, []string{"m1", "m2"}, sess.NodeOrder)
	assert.Equal(t, []string{"m1"}, sess.ActiveNodeIDs)

	// Already-running nodes are pre-seeded with groups (reconnect resume).
	groups := p.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, "m1", groups[0].NodeID)

	// Old parallel mapping is gone with the rest of the state.
	_, ok := p.ParallelParent("b1")
	assert.False(t, ok)
}

func TestClearResetsEverything(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())
	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "x", Streaming: true, Chunk: true})

	p.Clear()

	assert.Empty(t, p.Groups())
	sess := p.Session()
	assert.Empty(t, sess.ID)
	assert.Equal(t, wire.SessionIdle, sess.Status)
	assert.Zero(t, sess.TotalTokens)
}

func TestReadsReturnCopies(t *testing.T) {
	p := NewProjection(nil)
	p.InitSession(analystSession())
	p.AppendMessage(AppendParams{NodeID: "n1", AgentID: "a1", Role: RoleAgent, Content: "live", Streaming: true, Chunk: true})

	group, _ := p.Group("n1")
	group.Messages[0].Content = "tampered"
	sess := p.Session()
	sess.Nodes["n1"].Status = wire.NodeFailed

	fresh, _ := p.Group("n1")
	assert.Equal(t, "live", fresh.Messages[0].Content)
	assert.Equal(t, wire.NodePending, p.Session().Nodes["n1"].Status)
}
