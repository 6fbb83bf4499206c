// Package wire defines the JSON contract between the council
// orchestration server and this client.
//
// ════════════════════════════════════════════════════════════════
// Streaming Event Lifecycle
// ════════════════════════════════════════════════════════════════
//
// The server pushes one JSON object per WebSocket frame. Every frame
// carries an "event" discriminant and a "data" payload. Node output
// follows a streaming pattern:
//
//	node_state_change   {status: "running"}
//	token_stream        {chunk: "..."}  (repeated, high frequency)
//	token_usage         {input_tokens, output_tokens, estimated_cost_usd}
//	node_state_change   {status: "completed"}
//
// Chunks for the same (node_id, agent_id) pair concatenate into one
// message. A terminal node status forcibly finalizes any message that
// is still streaming for that node — chunks arriving afterwards start
// a new message rather than mutating a finalized one.
//
// Parallel fan-out declares its branches up front:
//
//	node:parallel_start {node_id: "P", branches: ["A", "B"]}
//
// after which all traffic for A and B belongs to P's transcript group,
// while the run graph tracks A and B as independently active nodes.
//
// Frames are decoded into a closed set of variants at the transport
// boundary (see Decode); consumers never inspect raw payload maps.
// ════════════════════════════════════════════════════════════════
package wire

// Inbound event discriminants (server → client).
const (
	EventTokenStream        = "token_stream"
	EventNodeStateChange    = "node_state_change"
	EventParallelStart      = "node:parallel_start"
	EventTokenUsage         = "token_usage"
	EventExecutionPaused    = "execution:paused"
	EventExecutionCompleted = "execution:completed"
	EventHumanReviewRequest = "human_review_request"
	EventError              = "error"
)

// Outbound command verbs (client → server, same channel).
const (
	CmdUserInput     = "user_input"
	CmdStartSession  = "start_session"
	CmdPauseSession  = "pause_session"
	CmdResumeSession = "resume_session"
)

// NodeStatus is the execution status of a single workflow node.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s NodeStatus) Terminal() bool {
	return s == NodeCompleted || s == NodeFailed
}

// SessionStatus is the lifecycle status of a whole session:
// idle → running → {paused ⇄ running} → {completed | failed | cancelled}.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the session reached a final state.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// ExecutionStatus is the run-graph-level execution status.
type ExecutionStatus string

const (
	ExecIdle      ExecutionStatus = "idle"
	ExecRunning   ExecutionStatus = "running"
	ExecPaused    ExecutionStatus = "paused"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
)

// NodeType tags the kind of a workflow node.
type NodeType string

const (
	TypeStart       NodeType = "start"
	TypeAgent       NodeType = "agent"
	TypeParallel    NodeType = "parallel"
	TypeSequence    NodeType = "sequence"
	TypeVote        NodeType = "vote"
	TypeLoop        NodeType = "loop"
	TypeFactCheck   NodeType = "fact_check"
	TypeHumanReview NodeType = "human_review"
	TypeEnd         NodeType = "end"
)

// Command is a client → server frame sent over the streaming channel.
type Command struct {
	Cmd  string `json:"cmd"`
	Data any    `json:"data,omitempty"`
}

// NodeDecl is one node of a declarative workflow graph.
type NodeDecl struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type NodeType `json:"type"`
}

// EdgeDecl is one directed edge of a declarative workflow graph.
type EdgeDecl struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// GraphDecl is the declarative node/edge description embedded in
// workflow templates. Positioning is a client concern (pkg/layout).
type GraphDecl struct {
	Nodes []NodeDecl `json:"nodes"`
	Edges []EdgeDecl `json:"edges"`
}

// NodeState is the per-node slice of a SessionSnapshot.
type NodeState struct {
	NodeDecl
	Status NodeStatus `json:"status,omitempty"`
}

// SessionSnapshot is the server's full view of a session, fetched over
// REST. It seeds the transcript projection on session start and again
// after a reconnect, so the client resumes mid-run without a blank UI.
type SessionSnapshot struct {
	SessionID     string        `json:"session_id"`
	WorkflowID    string        `json:"workflow_id"`
	GroupID       string        `json:"group_id"`
	Status        SessionStatus `json:"status"`
	Nodes         []NodeState   `json:"nodes"`
	ActiveNodeIDs []string      `json:"active_node_ids,omitempty"`
}
