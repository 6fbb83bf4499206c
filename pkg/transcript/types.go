// Package transcript maintains the chat-style projection of a running
// council session: message groups per executing node, streaming text
// assembly, token/cost accounting, and the session lifecycle status.
//
// The projection is one of two independent views over the same event
// stream (the other is pkg/rungraph). They are deliberately not
// unified: a parallel fan-out appears as a single transcript group but
// as N active nodes on the run graph.
package transcript

import (
	"time"

	"github.com/councilhq/quorum/pkg/wire"
)

// Role identifies the sender of a transcript message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Usage is the token/cost breakdown attached to a message.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Message is one bubble in the transcript. Content is mutable while
// Streaming is true (chunks concatenate in place) and immutable once
// finalized.
type Message struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Streaming bool      `json:"streaming"`
	Thinking  bool      `json:"thinking,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Usage     *Usage    `json:"usage,omitempty"`
}

// MessageGroup is the transcript's organizing unit: one per executing
// node, or one shared group per parallel fan-out point. Groups are
// appended in execution order and never reordered or removed, only
// mutated in place.
type MessageGroup struct {
	NodeID   string          `json:"node_id"`
	Name     string          `json:"name"`
	Type     wire.NodeType   `json:"type"`
	Parallel bool            `json:"parallel"`
	Status   wire.NodeStatus `json:"status"`
	Messages []*Message      `json:"messages"`
}

// NodeSnapshot is the session's per-node execution record.
type NodeSnapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        wire.NodeType   `json:"type"`
	Status      wire.NodeStatus `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Tokens      int             `json:"tokens,omitempty"`
}

// Session is one user-visible run of a workflow. It is the single
// long-lived aggregate of this projection: replaced wholesale by
// InitSession, never partially reconstructed.
type Session struct {
	ID          string             `json:"id"`
	WorkflowID  string             `json:"workflow_id"`
	GroupID     string             `json:"group_id"`
	Status      wire.SessionStatus `json:"status"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	// Nodes maps node id → snapshot; NodeOrder preserves declaration order.
	Nodes         map[string]*NodeSnapshot `json:"nodes"`
	NodeOrder     []string                 `json:"node_order"`
	ActiveNodeIDs []string                 `json:"active_node_ids"`
	TotalTokens   int                      `json:"total_tokens"`
	TotalCostUSD  float64                  `json:"total_cost_usd"`
}

// clone returns a deep copy safe to hand to readers.
func (s *Session) clone() Session {
	out := *s
	out.Nodes = make(map[string]*NodeSnapshot, len(s.Nodes))
	for id, snap := range s.Nodes {
		c := *snap
		if snap.StartedAt != nil {
			ts := *snap.StartedAt
			c.StartedAt = &ts
		}
		if snap.CompletedAt != nil {
			ts := *snap.CompletedAt
			c.CompletedAt = &ts
		}
		out.Nodes[id] = &c
	}
	out.NodeOrder = append([]string(nil), s.NodeOrder...)
	out.ActiveNodeIDs = append([]string(nil), s.ActiveNodeIDs...)
	if s.StartedAt != nil {
		ts := *s.StartedAt
		out.StartedAt = &ts
	}
	if s.CompletedAt != nil {
		ts := *s.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}

// clone returns a deep copy of the group and its messages.
func (g *MessageGroup) clone() *MessageGroup {
	out := *g
	out.Messages = make([]*Message, len(g.Messages))
	for i, m := range g.Messages {
		c := *m
		if m.Usage != nil {
			u := *m.Usage
			c.Usage = &u
		}
		out.Messages[i] = &c
	}
	return &out
}
