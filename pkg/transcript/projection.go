package transcript

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/councilhq/quorum/pkg/wire"
)

// Projection folds routed events into the transcript view model. All
// mutations run under one mutex; reads return deep copies so UI code
// never aliases live state.
type Projection struct {
	logger *slog.Logger

	mu             sync.RWMutex
	session        *Session
	groups         []*MessageGroup
	groupIndex     map[string]*MessageGroup
	parallelParent map[string]string // branch node id → fan-out node id
	now            func() time.Time
	newID          func() string
}

// NewProjection creates an empty transcript projection.
func NewProjection(logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Projection{logger: logger, now: time.Now, newID: func() string { return uuid.New().String() }}
	p.resetLocked()
	return p
}

// InitSession replaces the entire projection state from a server
// snapshot. Nodes already running are pre-seeded with message groups
// and the active set, so a reconnecting client resumes mid-run without
// a blank transcript.
func (p *Projection) InitSession(snap wire.SessionSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()

	status := snap.Status
	if status == "" {
		status = wire.SessionIdle
	}
	p.session = &Session{
		ID:         snap.SessionID,
		WorkflowID: snap.WorkflowID,
		GroupID:    snap.GroupID,
		Status:     status,
		Nodes:      make(map[string]*NodeSnapshot, len(snap.Nodes)),
	}
	if status == wire.SessionRunning {
		now := p.now()
		p.session.StartedAt = &now
	}

	for _, n := range snap.Nodes {
		nodeStatus := n.Status
		if nodeStatus == "" {
			nodeStatus = wire.NodePending
		}
		p.session.Nodes[n.ID] = &NodeSnapshot{
			ID:     n.ID,
			Name:   n.Name,
			Type:   n.Type,
			Status: nodeStatus,
		}
		p.session.NodeOrder = append(p.session.NodeOrder, n.ID)
		if nodeStatus == wire.NodeRunning {
			p.ensureGroupLocked(n.ID)
			p.addActiveLocked(n.ID)
		}
	}

	if len(snap.ActiveNodeIDs) > 0 {
		p.session.ActiveNodeIDs = append([]string(nil), snap.ActiveNodeIDs...)
	}
}

// UpdateSessionStatus applies a session lifecycle transition. The
// first transition to running records the start timestamp (idempotent);
// every terminal transition overwrites the completion timestamp, so a
// "failed after paused" flow keeps the last terminal time.
func (p *Projection) UpdateSessionStatus(status wire.SessionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.sessionLocked()
	s.Status = status
	switch {
	case status == wire.SessionRunning && s.StartedAt == nil:
		now := p.now()
		s.StartedAt = &now
	case status.Terminal():
		now := p.now()
		s.CompletedAt = &now
	}
}

// UpdateNodeStatus applies a node status transition: snapshot status
// and timestamps, active set membership, group status mirror, and
// forced finalization of streaming messages on a terminal status.
//
// A status event for an unseen node id creates the snapshot on the fly
// (recovery from a late join or an out-of-order initial snapshot)
// instead of dropping the event; running additionally creates the
// message group.
func (p *Projection) UpdateNodeStatus(nodeID string, status wire.NodeStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.sessionLocked()
	snap, ok := s.Nodes[nodeID]
	if !ok {
		p.logger.Debug("Status event for undeclared node, creating snapshot", "node_id", nodeID, "status", status)
		snap = &NodeSnapshot{ID: nodeID, Name: nodeID, Type: wire.TypeAgent, Status: wire.NodePending}
		s.Nodes[nodeID] = snap
		s.NodeOrder = append(s.NodeOrder, nodeID)
	}

	snap.Status = status
	switch {
	case status == wire.NodeRunning:
		if snap.StartedAt == nil {
			now := p.now()
			snap.StartedAt = &now
		}
		if _, branch := p.parallelParent[nodeID]; !branch {
			p.ensureGroupLocked(nodeID)
		}
		p.addActiveLocked(nodeID)
	case status.Terminal():
		now := p.now()
		snap.CompletedAt = &now
		p.removeActiveLocked(nodeID)
		p.finalizeLocked(nodeID, "")
	}

	// Mirror onto the group only when the node owns one — a parallel
	// branch must not flip its parent group's status.
	if g, ok := p.groupIndex[nodeID]; ok {
		g.Status = status
	}
}

// SetActiveNodes replaces the active node id set.
func (p *Projection) SetActiveNodes(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionLocked().ActiveNodeIDs = append([]string(nil), ids...)
}

// AppendParams describes one inbound message or streaming chunk.
type AppendParams struct {
	NodeID    string
	AgentID   string
	AgentName string
	Avatar    string
	Role      Role
	Content   string
	Streaming bool
	// Chunk marks Content as an incremental continuation: it
	// concatenates into an existing streaming message from the same
	// agent instead of starting a new bubble.
	Chunk    bool
	Thinking bool
}

// AppendMessage routes one message (or chunk) into its group. Traffic
// for a registered parallel branch folds into the fan-out node's
// group; that check runs before the create-group-if-absent fallback.
//
// A chunk concatenates only into an existing message from the same
// agent that is still streaming (and of the same thinking-ness), which
// prevents cross-agent chunk bleed inside parallel groups. Anything
// else starts a new message.
func (p *Projection) AppendMessage(params AppendParams) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessionLocked()
	group := p.ensureGroupLocked(p.resolveGroupIDLocked(params.NodeID))

	if params.Chunk {
		for i := len(group.Messages) - 1; i >= 0; i-- {
			m := group.Messages[i]
			if m.NodeID == params.NodeID && m.AgentID == params.AgentID &&
				m.Streaming && m.Thinking == params.Thinking {
				m.Content += params.Content
				return
			}
		}
	}

	group.Messages = append(group.Messages, &Message{
		ID:        p.newID(),
		NodeID:    params.NodeID,
		AgentID:   params.AgentID,
		AgentName: params.AgentName,
		Avatar:    params.Avatar,
		Role:      params.Role,
		Content:   params.Content,
		Streaming: params.Streaming,
		Thinking:  params.Thinking,
		CreatedAt: p.now(),
	})
}

// FinalizeMessages marks streaming messages for a node as done. An
// empty agentID finalizes all of the node's streaming messages;
// otherwise only that agent's. Called explicitly on completion events
// and implicitly by UpdateNodeStatus on a terminal transition.
func (p *Projection) FinalizeMessages(nodeID, agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalizeLocked(nodeID, agentID)
}

// UpdateTokenUsage accumulates a usage report into the session totals,
// the node snapshot, and the usage breakdown of the agent's most
// recent message in the owning group.
func (p *Projection) UpdateTokenUsage(u wire.TokenUsage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.sessionLocked()
	s.TotalTokens += u.TotalTokens()
	s.TotalCostUSD += u.EstimatedCostUSD

	if snap, ok := s.Nodes[u.NodeID]; ok {
		snap.Tokens += u.TotalTokens()
	}

	group, ok := p.groupIndex[p.resolveGroupIDLocked(u.NodeID)]
	if !ok {
		return
	}
	for i := len(group.Messages) - 1; i >= 0; i-- {
		m := group.Messages[i]
		if m.NodeID == u.NodeID && m.AgentID == u.AgentID {
			if m.Usage == nil {
				m.Usage = &Usage{}
			}
			m.Usage.InputTokens += u.InputTokens
			m.Usage.OutputTokens += u.OutputTokens
			m.Usage.CostUSD += u.EstimatedCostUSD
			return
		}
	}
}

// HandleParallelStart registers the branch → parent mapping and
// creates the shared fan-out group. The session's active set becomes
// the branch ids.
func (p *Projection) HandleParallelStart(nodeID string, branches []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.sessionLocked()
	for _, branch := range branches {
		p.parallelParent[branch] = nodeID
	}

	group := p.ensureGroupLocked(nodeID)
	group.Parallel = true
	group.Status = wire.NodeRunning

	if snap, ok := s.Nodes[nodeID]; ok {
		snap.Status = wire.NodeRunning
		if snap.StartedAt == nil {
			now := p.now()
			snap.StartedAt = &now
		}
	}
	s.ActiveNodeIDs = append([]string(nil), branches...)
}

// Clear resets the projection to its empty state.
func (p *Projection) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

// Session returns a deep copy of the current session, or an empty
// idle session when none was initialized.
func (p *Projection) Session() Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return Session{Status: wire.SessionIdle, Nodes: map[string]*NodeSnapshot{}}
	}
	return p.session.clone()
}

// Groups returns a deep copy of the ordered message group list.
func (p *Projection) Groups() []*MessageGroup {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*MessageGroup, len(p.groups))
	for i, g := range p.groups {
		out[i] = g.clone()
	}
	return out
}

// Group returns a deep copy of one group by owning node id.
func (p *Projection) Group(nodeID string) (*MessageGroup, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.groupIndex[nodeID]
	if !ok {
		return nil, false
	}
	return g.clone(), true
}

// ParallelParent resolves a branch node id to its fan-out parent.
func (p *Projection) ParallelParent(nodeID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	parent, ok := p.parallelParent[nodeID]
	return parent, ok
}

// ── internals (caller holds p.mu) ──

func (p *Projection) resetLocked() {
	p.session = nil
	p.groups = nil
	p.groupIndex = make(map[string]*MessageGroup)
	p.parallelParent = make(map[string]string)
}

// sessionLocked returns the live session, creating a placeholder when
// events arrive before InitSession.
func (p *Projection) sessionLocked() *Session {
	if p.session == nil {
		p.session = &Session{Status: wire.SessionIdle, Nodes: make(map[string]*NodeSnapshot)}
	}
	return p.session
}

func (p *Projection) resolveGroupIDLocked(nodeID string) string {
	if parent, ok := p.parallelParent[nodeID]; ok {
		return parent
	}
	return nodeID
}

func (p *Projection) ensureGroupLocked(nodeID string) *MessageGroup {
	if g, ok := p.groupIndex[nodeID]; ok {
		return g
	}
	g := &MessageGroup{NodeID: nodeID, Name: nodeID, Type: wire.TypeAgent, Status: wire.NodeRunning}
	if snap, ok := p.sessionLocked().Nodes[nodeID]; ok {
		g.Name = snap.Name
		g.Type = snap.Type
	}
	p.groups = append(p.groups, g)
	p.groupIndex[nodeID] = g
	return g
}

func (p *Projection) finalizeLocked(nodeID, agentID string) {
	group, ok := p.groupIndex[p.resolveGroupIDLocked(nodeID)]
	if !ok {
		return
	}
	for _, m := range group.Messages {
		if m.NodeID == nodeID && m.Streaming && (agentID == "" || m.AgentID == agentID) {
			m.Streaming = false
		}
	}
}

func (p *Projection) addActiveLocked(nodeID string) {
	s := p.sessionLocked()
	for _, id := range s.ActiveNodeIDs {
		if id == nodeID {
			return
		}
	}
	s.ActiveNodeIDs = append(s.ActiveNodeIDs, nodeID)
}

func (p *Projection) removeActiveLocked(nodeID string) {
	s := p.sessionLocked()
	for i, id := range s.ActiveNodeIDs {
		if id == nodeID {
			s.ActiveNodeIDs = append(s.ActiveNodeIDs[:i], s.ActiveNodeIDs[i+1:]...)
			return
		}
	}
}
