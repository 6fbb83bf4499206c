// Package rungraph maintains the live-annotated graph projection of a
// running council workflow: per-node visual status, the active-node
// set (multiple members during parallel execution), run-level
// execution status, aggregate stats, elapsed-time ticking, and the
// outbound control and human-review lifecycles.
package rungraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/councilhq/quorum/pkg/layout"
	"github.com/councilhq/quorum/pkg/wire"
)

// tickInterval is how often the elapsed-time stat is recomputed from
// the captured start instant while the timer runs.
const tickInterval = 100 * time.Millisecond

// ControlAction is an out-of-band run control verb, sent over HTTP
// rather than the streaming channel.
type ControlAction string

const (
	ControlPause  ControlAction = "pause"
	ControlResume ControlAction = "resume"
	ControlStop   ControlAction = "stop"
)

// Decision is a human-review verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionModify  Decision = "modify"
)

// ErrNoReviewPending is returned by SubmitHumanReview when no review
// request is outstanding.
var ErrNoReviewPending = errors.New("rungraph: no human review pending")

// ControlSender issues control and review requests to the
// orchestration server. Implemented by platform.Client.
type ControlSender interface {
	SendControl(ctx context.Context, sessionID, action string) error
	SubmitReview(ctx context.Context, sessionID, decision string, data map[string]any) error
}

// Node is one positioned, status-annotated node on the canvas.
type Node struct {
	ID      string          `json:"id"`
	Type    wire.NodeType   `json:"type"`
	Label   string          `json:"label"`
	Status  wire.NodeStatus `json:"status"`
	Error   string          `json:"error,omitempty"`
	X       float64         `json:"x"`
	Y       float64         `json:"y"`
	Tokens  int             `json:"tokens,omitempty"`
	CostUSD float64         `json:"cost_usd,omitempty"`
}

// Edge is one rendered connection.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Stats aggregates run-level counters for the stats bar.
type Stats struct {
	TotalNodes     int     `json:"total_nodes"`
	CompletedNodes int     `json:"completed_nodes"`
	FailedNodes    int     `json:"failed_nodes"`
	TotalTokens    int     `json:"total_tokens"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	ElapsedMS      int64   `json:"elapsed_ms"`
}

// ReviewRequest is a pending human-review interrupt.
type ReviewRequest struct {
	RequestID string         `json:"request_id"`
	NodeID    string         `json:"node_id"`
	Prompt    string         `json:"prompt"`
	Data      map[string]any `json:"data,omitempty"`
}

// Graph is a read snapshot of the whole projection.
type Graph struct {
	Nodes         []Node
	Edges         []Edge
	ActiveNodeIDs []string
	Execution     wire.ExecutionStatus
	Stats         Stats
	Review        *ReviewRequest
}

// Projection folds routed events into the graph view model and issues
// outbound control/review requests.
type Projection struct {
	logger   *slog.Logger
	control  ControlSender
	layoutFn func(wire.GraphDecl) layout.Result

	mu        sync.RWMutex
	nodes     []*Node
	nodeIndex map[string]*Node
	edges     []Edge
	active    []string
	execution wire.ExecutionStatus
	stats     Stats
	// counted holds node ids already counted toward completed/failed,
	// so a duplicate terminal status event cannot double-count.
	counted map[string]bool
	review  *ReviewRequest

	timerStop chan struct{}
	startedAt time.Time
	now       func() time.Time
}

// NewProjection creates an empty graph projection. control may be nil
// for read-only consumers (SendControl/SubmitHumanReview then fail).
func NewProjection(control ControlSender, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Projection{
		logger:   logger,
		control:  control,
		layoutFn: layout.Layered,
		now:      time.Now,
	}
	p.clearLocked()
	return p
}

// LoadWorkflow replaces the visual graph. Every node starts pending
// and all counters, the active set, the counted-id set, the review
// request, and the timer are reset.
func (p *Projection) LoadWorkflow(nodes []Node, edges []Edge) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearLocked()
	p.nodes = make([]*Node, len(nodes))
	p.nodeIndex = make(map[string]*Node, len(nodes))
	for i := range nodes {
		n := nodes[i]
		n.Status = wire.NodePending
		n.Error = ""
		p.nodes[i] = &n
		p.nodeIndex[n.ID] = &n
	}
	p.edges = append([]Edge(nil), edges...)
	p.stats.TotalNodes = len(nodes)
}

// SetGraphFromTemplate lays out a declarative graph (templates embed
// one) and loads it. The layout function is pure, so reloading the
// same template yields the same canvas.
func (p *Projection) SetGraphFromTemplate(decl wire.GraphDecl) {
	res := p.layoutFn(decl)
	nodes := make([]Node, len(res.Nodes))
	for i, n := range res.Nodes {
		nodes[i] = Node{ID: n.ID, Type: n.Type, Label: n.Label, X: n.X, Y: n.Y}
	}
	edges := make([]Edge, len(res.Edges))
	for i, e := range res.Edges {
		edges[i] = Edge{ID: e.ID, Source: e.Source, Target: e.Target}
	}
	p.LoadWorkflow(nodes, edges)
}

// ClearWorkflow empties the projection and cancels any live timer.
func (p *Projection) ClearWorkflow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
}

// UpdateNodeStatus mutates a node's visual status. Running adds the
// node to the active set; a terminal status removes it and counts the
// node toward the completed/failed stat at most once, no matter how
// many duplicate terminal events arrive.
func (p *Projection) UpdateNodeStatus(nodeID string, status wire.NodeStatus, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node, ok := p.nodeIndex[nodeID]
	if !ok {
		p.logger.Debug("Status event for node not on canvas", "node_id", nodeID, "status", status)
		return
	}

	node.Status = status
	if errMsg != "" {
		node.Error = errMsg
	}

	switch {
	case status == wire.NodeRunning:
		p.addActiveLocked(nodeID)
	case status.Terminal():
		p.removeActiveLocked(nodeID)
		if !p.counted[nodeID] {
			p.counted[nodeID] = true
			if status == wire.NodeCompleted {
				p.stats.CompletedNodes++
			} else {
				p.stats.FailedNodes++
			}
		}
	}
}

// AddActiveNode adds a node id to the active set (single-node highlight).
func (p *Projection) AddActiveNode(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addActiveLocked(nodeID)
}

// RemoveActiveNode removes a node id from the active set.
func (p *Projection) RemoveActiveNode(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeActiveLocked(nodeID)
}

// SetActiveNodes replaces the active set, used on parallel fan-out.
func (p *Projection) SetActiveNodes(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = append([]string(nil), ids...)
}

// UpdateNodeTokenUsage accumulates tokens/cost into the node and the
// run totals.
func (p *Projection) UpdateNodeTokenUsage(nodeID string, tokens int, costUSD float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if node, ok := p.nodeIndex[nodeID]; ok {
		node.Tokens += tokens
		node.CostUSD += costUSD
	}
	p.stats.TotalTokens += tokens
	p.stats.TotalCostUSD += costUSD
}

// SetExecutionStatus sets the run-level status. Terminal statuses stop
// the elapsed-time ticker.
func (p *Projection) SetExecutionStatus(status wire.ExecutionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.execution = status
	if status == wire.ExecCompleted || status == wire.ExecFailed {
		p.stopTimerLocked()
	}
}

// SendControl issues a pause/resume/stop request over HTTP. Local
// execution status changes only after the server confirms; a failed
// request propagates the error and leaves prior status in place.
func (p *Projection) SendControl(ctx context.Context, sessionID string, action ControlAction) error {
	if p.control == nil {
		return fmt.Errorf("rungraph: no control sender configured")
	}
	switch action {
	case ControlPause, ControlResume, ControlStop:
	default:
		return fmt.Errorf("rungraph: unknown control action %q", action)
	}

	if err := p.control.SendControl(ctx, sessionID, string(action)); err != nil {
		return fmt.Errorf("control %s: %w", action, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch action {
	case ControlPause:
		p.execution = wire.ExecPaused
	case ControlResume:
		p.execution = wire.ExecRunning
	case ControlStop:
		p.execution = wire.ExecFailed
		p.stopTimerLocked()
	}
	return nil
}

// SetHumanReview stores the pending review request. At most one is
// outstanding; a newer request replaces an older one.
func (p *Projection) SetHumanReview(req *ReviewRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.review = req
}

// HumanReview returns a copy of the pending review request, if any.
func (p *Projection) HumanReview() *ReviewRequest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyReview(p.review)
}

// SubmitHumanReview posts the decision for the pending request. The
// request clears on success and stays pending on failure so the UI
// can retry.
func (p *Projection) SubmitHumanReview(ctx context.Context, sessionID string, decision Decision, data map[string]any) error {
	if p.control == nil {
		return fmt.Errorf("rungraph: no control sender configured")
	}

	p.mu.RLock()
	pending := p.review
	p.mu.RUnlock()
	if pending == nil {
		return ErrNoReviewPending
	}

	if err := p.control.SubmitReview(ctx, sessionID, string(decision), data); err != nil {
		return fmt.Errorf("submit review %s: %w", decision, err)
	}

	p.mu.Lock()
	p.review = nil
	p.mu.Unlock()
	return nil
}

// StartTimer starts the elapsed-time ticker from zero. Starting always
// resets elapsed time — this is a restart, not a resume — and cancels
// any previously live timer first, so at most one runs.
func (p *Projection) StartTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTimerLocked()
	p.startedAt = p.now()
	p.stats.ElapsedMS = 0

	stop := make(chan struct{})
	p.timerStop = stop
	go p.tickLoop(stop)
}

// StopTimer cancels the ticker, freezing the elapsed stat. Idempotent.
func (p *Projection) StopTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
}

// Snapshot returns a deep copy of the projection state.
func (p *Projection) Snapshot() Graph {
	p.mu.RLock()
	defer p.mu.RUnlock()

	g := Graph{
		Nodes:         make([]Node, len(p.nodes)),
		Edges:         append([]Edge(nil), p.edges...),
		ActiveNodeIDs: append([]string(nil), p.active...),
		Execution:     p.execution,
		Stats:         p.stats,
		Review:        copyReview(p.review),
	}
	for i, n := range p.nodes {
		g.Nodes[i] = *n
	}
	return g
}

// Node returns a copy of one node by id.
func (p *Projection) Node(nodeID string) (Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodeIndex[nodeID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// ExecutionStatus returns the run-level status.
func (p *Projection) ExecutionStatus() wire.ExecutionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.execution
}

// ── internals (caller holds p.mu) ──

func (p *Projection) clearLocked() {
	p.stopTimerLocked()
	p.nodes = nil
	p.nodeIndex = make(map[string]*Node)
	p.edges = nil
	p.active = nil
	p.execution = wire.ExecIdle
	p.stats = Stats{}
	p.counted = make(map[string]bool)
	p.review = nil
}

func (p *Projection) addActiveLocked(nodeID string) {
	for _, id := range p.active {
		if id == nodeID {
			return
		}
	}
	p.active = append(p.active, nodeID)
}

func (p *Projection) removeActiveLocked(nodeID string) {
	for i, id := range p.active {
		if id == nodeID {
			p.active = append(p.active[:i], p.active[i+1:]...)
			return
		}
	}
}

func (p *Projection) stopTimerLocked() {
	if p.timerStop != nil {
		close(p.timerStop)
		p.timerStop = nil
	}
}

// tickLoop recomputes elapsed milliseconds from the captured start
// instant until stopped.
func (p *Projection) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.timerStop == nil {
				p.mu.Unlock()
				return
			}
			p.stats.ElapsedMS = p.now().Sub(p.startedAt).Milliseconds()
			p.mu.Unlock()
		}
	}
}

func copyReview(r *ReviewRequest) *ReviewRequest {
	if r == nil {
		return nil
	}
	out := *r
	if r.Data != nil {
		out.Data = make(map[string]any, len(r.Data))
		for k, v := range r.Data {
			out.Data[k] = v
		}
	}
	return &out
}
