// Package router dispatches decoded wire events into the transcript
// and run-graph projections. The router itself is stateless: every
// event maps to one or more projection calls, applied synchronously in
// arrival order, so neither projection ever observes a half-applied
// update.
package router

import (
	"log/slog"

	"github.com/councilhq/quorum/pkg/rungraph"
	"github.com/councilhq/quorum/pkg/transcript"
	"github.com/councilhq/quorum/pkg/wire"
)

// Router is the single subscriber of the transport connection.
type Router struct {
	transcript *transcript.Projection
	graph      *rungraph.Projection
	logger     *slog.Logger
}

// New creates a router over the two projections.
func New(t *transcript.Projection, g *rungraph.Projection, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{transcript: t, graph: g, logger: logger}
}

// Route applies one inbound event. Bad or unknown input degrades to a
// log line — the router never panics and never halts on a domain error.
func (r *Router) Route(ev wire.Event) {
	switch e := ev.(type) {
	case wire.TokenStream:
		r.transcript.AppendMessage(transcript.AppendParams{
			NodeID:    e.NodeID,
			AgentID:   e.AgentID,
			Role:      transcript.RoleAgent,
			Content:   e.Chunk,
			Streaming: true,
			Chunk:     true,
			Thinking:  e.IsThinking,
		})

	case wire.NodeStateChange:
		r.transcript.UpdateNodeStatus(e.NodeID, e.Status)
		r.graph.UpdateNodeStatus(e.NodeID, e.Status, "")

	case wire.ParallelStart:
		r.transcript.HandleParallelStart(e.NodeID, e.Branches)
		r.graph.SetActiveNodes(e.Branches)

	case wire.TokenUsage:
		r.transcript.UpdateTokenUsage(e)
		r.graph.UpdateNodeTokenUsage(e.NodeID, e.TotalTokens(), e.EstimatedCostUSD)

	case wire.ExecutionPaused:
		r.transcript.UpdateSessionStatus(wire.SessionPaused)
		r.graph.SetExecutionStatus(wire.ExecPaused)

	case wire.ExecutionCompleted:
		r.transcript.UpdateSessionStatus(wire.SessionCompleted)
		r.graph.SetExecutionStatus(wire.ExecCompleted)

	case wire.HumanReviewRequest:
		r.graph.SetHumanReview(&rungraph.ReviewRequest{
			RequestID: e.RequestID,
			NodeID:    e.NodeID,
			Prompt:    e.Prompt,
			Data:      e.Data,
		})

	case wire.ErrorEvent:
		// A named node fails; the run itself keeps going.
		r.logger.Error("Server reported error", "node_id", e.NodeID, "error", e.Error)
		if e.NodeID != "" {
			r.transcript.UpdateNodeStatus(e.NodeID, wire.NodeFailed)
			r.graph.UpdateNodeStatus(e.NodeID, wire.NodeFailed, e.Error)
		}

	default:
		r.logger.Debug("Ignoring unknown event", "event", ev.Kind())
	}
}
