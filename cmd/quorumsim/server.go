package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/councilhq/quorum/pkg/wire"
)

// simMetrics counts replay traffic for the /metrics endpoint.
type simMetrics struct {
	framesSent prometheus.Counter
	controls   *prometheus.CounterVec
	reviews    prometheus.Counter
}

func newSimMetrics(reg prometheus.Registerer) *simMetrics {
	factory := promauto.With(reg)
	return &simMetrics{
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "quorumsim_frames_sent_total",
			Help: "Scenario event frames written to stream subscribers.",
		}),
		controls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quorumsim_control_requests_total",
			Help: "Control requests received, by action.",
		}, []string{"action"}),
		reviews: factory.NewCounter(prometheus.CounterOpts{
			Name: "quorumsim_review_decisions_total",
			Help: "Human review decisions received.",
		}),
	}
}

// Server replays one scenario. Control requests flip the shared run
// state; every connected stream replays the script against that state.
type Server struct {
	scenario *Scenario
	logger   *slog.Logger
	metrics  *simMetrics

	mu       sync.Mutex
	status   wire.SessionStatus
	statuses map[string]wire.NodeStatus
	active   []string
	paused   bool
	stopped  bool
	resumed  chan struct{}
	reviewed chan string
}

func NewServer(scenario *Scenario, logger *slog.Logger, reg prometheus.Registerer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	statuses := make(map[string]wire.NodeStatus, len(scenario.Graph.Nodes))
	for _, n := range scenario.Graph.Nodes {
		statuses[n.ID] = wire.NodePending
	}
	return &Server{
		scenario: scenario,
		logger:   logger,
		metrics:  newSimMetrics(reg),
		status:   wire.SessionRunning,
		statuses: statuses,
		resumed:  make(chan struct{}),
		reviewed: make(chan string, 1),
	}
}

// Routes builds the gin engine with the REST API, the stream endpoint,
// and prometheus metrics.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	api.GET("/sessions/:id", s.getSession)
	api.POST("/sessions/:id/control", s.postControl)
	api.POST("/sessions/:id/review", s.postReview)
	api.GET("/agents", func(c *gin.Context) { c.JSON(http.StatusOK, s.scenario.Agents) })
	api.GET("/groups", func(c *gin.Context) { c.JSON(http.StatusOK, s.scenario.Groups) })
	api.GET("/templates", s.listTemplates)
	api.GET("/templates/:id", s.getTemplate)

	r.GET("/ws", gin.WrapF(s.handleStream))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) getSession(c *gin.Context) {
	if c.Param("id") != s.scenario.SessionID {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	s.mu.Lock()
	snap := wire.SessionSnapshot{
		SessionID:     s.scenario.SessionID,
		WorkflowID:    s.scenario.WorkflowID,
		GroupID:       s.scenario.GroupID,
		Status:        s.status,
		ActiveNodeIDs: append([]string(nil), s.active...),
	}
	for _, n := range s.scenario.Graph.Nodes {
		snap.Nodes = append(snap.Nodes, wire.NodeState{
			NodeDecl: wire.NodeDecl{ID: n.ID, Name: n.Name, Type: wire.NodeType(n.Type)},
			Status:   s.statuses[n.ID],
		})
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, snap)
}

func (s *Server) postControl(c *gin.Context) {
	var body struct {
		Action string `json:"action"`
	}
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.metrics.controls.WithLabelValues(body.Action).Inc()

	s.mu.Lock()
	switch body.Action {
	case "pause":
		s.paused = true
		s.status = wire.SessionPaused
	case "resume":
		if s.paused {
			s.paused = false
			s.status = wire.SessionRunning
			close(s.resumed)
			s.resumed = make(chan struct{})
		}
	case "stop":
		s.stopped = true
		s.status = wire.SessionCancelled
		if s.paused {
			s.paused = false
			close(s.resumed)
			s.resumed = make(chan struct{})
		}
	default:
		s.mu.Unlock()
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown action %q", body.Action)})
		return
	}
	s.mu.Unlock()

	s.logger.Info("Control accepted", "action", body.Action)
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (s *Server) postReview(c *gin.Context) {
	var body struct {
		Decision string         `json:"decision"`
		Data     map[string]any `json:"data"`
	}
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.metrics.reviews.Inc()

	select {
	case s.reviewed <- body.Decision:
	default:
		// No replay is blocked on a review; record and move on.
	}
	s.logger.Info("Review decision received", "decision", body.Decision)
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (s *Server) listTemplates(c *gin.Context) {
	out := make([]gin.H, 0, len(s.scenario.Templates))
	for _, t := range s.scenario.Templates {
		out = append(out, s.templateJSON(t))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getTemplate(c *gin.Context) {
	for _, t := range s.scenario.Templates {
		if t.ID == c.Param("id") {
			c.JSON(http.StatusOK, s.templateJSON(t))
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown template"})
}

func (s *Server) templateJSON(t scenarioTemplate) gin.H {
	graph := wire.GraphDecl{}
	for _, n := range t.Graph.Nodes {
		graph.Nodes = append(graph.Nodes, wire.NodeDecl{ID: n.ID, Name: n.Name, Type: wire.NodeType(n.Type)})
	}
	for _, e := range t.Graph.Edges {
		graph.Edges = append(graph.Edges, wire.EdgeDecl{Source: e.Source, Target: e.Target})
	}
	return gin.H{"id": t.ID, "name": t.Name, "description": t.Description, "graph": graph}
}

// handleStream upgrades to WebSocket and replays the scenario timeline
// to this subscriber.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "replay finished")

	s.logger.Info("Stream subscriber connected",
		"session_id", r.URL.Query().Get("session_id"), "remote", r.RemoteAddr)

	// Service inbound frames (commands, pings) so control flow works.
	readCtx, cancelRead := context.WithCancel(r.Context())
	defer cancelRead()
	go func() {
		for {
			if _, _, err := conn.Read(readCtx); err != nil {
				return
			}
		}
	}()

	if err := s.replay(r.Context(), conn); err != nil {
		s.logger.Warn("Replay ended early", "error", err)
	}
}

// replay walks the scripted steps, honoring pause, stop, and review
// gates between frames.
func (s *Server) replay(ctx context.Context, conn *websocket.Conn) error {
	for i, step := range s.scenario.Steps {
		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(step.Delay)):
			}
		}

		if step.WaitReview {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case decision := <-s.reviewed:
				s.logger.Info("Replay unblocked by review", "step", i, "decision", decision)
			}
		}

		if err := s.gate(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return s.sendStopped(ctx, conn)
		}

		if len(step.Event) == 0 {
			continue
		}
		frame, err := step.Frame()
		if err != nil {
			return fmt.Errorf("render step %d: %w", i, err)
		}
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			return fmt.Errorf("write step %d: %w", i, err)
		}
		s.metrics.framesSent.Inc()
		s.track(step.Event)
	}

	s.mu.Lock()
	if !s.status.Terminal() {
		s.status = wire.SessionCompleted
	}
	s.mu.Unlock()
	return nil
}

// gate blocks while paused. Pausing flips the snapshot status, so a
// client that reconnects mid-pause still sees the paused session.
func (s *Server) gate(ctx context.Context) error {
	for {
		s.mu.Lock()
		paused := s.paused
		resumed := s.resumed
		s.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resumed:
		}
	}
}

func (s *Server) sendStopped(ctx context.Context, conn *websocket.Conn) error {
	frame := []byte(fmt.Sprintf(
		`{"event":%q,"timestamp":%q,"data":{"error":"stopped by operator"}}`,
		wire.EventError, time.Now().UTC().Format(time.RFC3339)))
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return err
	}
	s.metrics.framesSent.Inc()
	return nil
}

// track mirrors emitted events into the snapshot state so GET /sessions
// stays consistent with what subscribers saw.
func (s *Server) track(event map[string]any) {
	kind, _ := event["event"].(string)
	nodeID, _ := event["node_id"].(string)
	data, _ := event["data"].(map[string]any)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case wire.EventNodeStateChange:
		status, _ := data["status"].(string)
		if nodeID == "" {
			if id, ok := data["node_id"].(string); ok {
				nodeID = id
			}
		}
		if nodeID == "" || status == "" {
			return
		}
		s.statuses[nodeID] = wire.NodeStatus(status)
		if wire.NodeStatus(status) == wire.NodeRunning {
			s.active = appendUnique(s.active, nodeID)
		} else if wire.NodeStatus(status).Terminal() {
			s.active = removeID(s.active, nodeID)
		}
	case wire.EventParallelStart:
		branches, _ := data["branches"].([]any)
		s.active = s.active[:0]
		for _, b := range branches {
			if id, ok := b.(string); ok {
				s.active = append(s.active, id)
			}
		}
	case wire.EventExecutionPaused:
		s.status = wire.SessionPaused
	case wire.EventExecutionCompleted:
		s.status = wire.SessionCompleted
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
