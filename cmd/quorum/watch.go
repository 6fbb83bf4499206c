package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/councilhq/quorum/pkg/metrics"
	"github.com/councilhq/quorum/pkg/platform"
	"github.com/councilhq/quorum/pkg/router"
	"github.com/councilhq/quorum/pkg/rungraph"
	"github.com/councilhq/quorum/pkg/transcript"
	"github.com/councilhq/quorum/pkg/transport"
	"github.com/councilhq/quorum/pkg/wire"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a running session in a live dashboard",
	Long: `Watch opens the streaming channel for a session and renders the
transcript, the execution graph, and run stats in the terminal.
Keys: i send input, p pause, r resume, s stop, y approve review,
n reject review, q quit.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	api := platform.NewClient(cfg.ServerURL, cfg.APIToken)

	transcriptProj := transcript.NewProjection(logger)
	graphProj := rungraph.NewProjection(api, logger)
	eventRouter := router.New(transcriptProj, graphProj, logger)

	client := transport.NewClient(transport.Options{
		URL:                  streamURLFor(cfg.StreamURL, sessionID),
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Metrics:              metrics.NewTransport(nil),
		Logger:               logger,
	})

	// Seed both projections from the server snapshot before streaming.
	ctx := cmd.Context()
	snap, err := api.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("fetch session %s: %w", sessionID, err)
	}
	seedProjections(transcriptProj, graphProj, snap)

	model := newWatchModel(sessionID, client, api, transcriptProj, graphProj)
	program := tea.NewProgram(model, tea.WithAltScreen())

	// Events mutate the projections synchronously on the read loop and
	// then nudge the TUI to re-render.
	client.SetHandler(func(ev wire.Event) {
		eventRouter.Route(ev)
		program.Send(eventMsg{})
	})

	if err := client.Connect(ctx); err != nil {
		logger.Warn("Initial connect failed, reconnecting in background", "error", err)
	}
	defer client.Disconnect()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}

// streamURLFor appends the session id to the streaming endpoint.
func streamURLFor(base, sessionID string) string {
	return base + "?session_id=" + url.QueryEscape(sessionID)
}

// seedProjections applies a server snapshot to both projections, used
// on startup and after a reconnect to recover missed state.
func seedProjections(tp *transcript.Projection, gp *rungraph.Projection, snap *wire.SessionSnapshot) {
	tp.InitSession(*snap)

	nodes := make([]rungraph.Node, len(snap.Nodes))
	ids := make([]string, 0, len(snap.Nodes))
	for i, n := range snap.Nodes {
		nodes[i] = rungraph.Node{ID: n.ID, Type: n.Type, Label: n.Name}
		if n.Status == wire.NodeRunning {
			ids = append(ids, n.ID)
		}
	}
	gp.LoadWorkflow(nodes, nil)
	for _, n := range snap.Nodes {
		if n.Status != wire.NodePending {
			gp.UpdateNodeStatus(n.ID, n.Status, "")
		}
	}
	if len(snap.ActiveNodeIDs) > 0 {
		gp.SetActiveNodes(snap.ActiveNodeIDs)
	} else if len(ids) > 0 {
		gp.SetActiveNodes(ids)
	}

	switch snap.Status {
	case wire.SessionRunning:
		gp.SetExecutionStatus(wire.ExecRunning)
		gp.StartTimer()
	case wire.SessionPaused:
		gp.SetExecutionStatus(wire.ExecPaused)
	case wire.SessionCompleted:
		gp.SetExecutionStatus(wire.ExecCompleted)
	case wire.SessionFailed, wire.SessionCancelled:
		gp.SetExecutionStatus(wire.ExecFailed)
	}
}

// resyncSession refetches the snapshot after a reconnect.
func resyncSession(ctx context.Context, api *platform.Client, tp *transcript.Projection, gp *rungraph.Projection, sessionID string) error {
	snap, err := api.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("resync session %s: %w", sessionID, err)
	}
	seedProjections(tp, gp, snap)
	return nil
}
