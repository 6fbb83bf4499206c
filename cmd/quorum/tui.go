package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/councilhq/quorum/pkg/platform"
	"github.com/councilhq/quorum/pkg/rungraph"
	"github.com/councilhq/quorum/pkg/transcript"
	"github.com/councilhq/quorum/pkg/transport"
	"github.com/councilhq/quorum/pkg/wire"
)

const refreshInterval = 250 * time.Millisecond

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	agentStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	thinkStyle   = lipgloss.NewStyle().Faint(true).Italic(true)
	reviewStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("220")).Padding(0, 1)
	footerStyle = lipgloss.NewStyle().Faint(true)
	paneStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

// eventMsg nudges a re-render after the router applied an inbound event.
type eventMsg struct{}

// tickMsg drives periodic refresh (elapsed time, reconnect detection).
type tickMsg time.Time

// controlDoneMsg reports the outcome of an async control/review request.
type controlDoneMsg struct {
	action string
	err    error
}

// resyncDoneMsg reports a post-reconnect snapshot refresh.
type resyncDoneMsg struct{ err error }

type watchModel struct {
	sessionID string
	client    *transport.Client
	api       *platform.Client
	messages  *transcript.Projection
	graph     *rungraph.Projection

	viewport   viewport.Model
	input      textinput.Model
	inputting  bool
	width      int
	height     int
	ready      bool
	lastStatus transport.Status
	notice     string
}

func newWatchModel(sessionID string, client *transport.Client, api *platform.Client,
	messages *transcript.Projection, graph *rungraph.Projection) *watchModel {
	input := textinput.New()
	input.Placeholder = "message to the council"
	input.CharLimit = 2000
	return &watchModel{
		sessionID:  sessionID,
		client:     client,
		api:        api,
		messages:   messages,
		graph:      graph,
		input:      input,
		lastStatus: transport.StatusDisconnected,
	}
}

func (m *watchModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - m.chromeHeight()
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.refreshTranscript()
		return m, nil

	case tickMsg:
		status := m.client.Status()
		var cmd tea.Cmd
		if status == transport.StatusConnected && m.lastStatus != transport.StatusConnected {
			// Reconnected: the stream may have gapped, so refetch.
			cmd = m.resync()
		}
		m.lastStatus = status
		return m, tea.Batch(tick(), cmd)

	case controlDoneMsg:
		if msg.err != nil {
			m.notice = errorStyle.Render(fmt.Sprintf("%s failed: %v", msg.action, msg.err))
		} else {
			m.notice = statusStyle.Render(msg.action + " confirmed")
		}
		return m, nil

	case resyncDoneMsg:
		if msg.err != nil {
			m.notice = errorStyle.Render(fmt.Sprintf("resync failed: %v", msg.err))
		} else {
			m.notice = statusStyle.Render("resynced after reconnect")
			m.refreshTranscript()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *watchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.inputting {
		switch msg.String() {
		case "esc":
			m.inputting = false
			m.input.Blur()
			m.input.Reset()
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.inputting = false
			m.input.Blur()
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			return m, m.sendInput(text)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "i":
		m.inputting = true
		m.input.Focus()
		return m, textinput.Blink
	case "p":
		return m, m.control(rungraph.ControlPause)
	case "r":
		return m, m.control(rungraph.ControlResume)
	case "s":
		return m, m.control(rungraph.ControlStop)
	case "y":
		return m, m.review(rungraph.DecisionApprove)
	case "n":
		return m, m.review(rungraph.DecisionReject)
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *watchModel) control(action rungraph.ControlAction) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := m.graph.SendControl(ctx, m.sessionID, action)
		return controlDoneMsg{action: string(action), err: err}
	}
}

func (m *watchModel) review(decision rungraph.Decision) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := m.graph.SubmitHumanReview(ctx, m.sessionID, decision, nil)
		return controlDoneMsg{action: "review " + string(decision), err: err}
	}
}

// sendInput ships a user message over the streaming channel. Delivery
// is at-most-once; while disconnected the transport drops the command.
func (m *watchModel) sendInput(text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := m.client.Send(ctx, wire.Command{
			Cmd:  wire.CmdUserInput,
			Data: map[string]string{"session_id": m.sessionID, "content": text},
		})
		return controlDoneMsg{action: "input sent", err: err}
	}
}

func (m *watchModel) resync() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return resyncDoneMsg{err: resyncSession(ctx, m.api, m.messages, m.graph, m.sessionID)}
	}
}

// chromeHeight is the vertical space used by everything except the
// transcript viewport.
func (m *watchModel) chromeHeight() int {
	h := 2 + 2 // header + footer
	h += len(m.graph.Snapshot().Nodes) + 2
	if m.graph.HumanReview() != nil {
		h += 3
	}
	return h
}

func (m *watchModel) refreshTranscript() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *watchModel) renderTranscript() string {
	var b strings.Builder
	for _, group := range m.messages.Groups() {
		title := group.Name
		if group.Parallel {
			title += " (parallel)"
		}
		b.WriteString(headerStyle.Render("── "+title+" ") + "\n")
		for _, msg := range group.Messages {
			name := msg.AgentName
			if name == "" {
				name = msg.AgentID
			}
			if name == "" {
				name = string(msg.Role)
			}
			cursor := ""
			if msg.Streaming {
				cursor = "▌"
			}
			content := msg.Content + cursor
			if msg.Thinking {
				content = thinkStyle.Render(content)
			}
			b.WriteString(agentStyle.Render(name+": ") + content + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *watchModel) View() string {
	if !m.ready {
		return "initializing..."
	}

	graph := m.graph.Snapshot()
	sess := m.messages.Session()

	header := headerStyle.Render("quorum · "+m.sessionID) + "  " +
		statusStyle.Render(fmt.Sprintf("session=%s exec=%s link=%s",
			sess.Status, graph.Execution, m.client.Status()))
	stats := statusStyle.Render(fmt.Sprintf(
		"nodes %d/%d done, %d failed · %d tokens · $%.4f · %s elapsed",
		graph.Stats.CompletedNodes, graph.Stats.TotalNodes, graph.Stats.FailedNodes,
		graph.Stats.TotalTokens, graph.Stats.TotalCostUSD,
		(time.Duration(graph.Stats.ElapsedMS) * time.Millisecond).Round(time.Second)))

	var parts []string
	parts = append(parts, header, stats, m.viewport.View(), m.renderNodes(graph))

	if review := graph.Review; review != nil {
		parts = append(parts, reviewStyle.Render(
			fmt.Sprintf("Review requested (%s): %s  [y approve / n reject]", review.NodeID, review.Prompt)))
	}
	if m.notice != "" {
		parts = append(parts, m.notice)
	}
	if err := m.client.LastErr(); err != nil {
		parts = append(parts, errorStyle.Render("transport: "+err.Error()))
	}
	if m.inputting {
		parts = append(parts, m.input.View())
	}
	parts = append(parts, footerStyle.Render("i input · p pause · r resume · s stop · y/n review · q quit"))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *watchModel) renderNodes(graph rungraph.Graph) string {
	active := make(map[string]bool, len(graph.ActiveNodeIDs))
	for _, id := range graph.ActiveNodeIDs {
		active[id] = true
	}

	lines := make([]string, 0, len(graph.Nodes))
	for _, n := range graph.Nodes {
		marker := "○"
		label := n.Label
		if label == "" {
			label = n.ID
		}
		line := fmt.Sprintf("%s %s [%s]", marker, label, n.Status)
		switch {
		case n.Status == wire.NodeRunning || active[n.ID]:
			line = runningStyle.Render("● " + label + " [" + string(n.Status) + "]")
		case n.Status == wire.NodeCompleted:
			line = doneStyle.Render("✓ " + label)
		case n.Status == wire.NodeFailed:
			line = failedStyle.Render("✗ " + label + " " + n.Error)
		}
		if n.Tokens > 0 {
			line += statusStyle.Render(fmt.Sprintf("  %d tok", n.Tokens))
		}
		lines = append(lines, line)
	}
	return paneStyle.Width(m.width - 2).Render(strings.Join(lines, "\n"))
}
