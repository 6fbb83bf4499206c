// Package platform is the request/response client for the council
// orchestration server: run control, human-review submission, and
// read-only CRUD consumption (agents, groups, templates, workflows).
// Only the payload shapes matter here — persistence lives server-side.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/councilhq/quorum/pkg/wire"
)

// Agent is a council member definition.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Group is a named set of agents.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	AgentIDs []string `json:"agent_ids"`
}

// Template is a reusable workflow definition with an embedded graph
// declaration.
type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Graph       wire.GraphDecl `json:"graph"`
}

// Client provides HTTP access to the orchestration server's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	logger     *slog.Logger
}

// NewClient creates an HTTP client for the given base URL. token may
// be empty when the server runs without auth (local development).
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		logger:     slog.Default(),
	}
}

// SendControl posts a pause/resume/stop action for a session.
func (c *Client) SendControl(ctx context.Context, sessionID, action string) error {
	path := fmt.Sprintf("/api/v1/sessions/%s/control", sessionID)
	return c.doJSON(ctx, http.MethodPost, path, map[string]string{"action": action}, nil)
}

// SubmitReview posts a human-review decision for a session, with
// optional structured data (e.g. edited file content on "modify").
func (c *Client) SubmitReview(ctx context.Context, sessionID, decision string, data map[string]any) error {
	path := fmt.Sprintf("/api/v1/sessions/%s/review", sessionID)
	body := map[string]any{"decision": decision}
	if len(data) > 0 {
		body["data"] = data
	}
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// GetSession fetches the server's full session snapshot, used to seed
// the transcript projection on start and after a reconnect.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*wire.SessionSnapshot, error) {
	var snap wire.SessionSnapshot
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListAgents fetches all agent definitions.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListGroups fetches all agent groups.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var out []Group
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/groups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTemplates fetches all workflow templates.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var out []Template
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/templates", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTemplate fetches one template, including its graph declaration.
func (c *Client) GetTemplate(ctx context.Context, templateID string) (*Template, error) {
	var out Template
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/templates/"+templateID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON performs one request with a JSON body and decodes a JSON
// response into out (skipped when out is nil). Non-2xx responses are
// returned as errors carrying the status and a body excerpt.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, excerpt)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
