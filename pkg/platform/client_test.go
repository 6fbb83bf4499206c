package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilhq/quorum/pkg/wire"
)

// fakeOrchestrator is a gin-backed stand-in for the platform API.
type fakeOrchestrator struct {
	server   *httptest.Server
	controls []map[string]string
	reviews  []map[string]any
	failNext bool
}

func newFakeOrchestrator(t *testing.T) *fakeOrchestrator {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fakeOrchestrator{}
	r := gin.New()

	r.POST("/api/v1/sessions/:id/control", func(c *gin.Context) {
		if f.failNext {
			f.failNext = false
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "orchestrator busy"})
			return
		}
		var body map[string]string
		require.NoError(t, c.BindJSON(&body))
		f.controls = append(f.controls, body)
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	})
	r.POST("/api/v1/sessions/:id/review", func(c *gin.Context) {
		if f.failNext {
			f.failNext = false
			c.JSON(http.StatusBadGateway, gin.H{"error": "review service down"})
			return
		}
		var body map[string]any
		require.NoError(t, c.BindJSON(&body))
		f.reviews = append(f.reviews, body)
		c.JSON(http.StatusOK, gin.H{"status": "recorded"})
	})
	r.GET("/api/v1/sessions/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, wire.SessionSnapshot{
			SessionID:  c.Param("id"),
			WorkflowID: "w1",
			Status:     wire.SessionRunning,
			Nodes: []wire.NodeState{
				{NodeDecl: wire.NodeDecl{ID: "n1", Name: "Analyst", Type: wire.TypeAgent}, Status: wire.NodeRunning},
			},
			ActiveNodeIDs: []string{"n1"},
		})
	})
	r.GET("/api/v1/agents", func(c *gin.Context) {
		c.JSON(http.StatusOK, []Agent{{ID: "a1", Name: "Analyst", Model: "gpt-5"}})
	})
	r.GET("/api/v1/groups", func(c *gin.Context) {
		c.JSON(http.StatusOK, []Group{{ID: "g1", Name: "Core", AgentIDs: []string{"a1"}}})
	})
	r.GET("/api/v1/templates", func(c *gin.Context) {
		c.JSON(http.StatusOK, []Template{{ID: "t1", Name: "Debate"}})
	})
	r.GET("/api/v1/templates/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, Template{
			ID:   c.Param("id"),
			Name: "Debate",
			Graph: wire.GraphDecl{
				Nodes: []wire.NodeDecl{{ID: "start", Name: "Start", Type: wire.TypeStart}},
			},
		})
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func TestSendControl(t *testing.T) {
	f := newFakeOrchestrator(t)
	client := NewClient(f.server.URL, "")

	require.NoError(t, client.SendControl(context.Background(), "s1", "pause"))
	require.Len(t, f.controls, 1)
	assert.Equal(t, "pause", f.controls[0]["action"])
}

func TestSendControlPropagatesHTTPFailure(t *testing.T) {
	f := newFakeOrchestrator(t)
	f.failNext = true
	client := NewClient(f.server.URL, "")

	err := client.SendControl(context.Background(), "s1", "stop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestSubmitReviewWithData(t *testing.T) {
	f := newFakeOrchestrator(t)
	client := NewClient(f.server.URL, "")

	err := client.SubmitReview(context.Background(), "s1", "modify", map[string]any{"file": "edited.md"})
	require.NoError(t, err)
	require.Len(t, f.reviews, 1)
	assert.Equal(t, "modify", f.reviews[0]["decision"])
	data, ok := f.reviews[0]["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "edited.md", data["file"])
}

func TestGetSessionSnapshot(t *testing.T) {
	f := newFakeOrchestrator(t)
	client := NewClient(f.server.URL, "")

	snap, err := client.GetSession(context.Background(), "s42")
	require.NoError(t, err)
	assert.Equal(t, "s42", snap.SessionID)
	assert.Equal(t, wire.SessionRunning, snap.Status)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, wire.NodeRunning, snap.Nodes[0].Status)
}

func TestCRUDReads(t *testing.T) {
	f := newFakeOrchestrator(t)
	client := NewClient(f.server.URL, "")
	ctx := context.Background()

	agents, err := client.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "Analyst", agents[0].Name)

	groups, err := client.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, groups[0].AgentIDs)

	templates, err := client.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", templates[0].ID)

	tpl, err := client.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, tpl.Graph.Nodes, 1)
	assert.Equal(t, wire.TypeStart, tpl.Graph.Nodes[0].Type)
}

func TestBearerTokenSent(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token")
	_, err := client.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}
